package lib

import (
	"encoding/hex"
	"encoding/json"

	"github.com/canopy-network/fastpath/lib/crypto"
)

// EffectsDigest identifies one exact set of transaction effects
type EffectsDigest [DigestSize]byte

func (d EffectsDigest) String() string               { return hex.EncodeToString(d[:]) }
func (d EffectsDigest) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
func (d *EffectsDigest) UnmarshalJSON(b []byte) error {
	return fixedUnmarshalJSON(b, d[:], "effects digest")
}

// GasCostSummary breaks down what a transaction paid
type GasCostSummary struct {
	ComputationCost uint64 `codec:"computationCost" json:"computationCost"`
	StorageCost     uint64 `codec:"storageCost" json:"storageCost"`
	StorageRebate   uint64 `codec:"storageRebate" json:"storageRebate"`
}

// GasUsed() is the amount deducted from the gas object before the rebate is credited
func (g GasCostSummary) GasUsed() uint64 { return g.ComputationCost + g.StorageCost }

// ExecutionStatus is the outcome of execution; failures are still charged and still produce effects
type ExecutionStatus struct {
	Success      bool           `codec:"success" json:"success"`
	GasCost      GasCostSummary `codec:"gasCost" json:"gasCost"`
	ErrorModule  ErrorModule    `codec:"errorModule" json:"errorModule,omitempty"`
	ErrorCode    ErrorCode      `codec:"errorCode" json:"errorCode,omitempty"`
	ErrorMessage string         `codec:"errorMessage" json:"errorMessage,omitempty"`
}

// NewSuccessStatus() creates a successful status
func NewSuccessStatus(gas GasCostSummary) ExecutionStatus {
	return ExecutionStatus{Success: true, GasCost: gas}
}

// NewFailureStatus() creates a failed status carrying the error
func NewFailureStatus(gas GasCostSummary, err ErrorI) ExecutionStatus {
	s := ExecutionStatus{GasCost: gas, ErrorModule: err.Module(), ErrorCode: err.Code(), ErrorMessage: err.Error()}
	if e, ok := err.(*Error); ok {
		s.ErrorMessage = e.Msg
	}
	return s
}

// Err() returns the failure as an error; nil if successful
func (s ExecutionStatus) Err() ErrorI {
	if s.Success {
		return nil
	}
	return NewError(s.ErrorCode, s.ErrorModule, s.ErrorMessage)
}

// TransactionEffects is the deterministic outcome of executing a certificate; every list is sorted by object id
type TransactionEffects struct {
	Status            ExecutionStatus     `codec:"status" json:"status"`
	TransactionDigest TransactionDigest   `codec:"txDigest" json:"txDigest"`
	Created           []OwnedObjectRef    `codec:"created" json:"created"`
	Mutated           []OwnedObjectRef    `codec:"mutated" json:"mutated"`
	Deleted           []ObjectRef         `codec:"deleted" json:"deleted"`
	GasObject         OwnedObjectRef      `codec:"gasObject" json:"gasObject"`
	Dependencies      []TransactionDigest `codec:"dependencies" json:"dependencies"`
}

// Digest() hashes the canonical encoding of the effects
func (e *TransactionEffects) Digest() (d EffectsDigest) {
	copy(d[:], crypto.Hash(MustMarshal(e)))
	return
}

// MutatedExcludingGas() returns the mutated objects other than the gas object
func (e *TransactionEffects) MutatedExcludingGas() (out []OwnedObjectRef) {
	for _, m := range e.Mutated {
		if m.Reference.ID != e.GasObject.Reference.ID {
			out = append(out, m)
		}
	}
	return
}

// AllChanged() returns every created and mutated object reference
func (e *TransactionEffects) AllChanged() []OwnedObjectRef {
	return append(append([]OwnedObjectRef{}, e.Created...), e.Mutated...)
}

// SignedTransactionEffects is an authority's vote on the effects of a certificate
type SignedTransactionEffects struct {
	Effects       TransactionEffects `codec:"effects" json:"effects"`
	Epoch         EpochID            `codec:"epoch" json:"epoch"`
	AuthSignature AuthoritySignature `codec:"authSignature" json:"authSignature"`
}

// NewSignedTransactionEffects() signs the digest of the effects
func NewSignedTransactionEffects(effects *TransactionEffects, epoch EpochID, name AuthorityName, key crypto.PrivateKeyI) *SignedTransactionEffects {
	digest := effects.Digest()
	return &SignedTransactionEffects{
		Effects: *effects,
		Epoch:   epoch,
		AuthSignature: AuthoritySignature{
			Authority: name,
			Signature: key.Sign(intentSignBytes(IntentEffects, digest[:], epoch)),
		},
	}
}

// Digest() returns the digest of the signed effects
func (s *SignedTransactionEffects) Digest() EffectsDigest { return s.Effects.Digest() }

// Verify() checks the vote is by a committee member of the epoch
func (s *SignedTransactionEffects) Verify(c *Committee) ErrorI {
	if s.Epoch != c.Epoch {
		return ErrWrongEpoch(c.Epoch, s.Epoch)
	}
	pub, err := c.PublicKey(s.AuthSignature.Authority)
	if err != nil {
		return err
	}
	digest := s.Digest()
	if !pub.VerifyBytes(intentSignBytes(IntentEffects, digest[:], s.Epoch), s.AuthSignature.Signature) {
		return ErrInvalidSignature()
	}
	return nil
}
