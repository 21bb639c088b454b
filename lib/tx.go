package lib

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/canopy-network/fastpath/lib/crypto"
)

// TransactionDigest identifies a transaction; the hash of its signed data
type TransactionDigest [DigestSize]byte

// GenesisTransactionDigest is the previous transaction of every genesis object
var GenesisTransactionDigest = TransactionDigest{}

func (d TransactionDigest) Bytes() []byte                 { return d[:] }
func (d TransactionDigest) String() string                { return hex.EncodeToString(d[:]) }
func (d TransactionDigest) Less(o TransactionDigest) bool { return bytes.Compare(d[:], o[:]) < 0 }
func (d TransactionDigest) MarshalJSON() ([]byte, error)  { return json.Marshal(d.String()) }
func (d *TransactionDigest) UnmarshalJSON(b []byte) error {
	return fixedUnmarshalJSON(b, d[:], "transaction digest")
}

// NewTransactionDigestFromString() decodes a hex transaction digest
func NewTransactionDigestFromString(s string) (d TransactionDigest, err ErrorI) {
	err = fixedFromHex(s, d[:], "transaction digest")
	return
}

// Transfer moves an address owned object to the recipient
type Transfer struct {
	Recipient Address   `codec:"recipient" json:"recipient"`
	Object    ObjectRef `codec:"object" json:"object"`
}

// MoveCall invokes a function of a published package
type MoveCall struct {
	Package         ObjectRef   `codec:"package" json:"package"`
	Module          string      `codec:"module" json:"module"`
	Function        string      `codec:"function" json:"function"`
	TypeArguments   []string    `codec:"typeArgs" json:"typeArgs"`
	ObjectArguments []ObjectRef `codec:"objectArgs" json:"objectArgs"`
	PureArguments   []HexBytes  `codec:"pureArgs" json:"pureArgs"`
}

// MoveModulePublish creates a new immutable package from the modules
type MoveModulePublish struct {
	Modules []Module `codec:"modules" json:"modules"`
}

// SingleTransactionKind is one operation of a transaction; exactly one field is set
type SingleTransactionKind struct {
	Transfer *Transfer          `codec:"transfer" json:"transfer,omitempty"`
	Call     *MoveCall          `codec:"call" json:"call,omitempty"`
	Publish  *MoveModulePublish `codec:"publish" json:"publish,omitempty"`
}

// InputKind distinguishes a package dependency from an object consumed by reference
type InputKind uint8

const (
	MovePackageInput InputKind = iota // only the id is known; packages never change
	OwnedObjectInput                  // immutable or address owned, pinned to an exact version
	SharedObjectInput
)

// InputObjectKind is one object the transaction reads or writes
type InputObjectKind struct {
	Kind      InputKind
	Reference ObjectRef // for packages only the id is set
}

// ObjectID() returns the id of the input
func (i InputObjectKind) ObjectID() ObjectID { return i.Reference.ID }

// inputObjects() returns the objects the single operation touches
func (s *SingleTransactionKind) inputObjects() (inputs []InputObjectKind) {
	switch {
	case s.Transfer != nil:
		inputs = append(inputs, InputObjectKind{Kind: OwnedObjectInput, Reference: s.Transfer.Object})
	case s.Call != nil:
		inputs = append(inputs, InputObjectKind{Kind: MovePackageInput, Reference: ObjectRef{ID: s.Call.Package.ID}})
		for _, ref := range s.Call.ObjectArguments {
			inputs = append(inputs, InputObjectKind{Kind: OwnedObjectInput, Reference: ref})
		}
	}
	return
}

// TransactionData is the signed content of a transaction
type TransactionData struct {
	Kinds      []SingleTransactionKind `codec:"kinds" json:"kinds"`
	Sender     Address                 `codec:"sender" json:"sender"`
	GasPayment ObjectRef               `codec:"gasPayment" json:"gasPayment"`
	GasBudget  uint64                  `codec:"gasBudget" json:"gasBudget"`
}

// NewTransferData() builds a single transfer
func NewTransferData(sender, recipient Address, object, gas ObjectRef, budget uint64) TransactionData {
	return TransactionData{
		Kinds:      []SingleTransactionKind{{Transfer: &Transfer{Recipient: recipient, Object: object}}},
		Sender:     sender,
		GasPayment: gas,
		GasBudget:  budget,
	}
}

// NewMoveCallData() builds a single call
func NewMoveCallData(sender Address, pkg ObjectRef, module, function string, objects []ObjectRef, pure [][]byte, gas ObjectRef, budget uint64) TransactionData {
	pureArgs := make([]HexBytes, len(pure))
	for i, p := range pure {
		pureArgs[i] = p
	}
	return TransactionData{
		Kinds: []SingleTransactionKind{{Call: &MoveCall{
			Package:         pkg,
			Module:          module,
			Function:        function,
			ObjectArguments: objects,
			PureArguments:   pureArgs,
		}}},
		Sender:     sender,
		GasPayment: gas,
		GasBudget:  budget,
	}
}

// NewPublishData() builds a single publish
func NewPublishData(sender Address, modules []Module, gas ObjectRef, budget uint64) TransactionData {
	return TransactionData{
		Kinds:      []SingleTransactionKind{{Publish: &MoveModulePublish{Modules: modules}}},
		Sender:     sender,
		GasPayment: gas,
		GasBudget:  budget,
	}
}

// InputObjects() returns every input of the transaction; the gas object is always last
func (t *TransactionData) InputObjects() ([]InputObjectKind, ErrorI) {
	if len(t.Kinds) == 0 {
		return nil, ErrEmptyTransaction()
	}
	var inputs []InputObjectKind
	seen := make(map[ObjectID]struct{})
	for i := range t.Kinds {
		for _, input := range t.Kinds[i].inputObjects() {
			if _, ok := seen[input.ObjectID()]; ok {
				// the same package may be called more than once
				if input.Kind == MovePackageInput {
					continue
				}
				return nil, ErrDuplicateInput(input.ObjectID())
			}
			seen[input.ObjectID()] = struct{}{}
			inputs = append(inputs, input)
		}
	}
	if _, ok := seen[t.GasPayment.ID]; ok {
		return nil, ErrDuplicateInput(t.GasPayment.ID)
	}
	return append(inputs, InputObjectKind{Kind: OwnedObjectInput, Reference: t.GasPayment}), nil
}

// SignBytes() returns the canonical byte representation the sender signs
func (t *TransactionData) SignBytes() []byte { return MustMarshal(t) }

// Transaction is transaction data signed by the sender's ed25519 key
type Transaction struct {
	Data      TransactionData `codec:"data" json:"data"`
	PublicKey HexBytes        `codec:"publicKey" json:"publicKey"`
	Signature HexBytes        `codec:"signature" json:"signature"`
}

// NewTransaction() signs the data with the sender key
func NewTransaction(data TransactionData, key crypto.PrivateKeyI) *Transaction {
	return &Transaction{
		Data:      data,
		PublicKey: key.PublicKey().Bytes(),
		Signature: key.Sign(data.SignBytes()),
	}
}

// Digest() hashes the signed data; two signatures over the same data share a digest
func (t *Transaction) Digest() (d TransactionDigest) {
	copy(d[:], crypto.Hash(t.Data.SignBytes()))
	return
}

// VerifySignature() checks the signature is by the key of the declared sender
func (t *Transaction) VerifySignature() ErrorI {
	pub, err := crypto.NewED25519PublicKeyFromBytes(t.PublicKey)
	if err != nil {
		return ErrInvalidPublicKey(err)
	}
	if NewAddressFromPublicKey(pub) != t.Data.Sender {
		return ErrInvalidSender()
	}
	if !pub.VerifyBytes(t.Data.SignBytes(), t.Signature) {
		return ErrInvalidSignature()
	}
	return nil
}

// Sender() returns the sender address
func (t *Transaction) Sender() Address { return t.Data.Sender }
