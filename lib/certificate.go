package lib

import (
	"sort"

	"github.com/canopy-network/fastpath/lib/crypto"
)

// intents domain separate the messages an authority signs
const (
	IntentTransaction byte = iota
	IntentEffects
	IntentCheckpoint
)

// intentSignBytes() is the message an authority signs: intent || digest || epoch
func intentSignBytes(intent byte, digest []byte, epoch EpochID) []byte {
	return append(append([]byte{intent}, digest...), Uint64ToBytes(uint64(epoch))...)
}

// AuthoritySignature is one authority's BLS signature
type AuthoritySignature struct {
	Authority AuthorityName `codec:"authority" json:"authority"`
	Signature HexBytes      `codec:"signature" json:"signature"`
}

// SignedTransaction is a transaction an authority has locked its inputs for and voted on
type SignedTransaction struct {
	Transaction   Transaction        `codec:"transaction" json:"transaction"`
	Epoch         EpochID            `codec:"epoch" json:"epoch"`
	AuthSignature AuthoritySignature `codec:"authSignature" json:"authSignature"`
}

// NewSignedTransaction() creates the vote of an authority on a transaction
func NewSignedTransaction(tx *Transaction, epoch EpochID, name AuthorityName, key crypto.PrivateKeyI) *SignedTransaction {
	digest := tx.Digest()
	return &SignedTransaction{
		Transaction: *tx,
		Epoch:       epoch,
		AuthSignature: AuthoritySignature{
			Authority: name,
			Signature: key.Sign(intentSignBytes(IntentTransaction, digest[:], epoch)),
		},
	}
}

// Digest() returns the digest of the signed transaction
func (s *SignedTransaction) Digest() TransactionDigest { return s.Transaction.Digest() }

// Verify() checks the vote is by a committee member of the epoch
func (s *SignedTransaction) Verify(c *Committee) ErrorI {
	if s.Epoch != c.Epoch {
		return ErrWrongEpoch(c.Epoch, s.Epoch)
	}
	pub, err := c.PublicKey(s.AuthSignature.Authority)
	if err != nil {
		return err
	}
	digest := s.Digest()
	if !pub.VerifyBytes(intentSignBytes(IntentTransaction, digest[:], s.Epoch), s.AuthSignature.Signature) {
		return ErrInvalidSignature()
	}
	return nil
}

// CertifiedTransaction is a transaction with votes from a quorum of the committee
type CertifiedTransaction struct {
	Transaction Transaction          `codec:"transaction" json:"transaction"`
	Epoch       EpochID              `codec:"epoch" json:"epoch"`
	Signatures  []AuthoritySignature `codec:"signatures" json:"signatures"` // sorted by authority name
}

// Digest() returns the digest of the certified transaction
func (c *CertifiedTransaction) Digest() TransactionDigest { return c.Transaction.Digest() }

// Verify() checks the epoch, rejects unknown and duplicate signers, checks the weight reaches quorum
// and verifies the signatures as one aggregate
func (c *CertifiedTransaction) Verify(committee *Committee) ErrorI {
	if c.Epoch != committee.Epoch {
		return ErrWrongEpoch(committee.Epoch, c.Epoch)
	}
	key, err := committee.MultiKey()
	if err != nil {
		return err
	}
	weight, seen := uint64(0), make(map[AuthorityName]struct{}, len(c.Signatures))
	for _, sig := range c.Signatures {
		if _, dup := seen[sig.Authority]; dup {
			return ErrDuplicateSigner(sig.Authority)
		}
		seen[sig.Authority] = struct{}{}
		i, ok := committee.Index(sig.Authority)
		if !ok {
			return ErrUnknownAuthority(sig.Authority)
		}
		if er := key.AddSigner(sig.Signature, i); er != nil {
			return ErrInvalidSignature()
		}
		weight += committee.Weight(sig.Authority)
	}
	if weight < committee.QuorumThreshold() {
		return ErrCertificateWeight(weight, committee.QuorumThreshold())
	}
	aggregate, er := key.AggregateSignatures()
	if er != nil {
		return ErrInvalidSignature()
	}
	digest := c.Digest()
	if !key.VerifyBytes(intentSignBytes(IntentTransaction, digest[:], c.Epoch), aggregate) {
		return ErrInvalidSignature()
	}
	return nil
}

// SignatureAggregator collects votes on one transaction until they form a certificate
type SignatureAggregator struct {
	committee  *Committee
	tx         Transaction
	signatures map[AuthorityName]HexBytes
	weight     uint64
}

// NewSignatureAggregator() starts collecting votes for the transaction
func NewSignatureAggregator(tx *Transaction, committee *Committee) *SignatureAggregator {
	return &SignatureAggregator{
		committee:  committee,
		tx:         *tx,
		signatures: make(map[AuthorityName]HexBytes),
	}
}

// Weight() returns the total weight of the collected votes
func (s *SignatureAggregator) Weight() uint64 { return s.weight }

// Append() adds a vote and returns the certificate once the weight reaches quorum; the signature is
// not verified here, callers verify the signed transaction it came from
func (s *SignatureAggregator) Append(name AuthorityName, signature []byte) (*CertifiedTransaction, ErrorI) {
	weight := s.committee.Weight(name)
	if weight == 0 {
		return nil, ErrUnknownAuthority(name)
	}
	if _, dup := s.signatures[name]; dup {
		return nil, ErrDuplicateSigner(name)
	}
	s.signatures[name] = signature
	s.weight += weight
	if s.weight < s.committee.QuorumThreshold() {
		return nil, nil
	}
	cert := &CertifiedTransaction{Transaction: s.tx, Epoch: s.committee.Epoch}
	for authority, sig := range s.signatures {
		cert.Signatures = append(cert.Signatures, AuthoritySignature{Authority: authority, Signature: sig})
	}
	sort.Slice(cert.Signatures, func(i, j int) bool {
		return cert.Signatures[i].Authority.Less(cert.Signatures[j].Authority)
	})
	return cert, nil
}
