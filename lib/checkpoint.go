package lib

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/canopy-network/fastpath/lib/crypto"
)

/*
	Checkpoint proposals and the waypoint arithmetic used to reconcile them.

	A waypoint commits to a set of transaction digests with an additive accumulator, so the waypoint
	of A plus the digests A lacks equals the waypoint of B plus the digests B lacks whenever both
	describe A ∪ B. A WaypointDiff carries both sides of that equation and can be checked without
	either full set.
*/

// Waypoint is the accumulated set of digests proposed for a checkpoint sequence
type Waypoint struct {
	Sequence    uint64   `codec:"sequence" json:"sequence"`
	Accumulator HexBytes `codec:"accumulator" json:"accumulator"`
}

// NewWaypoint() returns the waypoint of the empty set at the sequence
func NewWaypoint(sequence uint64) Waypoint {
	return Waypoint{Sequence: sequence, Accumulator: crypto.NewAccumulator().Bytes()}
}

// InsertAll() returns a copy of the waypoint with the digests added
func (w Waypoint) InsertAll(digests []TransactionDigest) (Waypoint, ErrorI) {
	acc, err := crypto.NewAccumulatorFromBytes(w.Accumulator)
	if err != nil {
		return Waypoint{}, ErrInvalidWaypointDiff("malformed accumulator")
	}
	for _, d := range digests {
		acc.Insert(d[:])
	}
	return Waypoint{Sequence: w.Sequence, Accumulator: acc.Bytes()}, nil
}

// Equals() compares sequence and accumulated content
func (w Waypoint) Equals(o Waypoint) bool {
	return w.Sequence == o.Sequence && bytes.Equal(w.Accumulator, o.Accumulator)
}

// WaypointWithItems is one side of a diff: the waypoint of an authority and the digests it lacks
type WaypointWithItems struct {
	Authority AuthorityName       `codec:"authority" json:"authority"`
	Waypoint  Waypoint            `codec:"waypoint" json:"waypoint"`
	Items     []TransactionDigest `codec:"items" json:"items"` // sorted
}

// WaypointDiff is the pairwise comparison of two proposals for the same sequence
type WaypointDiff struct {
	First  WaypointWithItems `codec:"first" json:"first"`
	Second WaypointWithItems `codec:"second" json:"second"`
}

// Check() returns true if both sides, completed with the items they lack, describe the same set
func (d *WaypointDiff) Check() bool {
	if d.First.Waypoint.Sequence != d.Second.Waypoint.Sequence {
		return false
	}
	first, err := d.First.Waypoint.InsertAll(d.First.Items)
	if err != nil {
		return false
	}
	second, err := d.Second.Waypoint.InsertAll(d.Second.Items)
	if err != nil {
		return false
	}
	return first.Equals(second)
}

// Swap() returns the diff seen from the other side
func (d *WaypointDiff) Swap() *WaypointDiff {
	return &WaypointDiff{First: d.Second, Second: d.First}
}

// CheckpointSummary is the signed part of a proposal
type CheckpointSummary struct {
	Epoch            EpochID  `codec:"epoch" json:"epoch"`
	Waypoint         Waypoint `codec:"waypoint" json:"waypoint"`
	TransactionsHash HexBytes `codec:"txsHash" json:"txsHash"` // hash of the ordered digest list
}

// SignBytes() returns the canonical bytes signed by the proposer
func (s *CheckpointSummary) SignBytes() []byte {
	return intentSignBytes(IntentCheckpoint, crypto.Hash(MustMarshal(s)), s.Epoch)
}

// CheckpointProposal is an authority's snapshot of the transactions it processed but has not yet
// seen in a checkpoint, in processing order
type CheckpointProposal struct {
	Summary      CheckpointSummary   `codec:"summary" json:"summary"`
	Authority    AuthorityName       `codec:"authority" json:"authority"`
	Signature    HexBytes            `codec:"signature" json:"signature"`
	Transactions []TransactionDigest `codec:"transactions" json:"transactions"`
}

// NewCheckpointProposal() accumulates and signs the transactions proposed for the sequence
func NewCheckpointProposal(epoch EpochID, sequence uint64, txs []TransactionDigest, name AuthorityName, key crypto.PrivateKeyI) (*CheckpointProposal, ErrorI) {
	waypoint, err := NewWaypoint(sequence).InsertAll(txs)
	if err != nil {
		return nil, err
	}
	p := &CheckpointProposal{
		Summary: CheckpointSummary{
			Epoch:            epoch,
			Waypoint:         waypoint,
			TransactionsHash: hashDigests(txs),
		},
		Authority:    name,
		Transactions: append([]TransactionDigest{}, txs...),
	}
	p.Signature = key.Sign(p.Summary.SignBytes())
	return p, nil
}

// Sequence() returns the checkpoint sequence the proposal is for
func (p *CheckpointProposal) Sequence() uint64 { return p.Summary.Waypoint.Sequence }

// Verify() checks the signature, the transaction list hash and the accumulated waypoint
func (p *CheckpointProposal) Verify(c *Committee) ErrorI {
	if p.Summary.Epoch != c.Epoch {
		return ErrWrongEpoch(c.Epoch, p.Summary.Epoch)
	}
	pub, err := c.PublicKey(p.Authority)
	if err != nil {
		return err
	}
	if !pub.VerifyBytes(p.Summary.SignBytes(), p.Signature) {
		return ErrInvalidSignature()
	}
	if !bytes.Equal(hashDigests(p.Transactions), p.Summary.TransactionsHash) {
		return ErrInvalidProposal("transactions do not match the signed hash")
	}
	waypoint, err := NewWaypoint(p.Sequence()).InsertAll(p.Transactions)
	if err != nil {
		return err
	}
	if !waypoint.Equals(p.Summary.Waypoint) {
		return ErrInvalidProposal("transactions do not match the signed waypoint")
	}
	return nil
}

// DiffWith() compares two proposals; each side carries the digests only the other side has
func (p *CheckpointProposal) DiffWith(other *CheckpointProposal) (*WaypointDiff, ErrorI) {
	if p.Sequence() != other.Sequence() {
		return nil, ErrProposalSequence(p.Sequence(), other.Sequence())
	}
	return &WaypointDiff{
		First: WaypointWithItems{
			Authority: p.Authority,
			Waypoint:  p.Summary.Waypoint,
			Items:     SortedDifference(other.Transactions, p.Transactions),
		},
		Second: WaypointWithItems{
			Authority: other.Authority,
			Waypoint:  other.Summary.Waypoint,
			Items:     SortedDifference(p.Transactions, other.Transactions),
		},
	}, nil
}

// SortedDifference() returns the distinct digests of a that are not in b, sorted
func SortedDifference(a, b []TransactionDigest) (out []TransactionDigest) {
	exclude := make(map[TransactionDigest]struct{}, len(b))
	for _, d := range b {
		exclude[d] = struct{}{}
	}
	for _, d := range a {
		if _, ok := exclude[d]; !ok {
			exclude[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return
}

func hashDigests(txs []TransactionDigest) []byte {
	h := crypto.Hasher()
	for _, d := range txs {
		h.Write(d[:])
	}
	return h.Sum(nil)
}

// checkpoint module errors below

func ErrCheckpointSequence(expected, got uint64) ErrorI {
	return NewError(CodeCheckpointSequence, CheckpointModule, fmt.Sprintf("checkpoint sequence mismatch, expected %d got %d", expected, got))
}

func ErrProposalSequence(expected, got uint64) ErrorI {
	return NewError(CodeProposalSequence, CheckpointModule, fmt.Sprintf("proposal sequence mismatch, expected %d got %d", expected, got))
}

func ErrWaypointMismatch(name AuthorityName) ErrorI {
	return NewError(CodeWaypointMismatch, CheckpointModule, "waypoint of "+name.ShortString()+" differs from the one already inserted")
}

func ErrDiffBothKnown() ErrorI {
	return NewError(CodeDiffBothKnown, CheckpointModule, "both authorities of the diff are already in the global checkpoint")
}

func ErrDiffNoneKnown() ErrorI {
	return NewError(CodeDiffNoneKnown, CheckpointModule, "neither authority of the diff is in the global checkpoint")
}

func ErrInvalidWaypointDiff(reason string) ErrorI {
	return NewError(CodeInvalidWaypointDiff, CheckpointModule, "invalid waypoint diff: "+reason)
}

func ErrAlreadyCheckpointed(d TransactionDigest) ErrorI {
	return NewError(CodeAlreadyCheckpointed, CheckpointModule, "transaction "+d.String()+" is already in a checkpoint")
}

func ErrInvalidProposal(reason string) ErrorI {
	return NewError(CodeInvalidProposal, CheckpointModule, "invalid proposal: "+reason)
}

func ErrEmptyGlobalCheckpoint() ErrorI {
	return NewError(CodeEmptyGlobalCheckpoint, CheckpointModule, "no diff has been inserted")
}
