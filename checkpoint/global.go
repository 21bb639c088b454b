package checkpoint

import (
	"github.com/canopy-network/fastpath/lib"
	"github.com/google/btree"
)

/*
	GlobalCheckpoint reconciles the proposals of many authorities for one checkpoint sequence from pairwise
	diffs, without any authority shipping its full proposal.

	The first diff seeds the reference set: the union of both proposals. Every later diff must pair an
	authority already in the checkpoint with a new one. The new authority's missing items are what it lacks
	against the known one plus what the known one still lacks against the reference; anything the new
	authority has that the reference does not is added to the reference and to every other authority's
	missing items. The reference therefore only ever grows to the union of the proposals inserted, so it is
	the same whatever the insertion order or the choice of the seeding pair.
*/

const digestTreeDegree = 8

// GlobalCheckpoint is the reconciled content of one checkpoint sequence
type GlobalCheckpoint struct {
	sequence    uint64
	reference   lib.Waypoint
	authorities map[lib.AuthorityName]*authorityWaypoint
}

// authorityWaypoint is an authority's proposal and the items it must add to reach the reference
type authorityWaypoint struct {
	waypoint lib.Waypoint
	missing  *btree.BTreeG[lib.TransactionDigest]
}

// NewGlobalCheckpoint() creates an empty reconciliation for the checkpoint sequence
func NewGlobalCheckpoint(sequence uint64) *GlobalCheckpoint {
	return &GlobalCheckpoint{
		sequence:    sequence,
		reference:   lib.NewWaypoint(sequence),
		authorities: make(map[lib.AuthorityName]*authorityWaypoint),
	}
}

// Sequence() returns the checkpoint sequence being reconciled
func (g *GlobalCheckpoint) Sequence() uint64 { return g.sequence }

// Reference() returns the waypoint of the reconciled set
func (g *GlobalCheckpoint) Reference() lib.Waypoint { return g.reference }

// IsEmpty() returns true until the first diff is inserted
func (g *GlobalCheckpoint) IsEmpty() bool { return len(g.authorities) == 0 }

// Contains() returns true if the authority's proposal is part of the reconciliation
func (g *GlobalCheckpoint) Contains(name lib.AuthorityName) bool {
	_, ok := g.authorities[name]
	return ok
}

// Missing() returns the sorted items the authority must add to its proposal to reach the reference
func (g *GlobalCheckpoint) Missing(name lib.AuthorityName) ([]lib.TransactionDigest, bool) {
	a, ok := g.authorities[name]
	if !ok {
		return nil, false
	}
	return toSlice(a.missing), true
}

// Insert() folds a diff into the reconciliation
func (g *GlobalCheckpoint) Insert(diff *lib.WaypointDiff) lib.ErrorI {
	if err := g.checkDiff(diff); err != nil {
		return err
	}
	if g.IsEmpty() {
		reference, err := diff.First.Waypoint.InsertAll(diff.First.Items)
		if err != nil {
			return err
		}
		g.reference = reference
		g.authorities[diff.First.Authority] = newAuthorityWaypoint(diff.First.Waypoint, diff.First.Items)
		g.authorities[diff.Second.Authority] = newAuthorityWaypoint(diff.Second.Waypoint, diff.Second.Items)
		return nil
	}
	known, unknown, err := g.split(diff)
	if err != nil {
		return err
	}
	knownWaypoint := g.authorities[known.Authority]
	// what the unknown side lacks against the reference
	unknownMissing := newDigestSet(unknown.Items)
	knownLacks := newDigestSet(known.Items)
	knownWaypoint.missing.Ascend(func(d lib.TransactionDigest) bool {
		if !knownLacks.Has(d) {
			unknownMissing.ReplaceOrInsert(d)
		}
		return true
	})
	// what the unknown side brings that the reference lacks
	var newItems []lib.TransactionDigest
	for _, d := range known.Items {
		if !knownWaypoint.missing.Has(d) {
			newItems = append(newItems, d)
		}
	}
	reference, err := g.reference.InsertAll(newItems)
	if err != nil {
		return err
	}
	g.reference = reference
	for _, a := range g.authorities {
		for _, d := range newItems {
			a.missing.ReplaceOrInsert(d)
		}
	}
	g.authorities[unknown.Authority] = &authorityWaypoint{waypoint: unknown.Waypoint, missing: unknownMissing}
	return nil
}

// CheckpointItems() returns the full reconciled item set for the authority on the first side of the diff,
// given its own proposal; the authority need not be part of the reconciliation as long as the other side is
func (g *GlobalCheckpoint) CheckpointItems(diff *lib.WaypointDiff, own []lib.TransactionDigest) ([]lib.TransactionDigest, lib.ErrorI) {
	if g.IsEmpty() {
		return nil, lib.ErrEmptyGlobalCheckpoint()
	}
	if err := g.checkDiff(diff); err != nil {
		return nil, err
	}
	ownWaypoint, err := lib.NewWaypoint(g.sequence).InsertAll(own)
	if err != nil {
		return nil, err
	}
	if !ownWaypoint.Equals(diff.First.Waypoint) {
		return nil, lib.ErrInvalidWaypointDiff("own items do not match the waypoint")
	}
	items := newDigestSet(own)
	if a, ok := g.authorities[diff.First.Authority]; ok {
		if !a.waypoint.Equals(diff.First.Waypoint) {
			return nil, lib.ErrWaypointMismatch(diff.First.Authority)
		}
		a.missing.Ascend(func(d lib.TransactionDigest) bool {
			items.ReplaceOrInsert(d)
			return true
		})
		return toSlice(items), nil
	}
	known, ok := g.authorities[diff.Second.Authority]
	if !ok {
		return nil, lib.ErrDiffNoneKnown()
	}
	if !known.waypoint.Equals(diff.Second.Waypoint) {
		return nil, lib.ErrWaypointMismatch(diff.Second.Authority)
	}
	// own + what it lacks against the known side + what the known side lacks against the reference
	for _, d := range diff.First.Items {
		items.ReplaceOrInsert(d)
	}
	known.missing.Ascend(func(d lib.TransactionDigest) bool {
		items.ReplaceOrInsert(d)
		return true
	})
	// minus what only this authority has, unless the reference has it anyway
	for _, d := range diff.Second.Items {
		if !known.missing.Has(d) {
			items.Delete(d)
		}
	}
	return toSlice(items), nil
}

// checkDiff() validates the diff against itself and the sequence
func (g *GlobalCheckpoint) checkDiff(diff *lib.WaypointDiff) lib.ErrorI {
	if diff.First.Authority == diff.Second.Authority {
		return lib.ErrInvalidWaypointDiff("both sides are the same authority")
	}
	if diff.First.Waypoint.Sequence != g.sequence {
		return lib.ErrCheckpointSequence(g.sequence, diff.First.Waypoint.Sequence)
	}
	if !diff.Check() {
		return lib.ErrInvalidWaypointDiff("the sides do not describe the same set")
	}
	return nil
}

// split() returns the side of the diff already in the reconciliation and the side that is not
func (g *GlobalCheckpoint) split(diff *lib.WaypointDiff) (known, unknown *lib.WaypointWithItems, err lib.ErrorI) {
	_, firstKnown := g.authorities[diff.First.Authority]
	_, secondKnown := g.authorities[diff.Second.Authority]
	switch {
	case firstKnown && secondKnown:
		return nil, nil, lib.ErrDiffBothKnown()
	case firstKnown:
		known, unknown = &diff.First, &diff.Second
	case secondKnown:
		known, unknown = &diff.Second, &diff.First
	default:
		return nil, nil, lib.ErrDiffNoneKnown()
	}
	if !g.authorities[known.Authority].waypoint.Equals(known.Waypoint) {
		return nil, nil, lib.ErrWaypointMismatch(known.Authority)
	}
	return
}

func newAuthorityWaypoint(waypoint lib.Waypoint, missing []lib.TransactionDigest) *authorityWaypoint {
	return &authorityWaypoint{waypoint: waypoint, missing: newDigestSet(missing)}
}

func newDigestSet(digests []lib.TransactionDigest) *btree.BTreeG[lib.TransactionDigest] {
	set := btree.NewG(digestTreeDegree, lib.TransactionDigest.Less)
	for _, d := range digests {
		set.ReplaceOrInsert(d)
	}
	return set
}

func toSlice(set *btree.BTreeG[lib.TransactionDigest]) []lib.TransactionDigest {
	out := make([]lib.TransactionDigest, 0, set.Len())
	set.Ascend(func(d lib.TransactionDigest) bool {
		out = append(out, d)
		return true
	})
	return out
}
