package aggregator

import (
	"context"
	"time"

	"github.com/canopy-network/fastpath/checkpoint"
	"github.com/canopy-network/fastpath/lib"
)

// proposalState collects checkpoint proposals until a quorum of the committee proposed
type proposalState struct {
	proposals map[lib.AuthorityName]*lib.CheckpointProposal
	weight    uint64
	badWeight uint64
	errs      []lib.ErrorI
}

// CollectCheckpointProposals() gathers signed checkpoint proposals from a quorum of the committee; latest
// asks the authorities to discard their stored proposal and snapshot their current transactions
func (a *AuthorityAggregator) CollectCheckpointProposals(ctx context.Context, latest bool) (map[lib.AuthorityName]*lib.CheckpointProposal, lib.ErrorI) {
	start := time.Now()
	total, quorum := a.committee.TotalWeight(), a.committee.QuorumThreshold()
	state, err := QuorumMapThenReduceWithTimeout(ctx, a.committee, a.clients,
		&proposalState{proposals: make(map[lib.AuthorityName]*lib.CheckpointProposal)},
		func(ctx context.Context, _ lib.AuthorityName, client lib.AuthorityAPI) (*lib.CheckpointResponse, lib.ErrorI) {
			return request(ctx, a.config.RequestTimeout(), &lib.CheckpointRequest{Latest: latest}, client.HandleCheckpointRequest)
		},
		func(s *proposalState, name lib.AuthorityName, weight uint64, resp *lib.CheckpointResponse, err lib.ErrorI) (ReduceOutput[*proposalState], lib.ErrorI) {
			if err == nil {
				switch {
				case resp == nil || resp.Proposal == nil:
					err = ErrUnexpectedResponse(name, "no checkpoint proposal")
				case resp.Proposal.Authority != name:
					err = ErrUnexpectedResponse(name, "proposal of another authority")
				default:
					err = resp.Proposal.Verify(a.committee)
				}
			}
			if err != nil {
				a.log.Warnf("Authority %s sent no valid proposal: %s", name.ShortString(), err.Error())
				s.errs, s.badWeight = append(s.errs, err), s.badWeight+weight
				if total-s.badWeight < quorum {
					return Continue(s), ErrQuorumNotReached(s.errs)
				}
				return Continue(s), nil
			}
			s.proposals[name], s.weight = resp.Proposal, s.weight+weight
			if s.weight >= quorum {
				return End(s), nil
			}
			return Continue(s), nil
		},
		a.config.PreQuorumTimeout())
	a.metrics.UpdateBroadcast("checkpoint", err == nil && state.weight >= quorum, time.Since(start))
	if err != nil {
		return nil, err
	}
	if state.weight < quorum {
		return nil, ErrQuorumNotReached(state.errs)
	}
	return state.proposals, nil
}

// ReconciledCheckpoint is the outcome of reconciling the proposals of a quorum for one checkpoint sequence
type ReconciledCheckpoint struct {
	Global    *checkpoint.GlobalCheckpoint                   // the reconciliation built from pairwise diffs
	Proposals map[lib.AuthorityName]*lib.CheckpointProposal // the proposals that took part
	Items     []lib.TransactionDigest                        // the reconciled transactions in digest order
}

/*
	ReconcileCheckpoint() collects the proposals of a quorum and reconciles them for the checkpoint sequence
	most of the collected weight proposes:

	1. the proposal of the lowest named authority is the base
	2. every other proposal is diffed against the base and the diff inserted into a GlobalCheckpoint
	3. the reconciled items are the base's transactions plus everything the base misses

	A lone proposal reconciles to its own transactions.
*/
func (a *AuthorityAggregator) ReconcileCheckpoint(ctx context.Context, latest bool) (*ReconciledCheckpoint, lib.ErrorI) {
	collected, err := a.CollectCheckpointProposals(ctx, latest)
	if err != nil {
		return nil, err
	}
	// the sequence with the most weight behind it
	weights := make(map[uint64]uint64)
	for name, p := range collected {
		weights[p.Sequence()] += a.committee.Weight(name)
	}
	var sequence, best uint64
	for seq, w := range weights {
		if w > best || (w == best && seq < sequence) {
			sequence, best = seq, w
		}
	}
	var (
		base      *lib.CheckpointProposal
		proposals = make(map[lib.AuthorityName]*lib.CheckpointProposal)
	)
	for _, name := range a.committee.Authorities() {
		p, ok := collected[name]
		if !ok || p.Sequence() != sequence {
			continue
		}
		proposals[name] = p
		if base == nil {
			base = p
		}
	}
	global := checkpoint.NewGlobalCheckpoint(sequence)
	reconciled := &ReconciledCheckpoint{Global: global, Proposals: proposals, Items: lib.SortedDifference(base.Transactions, nil)}
	var baseDiff *lib.WaypointDiff
	for _, name := range a.committee.Authorities() {
		p, ok := proposals[name]
		if !ok || p == base {
			continue
		}
		diff, e := base.DiffWith(p)
		if e != nil {
			return nil, e
		}
		if e = global.Insert(diff); e != nil {
			return nil, e
		}
		if baseDiff == nil {
			baseDiff = diff
		}
	}
	if baseDiff != nil {
		if reconciled.Items, err = global.CheckpointItems(baseDiff, base.Transactions); err != nil {
			return nil, err
		}
	}
	a.log.Infof("Reconciled checkpoint %d from %d proposals with %d transactions", sequence, len(proposals), len(reconciled.Items))
	return reconciled, nil
}
