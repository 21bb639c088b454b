package aggregator

import (
	"context"
	"time"

	"github.com/canopy-network/fastpath/lib"
)

// reduceAction tells the broadcaster what to do after folding one response
type reduceAction uint8

const (
	actionContinue            reduceAction = iota // keep waiting under the current timers
	actionContinueWithTimeout                     // keep waiting, but no longer than the new per call timeout between responses
	actionEnd                                     // stop and return the state
)

// ReduceOutput is the result of folding one authority response into the broadcast state
type ReduceOutput[S any] struct {
	State   S
	action  reduceAction
	timeout time.Duration
}

// Continue() keeps the broadcast going with the next state
func Continue[S any](state S) ReduceOutput[S] {
	return ReduceOutput[S]{State: state, action: actionContinue}
}

// ContinueWithTimeout() keeps the broadcast going, but stops once no response arrives within the timeout
func ContinueWithTimeout[S any](state S, timeout time.Duration) ReduceOutput[S] {
	return ReduceOutput[S]{State: state, action: actionContinueWithTimeout, timeout: timeout}
}

// End() stops the broadcast with the final state
func End[S any](state S) ReduceOutput[S] {
	return ReduceOutput[S]{State: state, action: actionEnd}
}

// MapFunc is the request sent to one authority
type MapFunc[R any] func(ctx context.Context, name lib.AuthorityName, client lib.AuthorityAPI) (R, lib.ErrorI)

// ReduceFunc folds one authority's result, or its error, into the state; a returned error aborts the broadcast
type ReduceFunc[S, R any] func(state S, name lib.AuthorityName, weight uint64, result R, err lib.ErrorI) (ReduceOutput[S], lib.ErrorI)

// mapResult is one completed request
type mapResult[R any] struct {
	name   lib.AuthorityName
	result R
	err    lib.ErrorI
}

/*
	QuorumMapThenReduceWithTimeout() sends a request to every committee member concurrently and folds the
	responses into the state one at a time, in the order they complete.

	The broadcast stops when:
	- the reducer returns End
	- every authority responded
	- the global timeout elapses
	- a per call timeout requested by ContinueWithTimeout elapses with no further response

	Timeouts are a normal way to stop: the last state is returned without error and the caller inspects it.
	A reducer error is returned immediately and the state discarded; mapper errors are handed to the reducer.
	Requests still in flight when the broadcast stops have their context cancelled and their results dropped.
*/
func QuorumMapThenReduceWithTimeout[S, R any](ctx context.Context, committee *lib.Committee, clients map[lib.AuthorityName]lib.AuthorityAPI,
	initial S, mapFn MapFunc[R], reduceFn ReduceFunc[S, R], timeout time.Duration) (S, lib.ErrorI) {
	authorities := committee.Authorities()
	// buffered so abandoned requests never block on send
	results := make(chan mapResult[R], len(authorities))
	mapCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, name := range authorities {
		client, ok := clients[name]
		if !ok {
			results <- mapResult[R]{name: name, err: ErrMissingAuthorityClient(name)}
			continue
		}
		go func(name lib.AuthorityName, client lib.AuthorityAPI) {
			result, err := mapFn(mapCtx, name, client)
			results <- mapResult[R]{name: name, result: result, err: err}
		}(name, client)
	}
	global := time.NewTimer(timeout)
	defer global.Stop()
	// the per call timer is only armed once the reducer asks for it
	var (
		perCall        *time.Timer
		perCallC       <-chan time.Time
		perCallTimeout time.Duration
		state          = initial
	)
	defer func() {
		if perCall != nil {
			perCall.Stop()
		}
	}()
	for received := 0; received < len(authorities); received++ {
		var r mapResult[R]
		select {
		case <-ctx.Done():
			return state, ErrCancelled(ctx.Err())
		case <-global.C:
			return state, nil
		case <-perCallC:
			return state, nil
		case r = <-results:
		}
		out, err := reduceFn(state, r.name, committee.Weight(r.name), r.result, r.err)
		if err != nil {
			var zero S
			return zero, err
		}
		state = out.State
		switch out.action {
		case actionEnd:
			return state, nil
		case actionContinueWithTimeout:
			perCallTimeout = out.timeout
		}
		// a per call timeout measures the wait for the next response
		if perCallTimeout > 0 {
			if perCall == nil {
				perCall = time.NewTimer(perCallTimeout)
				perCallC = perCall.C
			} else {
				resetTimer(perCall, perCallTimeout)
			}
		}
	}
	return state, nil
}

// resetTimer() rearms a timer that may have fired without being drained
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
