package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/canopy-network/fastpath/lib"
)

// AuthorityAggregator drives a committee of authorities from the client side: it gathers votes into
// certificates, gathers effects into certified effects and brings lagging authorities up to date
type AuthorityAggregator struct {
	committee *lib.Committee                           // the committee of the current epoch
	clients   map[lib.AuthorityName]lib.AuthorityAPI // one client per committee member
	config    lib.AggregatorConfig
	metrics   *lib.Metrics
	log       lib.LoggerI
}

// CertifiedEffects are effects signed by a quorum of the committee
type CertifiedEffects struct {
	Effects    lib.TransactionEffects   `json:"effects"`
	Signatures []lib.AuthoritySignature `json:"signatures"` // sorted by authority name
}

// NewAuthorityAggregator() creates an aggregator over the committee; every member needs a client
func NewAuthorityAggregator(committee *lib.Committee, clients map[lib.AuthorityName]lib.AuthorityAPI, config lib.AggregatorConfig,
	metrics *lib.Metrics, log lib.LoggerI) *AuthorityAggregator {
	return &AuthorityAggregator{
		committee: committee,
		clients:   clients,
		config:    config,
		metrics:   metrics,
		log:       log,
	}
}

// Committee() returns the committee the aggregator drives
func (a *AuthorityAggregator) Committee() *lib.Committee { return a.committee }

// transactionState accumulates votes on one transaction
type transactionState struct {
	votes     *lib.SignatureAggregator
	cert      *lib.CertifiedTransaction
	badWeight uint64
	errs      []lib.ErrorI
}

/*
	ProcessTransaction() turns a signed transaction into a certificate:

	1. the inputs of the transaction are synchronized so authorities that missed their latest versions
	   replay the certificates that produced them
	2. the transaction is sent to every authority and the votes are aggregated by weight
	3. the certificate is returned as soon as the votes reach quorum; an authority that already executed
	   the transaction may return its certificate directly

	Fails with ErrQuorumNotReached once the refusals make quorum unreachable or the timeout elapses first.
*/
func (a *AuthorityAggregator) ProcessTransaction(ctx context.Context, tx *lib.Transaction) (*lib.CertifiedTransaction, lib.ErrorI) {
	start, digest := time.Now(), tx.Digest()
	inputs, err := tx.Data.InputObjects()
	if err != nil {
		return nil, err
	}
	ids := make([]lib.ObjectID, 0, len(inputs))
	for _, input := range inputs {
		ids = append(ids, input.ObjectID())
	}
	if _, _, err = a.SyncAllGivenObjects(ctx, ids); err != nil {
		return nil, err
	}
	total, quorum := a.committee.TotalWeight(), a.committee.QuorumThreshold()
	state, err := QuorumMapThenReduceWithTimeout(ctx, a.committee, a.clients,
		&transactionState{votes: lib.NewSignatureAggregator(tx, a.committee)},
		func(ctx context.Context, _ lib.AuthorityName, client lib.AuthorityAPI) (*lib.TransactionInfoResponse, lib.ErrorI) {
			ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout())
			defer cancel()
			return client.HandleTransaction(ctx, tx)
		},
		func(s *transactionState, name lib.AuthorityName, weight uint64, resp *lib.TransactionInfoResponse, err lib.ErrorI) (ReduceOutput[*transactionState], lib.ErrorI) {
			if err == nil {
				err = a.checkVote(name, digest, resp)
			}
			if err == nil {
				// an authority that executed the transaction proves it with the certificate
				if resp.CertifiedTransaction != nil {
					s.cert = resp.CertifiedTransaction
					return End(s), nil
				}
				var cert *lib.CertifiedTransaction
				if cert, err = s.votes.Append(name, resp.SignedTransaction.AuthSignature.Signature); err == nil && cert != nil {
					s.cert = cert
					return End(s), nil
				}
			}
			if err != nil {
				a.log.Warnf("Authority %s refused transaction %s: %s", name.ShortString(), digest, err.Error())
				s.errs, s.badWeight = append(s.errs, err), s.badWeight+weight
				if total-s.badWeight < quorum {
					return Continue(s), ErrQuorumNotReached(s.errs)
				}
			}
			return Continue(s), nil
		},
		a.config.PreQuorumTimeout())
	a.metrics.UpdateBroadcast("transaction", err == nil && state.cert != nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	if state.cert == nil {
		return nil, ErrQuorumNotReached(state.errs)
	}
	a.log.Debugf("Certified transaction %s", digest)
	return state.cert, nil
}

// checkVote() validates a response to HandleTransaction: either a vote by the responding authority or a
// valid certificate, both for the transaction
func (a *AuthorityAggregator) checkVote(name lib.AuthorityName, digest lib.TransactionDigest, resp *lib.TransactionInfoResponse) lib.ErrorI {
	switch {
	case resp == nil:
		return ErrUnexpectedResponse(name, "empty response")
	case resp.CertifiedTransaction != nil:
		if resp.CertifiedTransaction.Digest() != digest {
			return ErrUnexpectedResponse(name, "certificate for another transaction")
		}
		return resp.CertifiedTransaction.Verify(a.committee)
	case resp.SignedTransaction != nil:
		if resp.SignedTransaction.Digest() != digest {
			return ErrUnexpectedResponse(name, "vote for another transaction")
		}
		if resp.SignedTransaction.AuthSignature.Authority != name {
			return ErrUnexpectedResponse(name, "vote signed by another authority")
		}
		return resp.SignedTransaction.Verify(a.committee)
	default:
		return ErrUnexpectedResponse(name, "no vote")
	}
}

// effectsWeight is the weight behind one exact set of effects
type effectsWeight struct {
	effects    lib.TransactionEffects
	signatures []lib.AuthoritySignature
	weight     uint64
}

// certificateState accumulates signed effects on one certificate, grouped by effects digest
type certificateState struct {
	effects   map[lib.EffectsDigest]*effectsWeight
	certified *effectsWeight
	responded uint64
	errs      []lib.ErrorI
}

/*
	ProcessCertificate() executes a certificate on the committee and returns the effects signed by a quorum:

	1. the certificate is sent to every authority; an authority missing an input version is first caught up by
	   replaying the parent certificates from authorities that signed it, then asked again
	2. signed effects are grouped by the digest of the complete effects and weighed
	3. once one group reaches quorum the broadcast only waits for stragglers for the post quorum timeout, so
	   lagging authorities get the chance to catch up

	Fails with ErrTooManyIncorrectAuthorities when authorities return diverging effects past the point where
	any group can still reach quorum, and with ErrQuorumNotReached when errors or the timeout prevent it.
*/
func (a *AuthorityAggregator) ProcessCertificate(ctx context.Context, cert *lib.CertifiedTransaction) (*CertifiedEffects, lib.ErrorI) {
	start, digest := time.Now(), cert.Digest()
	total, quorum := a.committee.TotalWeight(), a.committee.QuorumThreshold()
	state, err := QuorumMapThenReduceWithTimeout(ctx, a.committee, a.clients,
		&certificateState{effects: make(map[lib.EffectsDigest]*effectsWeight)},
		func(ctx context.Context, name lib.AuthorityName, client lib.AuthorityAPI) (*lib.SignedTransactionEffects, lib.ErrorI) {
			return a.executeOn(ctx, name, client, cert)
		},
		func(s *certificateState, name lib.AuthorityName, weight uint64, signed *lib.SignedTransactionEffects, err lib.ErrorI) (ReduceOutput[*certificateState], lib.ErrorI) {
			s.responded += weight
			if err == nil {
				err = a.checkEffects(name, digest, signed)
			}
			if err != nil {
				a.log.Warnf("Authority %s failed certificate %s: %s", name.ShortString(), digest, err.Error())
				s.errs = append(s.errs, err)
			} else {
				effectsDigest := signed.Digest()
				group, ok := s.effects[effectsDigest]
				if !ok {
					if len(s.effects) != 0 {
						s.errs = append(s.errs, ErrUnexpectedResponse(name, fmt.Sprintf("diverging effects %s", effectsDigest)))
					}
					group = &effectsWeight{effects: signed.Effects}
					s.effects[effectsDigest] = group
				}
				group.weight += weight
				group.signatures = append(group.signatures, signed.AuthSignature)
				if s.certified == nil && group.weight >= quorum {
					s.certified = group
					return ContinueWithTimeout(s, a.config.PostQuorumTimeout()), nil
				}
			}
			if s.certified != nil {
				return Continue(s), nil
			}
			// fail as soon as no group can reach quorum with the weight yet to respond
			best := uint64(0)
			for _, group := range s.effects {
				best = max(best, group.weight)
			}
			if best+total-s.responded < quorum {
				if len(s.effects) > 1 {
					return Continue(s), ErrTooManyIncorrectAuthorities(s.errs)
				}
				return Continue(s), ErrQuorumNotReached(s.errs)
			}
			return Continue(s), nil
		},
		a.config.PreQuorumTimeout())
	a.metrics.UpdateBroadcast("certificate", err == nil && state.certified != nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	if state.certified == nil {
		return nil, ErrQuorumNotReached(state.errs)
	}
	certified := &CertifiedEffects{Effects: state.certified.effects, Signatures: state.certified.signatures}
	sort.Slice(certified.Signatures, func(i, j int) bool {
		return certified.Signatures[i].Authority.Less(certified.Signatures[j].Authority)
	})
	a.log.Debugf("Certified effects of %s (success=%t)", digest, certified.Effects.Status.Success)
	return certified, nil
}

// executeOn() submits the certificate to one authority, catching it up once if it lacks an input
func (a *AuthorityAggregator) executeOn(ctx context.Context, name lib.AuthorityName, client lib.AuthorityAPI,
	cert *lib.CertifiedTransaction) (*lib.SignedTransactionEffects, lib.ErrorI) {
	signed, err := a.confirm(ctx, client, cert)
	if err == nil || !lib.IsStaleStateError(err) {
		return signed, err
	}
	a.log.Debugf("Authority %s is behind on %s: %s", name.ShortString(), cert.Digest(), err.Error())
	if err = a.SyncCertificateToAuthority(ctx, cert, name); err != nil {
		return nil, err
	}
	return a.confirm(ctx, client, cert)
}

// confirm() sends a certificate to one authority under the request timeout
func (a *AuthorityAggregator) confirm(ctx context.Context, client lib.AuthorityAPI, cert *lib.CertifiedTransaction) (*lib.SignedTransactionEffects, lib.ErrorI) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout())
	defer cancel()
	resp, err := client.HandleConfirmationTransaction(ctx, cert)
	if err != nil {
		return nil, err
	}
	return resp.SignedEffects, nil
}

// checkEffects() validates signed effects returned for a certificate
func (a *AuthorityAggregator) checkEffects(name lib.AuthorityName, digest lib.TransactionDigest, signed *lib.SignedTransactionEffects) lib.ErrorI {
	switch {
	case signed == nil:
		return ErrUnexpectedResponse(name, "no effects")
	case signed.Effects.TransactionDigest != digest:
		return ErrUnexpectedResponse(name, "effects of another transaction")
	case signed.AuthSignature.Authority != name:
		return ErrUnexpectedResponse(name, "effects signed by another authority")
	}
	return signed.Verify(a.committee)
}

// request() runs one call to an authority under the request timeout
func request[Req, Resp any](ctx context.Context, timeout time.Duration, req *Req,
	call func(context.Context, *Req) (*Resp, lib.ErrorI)) (*Resp, lib.ErrorI) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(ctx, req)
}
