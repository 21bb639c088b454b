package aggregator

import (
	"context"
	"sort"
	"time"

	"github.com/canopy-network/fastpath/lib"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

/*
	SyncCertificateToAuthority() brings the destination authority up to date with the certificate.

	Source authorities are drawn from the signers of the certificate, heavier ones first, and tried one after
	the other with exponential backoff between attempts, up to the configured number of retries. From a
	source, the parent certificates of every input are fetched and pushed onto a stack; certificates are
	replayed on the destination from the top of the stack so each runs after the certificates it depends on.
*/
func (a *AuthorityAggregator) SyncCertificateToAuthority(ctx context.Context, cert *lib.CertifiedTransaction, destination lib.AuthorityName) lib.ErrorI {
	digest := cert.Digest()
	signers := make(map[lib.AuthorityName]struct{}, len(cert.Signatures))
	for _, sig := range cert.Signatures {
		signers[sig.Authority] = struct{}{}
	}
	var sources []lib.AuthorityName
	for _, name := range a.committee.ShuffleByWeight() {
		if _, ok := signers[name]; ok && name != destination && len(sources) < max(a.config.CatchUpRetries, 1) {
			sources = append(sources, name)
		}
	}
	if len(sources) == 0 {
		return ErrCatchUpFailed(digest, destination)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(a.config.CatchUpBackoffMS) * time.Millisecond
	policy.MaxElapsedTime = 0
	attempt := 0
	err := backoff.Retry(func() error {
		source := sources[attempt]
		attempt++
		if err := a.syncSourceToDestination(ctx, cert, source, destination); err != nil {
			a.log.Warnf("Catch up of %s from %s failed: %s", destination.ShortString(), source.ShortString(), err.Error())
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(len(sources)-1)), ctx))
	if err != nil {
		return ErrCatchUpFailed(digest, destination)
	}
	a.metrics.UpdateCatchUp()
	return nil
}

// syncSourceToDestination() replays on the destination every certificate it misses to execute the
// certificate, reading the missing parents from the source
func (a *AuthorityAggregator) syncSourceToDestination(ctx context.Context, cert *lib.CertifiedTransaction, source, destination lib.AuthorityName) lib.ErrorI {
	sourceClient, ok := a.clients[source]
	if !ok {
		return ErrMissingAuthorityClient(source)
	}
	destinationClient, ok := a.clients[destination]
	if !ok {
		return ErrMissingAuthorityClient(destination)
	}
	// later entries are dependencies of earlier ones
	stack := []*lib.CertifiedTransaction{cert}
	candidates := map[lib.TransactionDigest]struct{}{cert.Digest(): {}}
	attempted := make(map[lib.TransactionDigest]struct{})
	for len(stack) > 0 {
		target := stack[len(stack)-1]
		_, err := a.confirm(ctx, destinationClient, target)
		if err == nil {
			stack = stack[:len(stack)-1]
			continue
		}
		if !lib.IsStaleStateError(err) {
			return err
		}
		// the parents were already replayed and the certificate still cannot run
		digest := target.Digest()
		if _, ok = attempted[digest]; ok {
			return ErrCertificateCycle(digest)
		}
		attempted[digest] = struct{}{}
		inputs, err := target.Transaction.Data.InputObjects()
		if err != nil {
			return err
		}
		for _, input := range inputs {
			req := lib.NewPastObjectInfoRequest(input.ObjectID(), input.Reference.Version)
			// packages are referenced by id only
			if input.Kind == lib.MovePackageInput {
				req = lib.NewLatestObjectInfoRequest(input.ObjectID())
			}
			info, e := request(ctx, a.config.RequestTimeout(), req, sourceClient.HandleObjectInfoRequest)
			if e != nil {
				return e
			}
			parent := info.ParentCertificate
			if parent == nil {
				continue
			}
			if e = parent.Verify(a.committee); e != nil {
				return e
			}
			if _, seen := candidates[parent.Digest()]; !seen {
				candidates[parent.Digest()] = struct{}{}
				stack = append(stack, parent)
			}
		}
	}
	return nil
}

// ObjectVersion is one version of an object as reported by a group of authorities
type ObjectVersion struct {
	Reference   lib.ObjectRef
	Parent      lib.TransactionDigest // the certificate that produced the version
	Object      *lib.Object           // nil for a deleted version or when no authority served it
	Authorities []lib.AuthorityName   // the authorities reporting this as their latest version
	Weight      uint64
}

// reportState collects responses until quorum weight responded
type reportState[R any] struct {
	responded uint64
	badWeight uint64
	responses map[lib.AuthorityName]R
	errs      []lib.ErrorI
}

// quorumReduce() collects every response; errors past the validity threshold mean the committee cannot be
// trusted to answer and abort, and once quorum weight responded stragglers are only awaited briefly
func quorumReduce[R any](a *AuthorityAggregator) ReduceFunc[*reportState[R], R] {
	return func(s *reportState[R], name lib.AuthorityName, weight uint64, result R, err lib.ErrorI) (ReduceOutput[*reportState[R]], lib.ErrorI) {
		s.responded += weight
		if err != nil {
			a.log.Warnf("Authority %s failed request: %s", name.ShortString(), err.Error())
			s.errs, s.badWeight = append(s.errs, err), s.badWeight+weight
			if s.badWeight >= a.committee.ValidityThreshold() {
				return Continue(s), ErrTooManyIncorrectAuthorities(s.errs)
			}
		} else {
			s.responses[name] = result
		}
		if s.responded < a.committee.QuorumThreshold() {
			return Continue(s), nil
		}
		return ContinueWithTimeout(s, a.config.PostQuorumTimeout()), nil
	}
}

// GetObjectByID() asks every authority for the latest version of the object and groups the answers by
// version; the certificates that produced the versions are returned by digest
func (a *AuthorityAggregator) GetObjectByID(ctx context.Context, id lib.ObjectID) (map[lib.ObjectRef]*ObjectVersion,
	map[lib.TransactionDigest]*lib.CertifiedTransaction, lib.ErrorI) {
	start := time.Now()
	state, err := QuorumMapThenReduceWithTimeout(ctx, a.committee, a.clients,
		&reportState[*lib.ObjectInfoResponse]{responses: make(map[lib.AuthorityName]*lib.ObjectInfoResponse)},
		func(ctx context.Context, _ lib.AuthorityName, client lib.AuthorityAPI) (*lib.ObjectInfoResponse, lib.ErrorI) {
			return request(ctx, a.config.RequestTimeout(), lib.NewLatestObjectInfoRequest(id), client.HandleObjectInfoRequest)
		},
		quorumReduce[*lib.ObjectInfoResponse](a),
		a.config.PreQuorumTimeout())
	a.metrics.UpdateBroadcast("object", err == nil, time.Since(start))
	if err != nil {
		return nil, nil, err
	}
	versions := make(map[lib.ObjectRef]*ObjectVersion)
	certificates := make(map[lib.TransactionDigest]*lib.CertifiedTransaction)
	for _, name := range a.committee.Authorities() {
		resp, ok := state.responses[name]
		// the authority never saw the object
		if !ok || resp == nil || resp.RequestedObjectReference == nil {
			continue
		}
		ref, parent := *resp.RequestedObjectReference, lib.GenesisTransactionDigest
		if resp.ParentCertificate != nil {
			parent = resp.ParentCertificate.Digest()
			certificates[parent] = resp.ParentCertificate
		}
		version, found := versions[ref]
		if !found {
			version = &ObjectVersion{Reference: ref, Parent: parent}
			versions[ref] = version
		}
		if version.Object == nil && resp.ObjectAndLock != nil && resp.ObjectAndLock.Object.Digest() == ref.Digest {
			object := resp.ObjectAndLock.Object
			version.Object = &object
		}
		version.Authorities = append(version.Authorities, name)
		version.Weight += a.committee.Weight(name)
	}
	return versions, certificates, nil
}

// GetLatestSequenceNumber() returns the highest version of the object any authority reports
func (a *AuthorityAggregator) GetLatestSequenceNumber(ctx context.Context, id lib.ObjectID) (lib.SequenceNumber, lib.ErrorI) {
	versions, _, err := a.GetObjectByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, lib.ErrObjectNotFound(id)
	}
	latest := lib.SequenceNumber(0)
	for ref := range versions {
		latest = max(latest, ref.Version)
	}
	return latest, nil
}

// ActiveObject is the latest live version of an object with the certificate that produced it
type ActiveObject struct {
	Object      *lib.Object
	Certificate *lib.CertifiedTransaction // nil for genesis objects
}

// DeletedObject is the deletion reference of an object with the certificate that deleted it
type DeletedObject struct {
	Reference   lib.ObjectRef
	Certificate *lib.CertifiedTransaction
}

/*
	SyncAllGivenObjects() brings every authority to the latest version of each object:

	1. each object is looked up on the committee; the target is the latest version the committee vouches for:
	   a genesis version reported by validity weight, or a version listed in the effects a quorum certifies
	   for its producing certificate
	2. the producing certificate is replayed to every authority that neither reports the target version nor
	   signed its effects; each authority is caught up by its own task and its certificates replay in order
	3. the target versions are returned, split into live and deleted objects

	A failed replay only leaves that authority behind and is logged; only cancellation aborts the sync.
*/
func (a *AuthorityAggregator) SyncAllGivenObjects(ctx context.Context, ids []lib.ObjectID) ([]ActiveObject, []DeletedObject, lib.ErrorI) {
	var (
		active  []ActiveObject
		deleted []DeletedObject
		replays = make(map[lib.AuthorityName][]*lib.CertifiedTransaction)
		queued  = make(map[lib.AuthorityName]map[lib.TransactionDigest]struct{})
	)
	for _, id := range dedupeIDs(ids) {
		versions, certificates, err := a.GetObjectByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		target, certified := a.latestCertified(ctx, versions, certificates)
		if target == nil {
			continue
		}
		cert := certificates[target.Parent]
		if target.Reference.IsDeleted() {
			deleted = append(deleted, DeletedObject{Reference: target.Reference, Certificate: cert})
		} else if target.Object != nil {
			active = append(active, ActiveObject{Object: target.Object, Certificate: cert})
		}
		if cert == nil {
			continue
		}
		upToDate := make(map[lib.AuthorityName]struct{}, len(target.Authorities))
		for _, name := range target.Authorities {
			upToDate[name] = struct{}{}
		}
		for _, sig := range certified.Signatures {
			upToDate[sig.Authority] = struct{}{}
		}
		for _, name := range a.committee.Authorities() {
			if _, ok := upToDate[name]; ok {
				continue
			}
			if queued[name] == nil {
				queued[name] = make(map[lib.TransactionDigest]struct{})
			}
			if _, ok := queued[name][target.Parent]; !ok {
				queued[name][target.Parent] = struct{}{}
				replays[name] = append(replays[name], cert)
			}
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for name, certs := range replays {
		name, certs := name, certs
		g.Go(func() error {
			for _, cert := range certs {
				if err := a.SyncCertificateToAuthority(gctx, cert, name); err != nil {
					if gctx.Err() != nil {
						return ErrCancelled(gctx.Err())
					}
					a.log.Warnf("Authority %s left behind on %s: %s", name.ShortString(), cert.Digest(), err.Error())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err.(lib.ErrorI)
	}
	return active, deleted, nil
}

// latestCertified() returns the highest version the committee vouches for, with the certified effects of the
// certificate that produced it (nil for genesis). A version an authority attributes to a certificate whose
// certified effects do not list it is skipped, as is a genesis version too few authorities report
func (a *AuthorityAggregator) latestCertified(ctx context.Context, versions map[lib.ObjectRef]*ObjectVersion,
	certificates map[lib.TransactionDigest]*lib.CertifiedTransaction) (*ObjectVersion, *CertifiedEffects) {
	candidates := make([]*ObjectVersion, 0, len(versions))
	for _, version := range versions {
		candidates = append(candidates, version)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Reference.Version != candidates[j].Reference.Version {
			return candidates[i].Reference.Version > candidates[j].Reference.Version
		}
		return candidates[i].Weight > candidates[j].Weight
	})
	for _, version := range candidates {
		ref := version.Reference
		if version.Parent == lib.GenesisTransactionDigest {
			if ref.Version == lib.ObjectStartVersion && version.Weight >= a.committee.ValidityThreshold() {
				return version, &CertifiedEffects{}
			}
			a.log.Warnf("Dropping genesis version %d of %s reported by weight %d", ref.Version, ref.ID, version.Weight)
			continue
		}
		cert := certificates[version.Parent]
		if err := cert.Verify(a.committee); err != nil {
			a.log.Warnf("Dropping version %d of %s: %s", ref.Version, ref.ID, err.Error())
			continue
		}
		certified, err := a.ProcessCertificate(ctx, cert)
		if err != nil {
			a.log.Warnf("Dropping version %d of %s: %s", ref.Version, ref.ID, err.Error())
			continue
		}
		if !producedBy(&certified.Effects, ref) {
			a.log.Warnf("Dropping version %d of %s: not in the effects of %s", ref.Version, ref.ID, version.Parent)
			continue
		}
		return version, certified
	}
	return nil, nil
}

// producedBy() returns true if the effects create, mutate or delete exactly the reference
func producedBy(effects *lib.TransactionEffects, ref lib.ObjectRef) bool {
	for _, changed := range effects.AllChanged() {
		if changed.Reference == ref {
			return true
		}
	}
	for _, deleted := range effects.Deleted {
		if deleted == ref {
			return true
		}
	}
	return false
}

// GetAllOwnedObjects() asks every authority for the objects owned by the address; every reported reference
// is returned with the authorities reporting it, so stale and fresh versions of an object both appear.
// The authorities that failed to answer are returned as well
func (a *AuthorityAggregator) GetAllOwnedObjects(ctx context.Context, owner lib.Address) (map[lib.ObjectRef][]lib.AuthorityName,
	[]lib.AuthorityName, lib.ErrorI) {
	start := time.Now()
	state, err := QuorumMapThenReduceWithTimeout(ctx, a.committee, a.clients,
		&reportState[*lib.AccountInfoResponse]{responses: make(map[lib.AuthorityName]*lib.AccountInfoResponse)},
		func(ctx context.Context, _ lib.AuthorityName, client lib.AuthorityAPI) (*lib.AccountInfoResponse, lib.ErrorI) {
			return request(ctx, a.config.RequestTimeout(), &lib.AccountInfoRequest{Account: owner}, client.HandleAccountInfoRequest)
		},
		quorumReduce[*lib.AccountInfoResponse](a),
		a.config.PreQuorumTimeout())
	a.metrics.UpdateBroadcast("account", err == nil, time.Since(start))
	if err != nil {
		return nil, nil, err
	}
	owned := make(map[lib.ObjectRef][]lib.AuthorityName)
	var failed []lib.AuthorityName
	for _, name := range a.committee.Authorities() {
		resp, ok := state.responses[name]
		if !ok || resp == nil {
			failed = append(failed, name)
			continue
		}
		for _, ref := range resp.ObjectIDs {
			owned[ref] = append(owned[ref], name)
		}
	}
	return owned, failed, nil
}

/*
	SyncAllOwnedObjects() synchronizes every object the committee reports as owned by the address until the
	authorities agree on a single version per object, bounded by the configured number of rounds.

	Objects seen in an earlier round stay part of the result, so an object transferred away during the sync
	is returned with its new owner.
*/
func (a *AuthorityAggregator) SyncAllOwnedObjects(ctx context.Context, owner lib.Address) ([]ActiveObject, []DeletedObject, lib.ErrorI) {
	var (
		ids     []lib.ObjectID
		active  []ActiveObject
		deleted []DeletedObject
	)
	owned, _, err := a.GetAllOwnedObjects(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	for round := 0; round < max(a.config.SyncMaxRounds, 1); round++ {
		ids = dedupeIDs(append(ids, ownedIDs(owned)...))
		if active, deleted, err = a.SyncAllGivenObjects(ctx, ids); err != nil {
			return nil, nil, err
		}
		if owned, _, err = a.GetAllOwnedObjects(ctx, owner); err != nil {
			return nil, nil, err
		}
		if agreed(owned) && len(dedupeIDs(append(ids, ownedIDs(owned)...))) == len(ids) {
			break
		}
		a.log.Debugf("Owned objects of %s not settled after round %d", owner, round)
	}
	return active, deleted, nil
}

// agreed() returns true if every object is reported at exactly one version
func agreed(owned map[lib.ObjectRef][]lib.AuthorityName) bool {
	seen := make(map[lib.ObjectID]struct{}, len(owned))
	for ref := range owned {
		if _, dup := seen[ref.ID]; dup {
			return false
		}
		seen[ref.ID] = struct{}{}
	}
	return true
}

func ownedIDs(owned map[lib.ObjectRef][]lib.AuthorityName) []lib.ObjectID {
	ids := make([]lib.ObjectID, 0, len(owned))
	for ref := range owned {
		ids = append(ids, ref.ID)
	}
	return ids
}

// dedupeIDs() returns the distinct ids in ascending order
func dedupeIDs(ids []lib.ObjectID) []lib.ObjectID {
	seen := make(map[lib.ObjectID]struct{}, len(ids))
	out := make([]lib.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
