package authority

import (
	"context"
	"time"

	"github.com/canopy-network/fastpath/checkpoint"
	"github.com/canopy-network/fastpath/execution"
	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/canopy-network/fastpath/store"
)

var _ lib.AuthorityAPI = new(State)

// State is one authority: it votes on transactions, executes certificates and answers queries about
// the objects and transactions it knows
type State struct {
	Name        lib.AuthorityName          // the public identity of this authority
	committee   *lib.Committee             // the committee of the current epoch
	key         crypto.PrivateKeyI         // the BLS key votes and effects are signed with
	store       *store.AuthorityStore      // the persistent object ledger
	checkpoints *checkpoint.CheckpointStore // nil when checkpointing is disabled
	engine      *execution.Engine          // executes certificates
	locks       *ObjectLocks               // serializes handlers touching the same objects
	config      lib.Config
	metrics     *lib.Metrics
	log         lib.LoggerI
}

// NewState() creates the authority over the database; the key must belong to a committee member
func NewState(config lib.Config, key crypto.PrivateKeyI, committee *lib.Committee, db *store.DB,
	metrics *lib.Metrics, log lib.LoggerI) (*State, lib.ErrorI) {
	name := lib.NewAuthorityName(key.PublicKey())
	if !committee.Contains(name) {
		return nil, lib.ErrUnknownAuthority(name)
	}
	authorityStore, err := store.NewAuthorityStore(db, config.ObjectCacheSize, log)
	if err != nil {
		return nil, err
	}
	s := &State{
		Name:      name,
		committee: committee,
		key:       key,
		store:     authorityStore,
		engine:    execution.NewEngine(execution.NewNativeVM(), config.GasConfig, log),
		locks:     NewObjectLocks(config.LockStripes),
		config:    config,
		metrics:   metrics,
		log:       log.With(name.ShortString()),
	}
	if config.Checkpoints {
		if s.checkpoints, err = checkpoint.NewCheckpointStore(db, name, key, committee.Epoch, metrics, s.log); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Committee() returns the committee the authority belongs to
func (s *State) Committee() *lib.Committee { return s.committee }

// Store() exposes the authority store for read only tooling
func (s *State) Store() *store.AuthorityStore { return s.store }

// Checkpoints() returns the checkpoint store; nil when checkpointing is disabled
func (s *State) Checkpoints() *checkpoint.CheckpointStore { return s.checkpoints }

// GetObject() returns the latest version of a live object; nil if unknown or deleted
func (s *State) GetObject(id lib.ObjectID) (*lib.Object, lib.ErrorI) { return s.store.GetObject(id) }

/*
	HandleTransaction() votes on a transaction:

	1. the sender signature must be valid
	2. every input must exist at exactly the referenced version and digest and be usable by the sender
	3. every owned input is locked to the transaction; an input already locked to another transaction is an
	   equivocation by the sender and the vote is refused

	Voting again for the same transaction returns the same vote.
*/
func (s *State) HandleTransaction(_ context.Context, tx *lib.Transaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	// check the sender's signature first, it costs no storage reads
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}
	digest := tx.Digest()
	// a transaction that was already executed is answered from storage
	if info, err := s.executedInfo(digest); err != nil || info != nil {
		return info, err
	}
	inputs, err := tx.Data.InputObjects()
	if err != nil {
		return nil, err
	}
	if tx.Data.GasBudget > s.config.MaxGasBudget {
		return nil, lib.ErrGasBudgetTooHigh(tx.Data.GasBudget, s.config.MaxGasBudget)
	}
	// serialize against every other handler touching these objects
	release := s.locks.Acquire(inputIDs(inputs))
	defer release()
	objects, err := s.checkInputs(&tx.Data, inputs)
	if err != nil {
		s.log.Debugf("Refused to sign %s: %s", digest, err.Error())
		return nil, err
	}
	// sign and lock every owned input to this transaction
	signed := lib.NewSignedTransaction(tx, s.committee.Epoch, s.Name, s.key)
	if err = s.store.SetTransactionLocks(ownedRefs(objects), signed); err != nil {
		if lib.ErrorIs(err, lib.AuthorityModule, lib.CodeConflictingTransaction) {
			s.metrics.UpdateLockConflict()
		}
		return nil, err
	}
	s.metrics.UpdateTransactionSigned()
	s.log.Debugf("Signed transaction %s", digest)
	return &lib.TransactionInfoResponse{SignedTransaction: signed}, nil
}

/*
	HandleConfirmationTransaction() executes a certificate:

	1. the certificate must carry a quorum of valid votes of the current committee
	2. a certificate that was already executed returns the stored effects without touching the state
	3. every input must exist at exactly the certified version; a lagging authority fails with a stale
	   state error and is expected to be caught up by the client
	4. the transaction is executed, its effects signed, and the changes committed atomically
	5. the executed transaction is recorded in the checkpoint store with its local execution sequence, in the
	   same database transaction as the state changes
*/
func (s *State) HandleConfirmationTransaction(_ context.Context, cert *lib.CertifiedTransaction) (*lib.TransactionInfoResponse, lib.ErrorI) {
	if err := cert.Verify(s.committee); err != nil {
		return nil, err
	}
	digest := cert.Digest()
	if info, err := s.executedInfo(digest); err != nil || info != nil {
		return info, err
	}
	inputs, err := cert.Transaction.Data.InputObjects()
	if err != nil {
		return nil, err
	}
	release := s.locks.Acquire(inputIDs(inputs))
	defer release()
	// a concurrent call may have executed the certificate while this one waited on the locks
	if info, e := s.executedInfo(digest); e != nil || info != nil {
		return info, e
	}
	objects, err := s.checkInputs(&cert.Transaction.Data, inputs)
	if err != nil {
		s.log.Debugf("Cannot execute %s: %s", digest, err.Error())
		return nil, err
	}
	start := time.Now()
	result, err := s.engine.Execute(digest, &cert.Transaction.Data, objects)
	if err != nil {
		return nil, err
	}
	signedEffects := lib.NewSignedTransactionEffects(result.Effects, s.committee.Epoch, s.Name, s.key)
	// commit every change of the certificate in one batch, with its checkpoint record
	update := &store.StateUpdate{
		Certificate:   cert,
		SignedEffects: signedEffects,
		Inputs:        result.Inputs,
		Written:       result.Written,
		Deleted:       result.Deleted,
	}
	var processed *checkpoint.ProcessedWriter
	if s.checkpoints != nil {
		processed = s.checkpoints.BeginProcessed()
		update.Record = func(txn *store.TxnWrapper, sequence uint64) lib.ErrorI {
			return processed.Write(txn, sequence, digest)
		}
	}
	sequence, fresh, err := s.store.UpdateState(update)
	if processed != nil {
		processed.Done(err == nil && fresh)
	}
	if err != nil {
		s.log.Errorf("Failed to commit %s: %s", digest, err.Error())
		return nil, err
	}
	if !fresh {
		return s.executedInfo(digest)
	}
	s.metrics.UpdateExecution(result.Effects.Status.Success, time.Since(start))
	s.log.Debugf("Executed certificate %s at sequence %d (success=%t)", digest, sequence, result.Effects.Status.Success)
	return &lib.TransactionInfoResponse{CertifiedTransaction: cert, SignedEffects: signedEffects}, nil
}

// HandleAccountInfoRequest() lists the latest references of the objects owned by the address
func (s *State) HandleAccountInfoRequest(_ context.Context, req *lib.AccountInfoRequest) (*lib.AccountInfoResponse, lib.ErrorI) {
	refs, err := s.store.OwnedObjects(req.Account)
	if err != nil {
		return nil, err
	}
	return &lib.AccountInfoResponse{ObjectIDs: refs, Owner: req.Account}, nil
}

// HandleObjectInfoRequest() returns the reference of an object at the requested (or latest) version with the
// certificate that produced it; the latest live version also carries the object and the vote locking it
func (s *State) HandleObjectInfoRequest(_ context.Context, req *lib.ObjectInfoRequest) (*lib.ObjectInfoResponse, lib.ErrorI) {
	var (
		ref    lib.ObjectRef
		parent lib.TransactionDigest
		ok     bool
		err    lib.ErrorI
	)
	if req.Version != nil {
		ref, parent, ok, err = s.store.GetParentByVersion(req.ObjectID, *req.Version)
	} else {
		ref, parent, ok, err = s.store.GetLatestParentEntry(req.ObjectID)
	}
	if err != nil || !ok {
		return &lib.ObjectInfoResponse{}, err
	}
	resp := &lib.ObjectInfoResponse{RequestedObjectReference: &ref}
	// genesis objects have no parent certificate
	if parent != lib.GenesisTransactionDigest {
		if resp.ParentCertificate, err = s.store.GetCertificate(parent); err != nil {
			return nil, err
		}
	}
	if req.Version != nil || ref.IsDeleted() {
		return resp, nil
	}
	object, err := s.store.GetObject(req.ObjectID)
	if err != nil || object == nil {
		return resp, err
	}
	resp.ObjectAndLock = &lib.ObjectResponse{Object: *object}
	if object.IsImmutable() {
		return resp, nil
	}
	lock, err := s.store.GetTransactionLock(object.Reference())
	if err != nil || lock == nil {
		return resp, err
	}
	if resp.ObjectAndLock.Lock, err = s.store.GetSignedTransaction(*lock); err != nil {
		return nil, err
	}
	return resp, nil
}

// HandleTransactionInfoRequest() returns the vote, certificate and signed effects of a transaction, each when known
func (s *State) HandleTransactionInfoRequest(_ context.Context, req *lib.TransactionInfoRequest) (*lib.TransactionInfoResponse, lib.ErrorI) {
	signed, err := s.store.GetSignedTransaction(req.TransactionDigest)
	if err != nil {
		return nil, err
	}
	cert, err := s.store.GetCertificate(req.TransactionDigest)
	if err != nil {
		return nil, err
	}
	effects, err := s.store.GetSignedEffects(req.TransactionDigest)
	if err != nil {
		return nil, err
	}
	return &lib.TransactionInfoResponse{SignedTransaction: signed, CertifiedTransaction: cert, SignedEffects: effects}, nil
}

// HandleCheckpointRequest() returns the current checkpoint proposal of the authority
func (s *State) HandleCheckpointRequest(_ context.Context, req *lib.CheckpointRequest) (*lib.CheckpointResponse, lib.ErrorI) {
	if s.checkpoints == nil {
		return &lib.CheckpointResponse{}, nil
	}
	var (
		proposal *lib.CheckpointProposal
		err      lib.ErrorI
	)
	if req.Latest {
		proposal, err = s.checkpoints.RefreshProposal()
	} else {
		proposal, err = s.checkpoints.SetProposal()
	}
	if err != nil {
		return nil, err
	}
	return &lib.CheckpointResponse{Proposal: proposal, NextCheckpoint: s.checkpoints.NextCheckpointSequence()}, nil
}

// FinalizeCheckpoint() records the agreed content of the next checkpoint
func (s *State) FinalizeCheckpoint(sequence uint64, digests []lib.TransactionDigest) lib.ErrorI {
	if s.checkpoints == nil {
		return nil
	}
	return s.checkpoints.UpdateNewCheckpoint(sequence, digests)
}

// executedInfo() returns the certificate and effects of an executed transaction; nil if not executed
func (s *State) executedInfo(digest lib.TransactionDigest) (*lib.TransactionInfoResponse, lib.ErrorI) {
	effects, err := s.store.GetSignedEffects(digest)
	if err != nil || effects == nil {
		return nil, err
	}
	cert, err := s.store.GetCertificate(digest)
	if err != nil {
		return nil, err
	}
	return &lib.TransactionInfoResponse{CertifiedTransaction: cert, SignedEffects: effects}, nil
}

// checkInputs() loads the inputs of a transaction and checks each is usable by the sender at the exact
// referenced version; the objects are returned in input order with the gas object last
func (s *State) checkInputs(data *lib.TransactionData, inputs []lib.InputObjectKind) ([]*lib.Object, lib.ErrorI) {
	ids := inputIDs(inputs)
	objects, err := s.store.GetObjects(ids)
	if err != nil {
		return nil, err
	}
	for i, input := range inputs {
		o := objects[i]
		if o == nil {
			return nil, lib.ErrObjectNotFound(input.ObjectID())
		}
		if input.Kind == lib.MovePackageInput {
			if !o.IsPackage() {
				return nil, lib.ErrNotAPackage(o.ID)
			}
			continue
		}
		ref := input.Reference
		if o.Version != ref.Version {
			return nil, lib.ErrUnexpectedSequenceNumber(o.ID, o.Version, ref.Version)
		}
		if o.Digest() != ref.Digest {
			return nil, lib.ErrInvalidObjectDigest(o.ID)
		}
		switch o.Owner.Kind {
		case lib.SharedOwner:
			return nil, lib.ErrSharedObjectInput(o.ID)
		case lib.AddressOwner:
			if o.Owner.Address != data.Sender {
				return nil, lib.ErrIncorrectSigner(o.ID)
			}
		}
	}
	// the gas object is always the last input
	return objects, checkGasObject(data, objects[len(objects)-1])
}

// checkGasObject() checks the gas coin belongs to the sender and covers the budget
func checkGasObject(data *lib.TransactionData, gas *lib.Object) lib.ErrorI {
	if !gas.Owner.IsOwnedBy(data.Sender) {
		return lib.ErrGasObjectNotOwned(gas.ID)
	}
	balance, err := gas.GasBalance()
	if err != nil {
		return err
	}
	if balance < data.GasBudget {
		return lib.ErrGasBalanceTooLow(balance, data.GasBudget)
	}
	return nil
}

func inputIDs(inputs []lib.InputObjectKind) []lib.ObjectID {
	ids := make([]lib.ObjectID, len(inputs))
	for i, input := range inputs {
		ids[i] = input.ObjectID()
	}
	return ids
}

// ownedRefs() returns the references of the inputs that take a lock; immutable objects are never locked
func ownedRefs(objects []*lib.Object) (refs []lib.ObjectRef) {
	for _, o := range objects {
		if !o.IsImmutable() {
			refs = append(refs, o.Reference())
		}
	}
	return
}
