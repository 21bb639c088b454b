package execution

import (
	"bytes"
	"sort"

	"github.com/canopy-network/fastpath/lib"
)

/*
	TemporaryStore is the write overlay of a single execution

	It is seeded with every object the transaction references and records writes and deletions in memory.
	Reads merge the overlay over the inputs as if the writes had already been applied. Nothing reaches the
	authority store until the caller commits the finalized changes, so discarding the overlay is a full rollback.

	CONTRACT:
	- exclusively owned by one execution; not thread safe
	- objects handed out by ReadObject() are copies, changes only take effect through WriteObject()
*/
type TemporaryStore struct {
	txDigest lib.TransactionDigest
	inputs   map[lib.ObjectID]*lib.Object // the objects at their input versions
	active   []lib.ObjectID               // mutable inputs in declaration order
	written  map[lib.ObjectID]*lib.Object // pending writes
	deleted  map[lib.ObjectID]struct{}    // pending deletions
	created  uint64                       // number of ids handed out by FreshID()
}

// NewTemporaryStore() seeds an overlay with the inputs of the transaction
func NewTemporaryStore(txDigest lib.TransactionDigest, inputs []*lib.Object) *TemporaryStore {
	s := &TemporaryStore{
		txDigest: txDigest,
		inputs:   make(map[lib.ObjectID]*lib.Object, len(inputs)),
		written:  make(map[lib.ObjectID]*lib.Object),
		deleted:  make(map[lib.ObjectID]struct{}),
	}
	for _, o := range inputs {
		s.inputs[o.ID] = o
		if !o.IsImmutable() {
			s.active = append(s.active, o.ID)
		}
	}
	return s
}

// TxDigest() returns the digest of the transaction being executed
func (s *TemporaryStore) TxDigest() lib.TransactionDigest { return s.txDigest }

// ReadObject() returns a copy of the latest version of an object in the overlay; nil if deleted or unknown
func (s *TemporaryStore) ReadObject(id lib.ObjectID) *lib.Object {
	if _, ok := s.deleted[id]; ok {
		return nil
	}
	if o, ok := s.written[id]; ok {
		return o.Clone()
	}
	if o, ok := s.inputs[id]; ok {
		return o.Clone()
	}
	return nil
}

// GetPackage() returns a package input
func (s *TemporaryStore) GetPackage(id lib.ObjectID) (*lib.MovePackage, bool) {
	o, ok := s.inputs[id]
	if !ok || !o.IsPackage() {
		return nil, false
	}
	return o.Package, true
}

// WriteObject() records a new state of the object; immutable inputs cannot be written
func (s *TemporaryStore) WriteObject(o *lib.Object) lib.ErrorI {
	if input, ok := s.inputs[o.ID]; ok && input.IsImmutable() {
		return ErrImmutableObjectWrite(o.ID)
	}
	delete(s.deleted, o.ID)
	s.written[o.ID] = o
	return nil
}

// DeleteObject() removes the object from the overlay
func (s *TemporaryStore) DeleteObject(id lib.ObjectID) lib.ErrorI {
	if input, ok := s.inputs[id]; ok && input.IsImmutable() {
		return ErrImmutableObjectWrite(id)
	}
	delete(s.written, id)
	// an object created and deleted within the transaction leaves no trace
	if _, ok := s.inputs[id]; ok {
		s.deleted[id] = struct{}{}
	}
	return nil
}

// FreshID() derives the id of the next object created by the transaction
func (s *TemporaryStore) FreshID() lib.ObjectID {
	id := lib.DeriveObjectID(s.txDigest, s.created)
	s.created++
	return id
}

// Reset() discards every pending write and deletion
func (s *TemporaryStore) Reset() {
	s.written = make(map[lib.ObjectID]*lib.Object)
	s.deleted = make(map[lib.ObjectID]struct{})
}

// EnsureActiveInputsMutated() marks every mutable input that was neither written nor deleted as written,
// so each of them gets a new version even if its content did not change
func (s *TemporaryStore) EnsureActiveInputsMutated() {
	for _, id := range s.active {
		_, written := s.written[id]
		_, deleted := s.deleted[id]
		if !written && !deleted {
			s.written[id] = s.inputs[id].Clone()
		}
	}
}

// ChargeGasForStorageChanges() charges storage for every written object and credits the rebate of every
// replaced or deleted input; the new storage rebates are recorded only if every charge succeeded
func (s *TemporaryStore) ChargeGasForStorageChanges(gas *GasStatus, gasObject *lib.Object) lib.ErrorI {
	var toUpdate []*lib.Object
	// the gas object is charged in advance as it is always mutated
	rebate, err := gas.ChargeStorageMutation(gasObject.Size(), gasObject.StorageRebate)
	if err != nil {
		return err
	}
	gasObject.StorageRebate = rebate
	toUpdate = append(toUpdate, gasObject)
	for _, id := range sortedIDs(s.written) {
		if id == gasObject.ID {
			continue
		}
		o := s.written[id].Clone()
		var oldRebate uint64
		if input, ok := s.inputs[id]; ok {
			oldRebate = input.StorageRebate
		}
		newRebate, e := gas.ChargeStorageMutation(o.Size(), oldRebate)
		if e != nil {
			return e
		}
		if !o.IsImmutable() {
			o.StorageRebate = newRebate
			toUpdate = append(toUpdate, o)
		}
	}
	for _, id := range sortedIDs(s.deleted) {
		if input, ok := s.inputs[id]; ok {
			if _, e := gas.ChargeStorageMutation(0, input.StorageRebate); e != nil {
				return e
			}
		}
	}
	for _, o := range toUpdate {
		if e := s.WriteObject(o); e != nil {
			return e
		}
	}
	return nil
}

// Changes is the finalized outcome of an execution, ready to be committed
type Changes struct {
	Inputs  []*lib.Object   // the objects at their input versions
	Written []*lib.Object   // created and mutated objects at their new versions, sorted by id
	Deleted []lib.ObjectRef // deletion references, sorted by id
}

// ToEffects() stamps the pending writes with their new versions and builds the effects of the execution
func (s *TemporaryStore) ToEffects(status lib.ExecutionStatus, gasID lib.ObjectID) (*lib.TransactionEffects, *Changes) {
	effects := &lib.TransactionEffects{
		Status:            status,
		TransactionDigest: s.txDigest,
		Dependencies:      s.dependencies(),
	}
	changes := new(Changes)
	for _, id := range sortedIDs(s.inputs) {
		changes.Inputs = append(changes.Inputs, s.inputs[id])
	}
	for _, id := range sortedIDs(s.written) {
		o := s.written[id]
		input, mutated := s.inputs[id]
		if mutated {
			o.Version = input.Version + 1
		} else {
			o.Version = lib.ObjectStartVersion
		}
		o.PreviousTransaction = s.txDigest
		ref := lib.OwnedObjectRef{Reference: o.Reference(), Owner: o.Owner}
		if mutated {
			effects.Mutated = append(effects.Mutated, ref)
		} else {
			effects.Created = append(effects.Created, ref)
		}
		if id == gasID {
			effects.GasObject = ref
		}
		changes.Written = append(changes.Written, o)
	}
	for _, id := range sortedIDs(s.deleted) {
		ref := lib.ObjectRef{ID: id, Version: s.inputs[id].Version + 1, Digest: lib.DeletedObjectDigest}
		effects.Deleted = append(effects.Deleted, ref)
		changes.Deleted = append(changes.Deleted, ref)
	}
	return effects, changes
}

// dependencies() returns the distinct transactions that produced the inputs, excluding genesis, sorted
func (s *TemporaryStore) dependencies() (deps []lib.TransactionDigest) {
	seen := make(map[lib.TransactionDigest]struct{})
	for _, o := range s.inputs {
		if o.PreviousTransaction == lib.GenesisTransactionDigest {
			continue
		}
		if _, ok := seen[o.PreviousTransaction]; ok {
			continue
		}
		seen[o.PreviousTransaction] = struct{}{}
		deps = append(deps, o.PreviousTransaction)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Less(deps[j]) })
	return
}

// sortedIDs() returns the keys of the map in byte order
func sortedIDs[V any](m map[lib.ObjectID]V) []lib.ObjectID {
	ids := make([]lib.ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
