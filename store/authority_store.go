package store

import (
	"github.com/canopy-network/fastpath/lib"
	lru "github.com/hashicorp/golang-lru"
)

/*
	AuthorityStore persists everything one authority knows about the ledger:

	- the latest version of every live object and an owner index over them
	- a lock per owned object reference, naming the transaction the authority voted for (empty until voted)
	- parent sync: for every reference ever produced, the transaction that produced it
	- the transactions the authority voted for, the certificates it executed and the effects it signed
	- the local execution order of certificates

	Reads of the latest objects go through an LRU cache that is updated only after the commit succeeds.
*/

// AuthorityStore is the persistent object ledger of an authority
type AuthorityStore struct {
	db    *DB
	cache *lru.Cache // object id -> *lib.Object (latest version)
	log   lib.LoggerI
}

// StateUpdate is everything one executed certificate changes, committed atomically by UpdateState()
type StateUpdate struct {
	Certificate   *lib.CertifiedTransaction     // the executed certificate
	SignedEffects *lib.SignedTransactionEffects // this authority's vote on its effects
	Inputs        []*lib.Object                 // the objects the certificate consumed at their input versions
	Written       []*lib.Object                 // created and mutated objects at their new versions
	Deleted       []lib.ObjectRef               // deletion references (id, new version, deleted digest)
	// Record is called with the execution sequence inside the committing transaction; its writes commit or
	// roll back with the update
	Record func(txn *TxnWrapper, sequence uint64) lib.ErrorI
}

// NewAuthorityStore() creates the authority store over the database
func NewAuthorityStore(db *DB, cacheSize int, log lib.LoggerI) (*AuthorityStore, lib.ErrorI) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return &AuthorityStore{db: db, cache: cache, log: log}, nil
}

// IsEmpty() returns true if no object was ever written; used to decide whether to insert genesis
func (s *AuthorityStore) IsEmpty() (empty bool, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(lib.JoinLenPrefix(parentPrefix))
		if e != nil {
			return e
		}
		defer it.Close()
		empty = !it.Valid()
		return nil
	})
	return
}

// GetObject() returns the latest version of a live object; nil if unknown or deleted
func (s *AuthorityStore) GetObject(id lib.ObjectID) (object *lib.Object, err lib.ErrorI) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.(*lib.Object).Clone(), nil
	}
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) (e lib.ErrorI) {
		object, e = getObject(txn, id)
		return
	})
	if err != nil || object == nil {
		return
	}
	s.cache.Add(id, object.Clone())
	return
}

// GetObjects() returns the latest version of each object; missing objects are nil entries
func (s *AuthorityStore) GetObjects(ids []lib.ObjectID) ([]*lib.Object, lib.ErrorI) {
	out := make([]*lib.Object, len(ids))
	for i, id := range ids {
		o, err := s.GetObject(id)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

// GetLatestParentEntry() returns the most recent reference of an object and the transaction that produced it;
// after deletion the reference carries the deleted digest. ok is false for an unknown object
func (s *AuthorityStore) GetLatestParentEntry(id lib.ObjectID) (ref lib.ObjectRef, parent lib.TransactionDigest, ok bool, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it, e := txn.RevIterator(ParentPrefix(id))
		if e != nil {
			return e
		}
		defer it.Close()
		if !it.Valid() {
			return nil
		}
		ref, ok = RefFromKey(it.Key())
		copy(parent[:], it.Value())
		return nil
	})
	return
}

// GetParentByVersion() returns the reference of an object at a version and the transaction that produced it
func (s *AuthorityStore) GetParentByVersion(id lib.ObjectID, version lib.SequenceNumber) (ref lib.ObjectRef, parent lib.TransactionDigest, ok bool, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(ParentVersionPrefix(id, version))
		if e != nil {
			return e
		}
		defer it.Close()
		if !it.Valid() {
			return nil
		}
		ref, ok = RefFromKey(it.Key())
		copy(parent[:], it.Value())
		return nil
	})
	return
}

// GetParent() returns the transaction that produced an exact reference
func (s *AuthorityStore) GetParent(ref lib.ObjectRef) (parent lib.TransactionDigest, ok bool, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		bz, e := txn.Get(KeyForParent(ref))
		if e != nil || bz == nil {
			return e
		}
		ok = true
		copy(parent[:], bz)
		return nil
	})
	return
}

// GetTransactionLock() returns the transaction locking the reference; nil if the lock is unset and
// ErrTransactionLockMissing if the reference is not a live owned version
func (s *AuthorityStore) GetTransactionLock(ref lib.ObjectRef) (lock *lib.TransactionDigest, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) (e lib.ErrorI) {
		lock, e = getLock(txn, ref)
		return
	})
	return
}

// SetTransactionLocks() atomically locks every reference to the signed transaction and persists the vote;
// relocking to the same transaction is a no-op, a lock held by another transaction fails the whole batch
func (s *AuthorityStore) SetTransactionLocks(refs []lib.ObjectRef, signed *lib.SignedTransaction) lib.ErrorI {
	if signed == nil {
		return ErrNilObject("signed transaction")
	}
	digest := signed.Digest()
	return s.db.Update(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		for _, ref := range refs {
			lock, err := getLock(txn, ref)
			if err != nil {
				return err
			}
			if lock != nil && *lock != digest {
				return lib.ErrConflictingTransaction(*lock)
			}
		}
		for _, ref := range refs {
			if err := txn.Set(KeyForLock(ref), digest[:]); err != nil {
				return err
			}
		}
		return setValue(txn, KeyForSignedTx(digest), signed)
	})
}

// GetSignedTransaction() returns this authority's vote on a transaction; nil if it never voted
func (s *AuthorityStore) GetSignedTransaction(digest lib.TransactionDigest) (signed *lib.SignedTransaction, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		signed = new(lib.SignedTransaction)
		found, e := getValue(txn, KeyForSignedTx(digest), signed)
		if !found {
			signed = nil
		}
		return e
	})
	return
}

// GetCertificate() returns an executed certificate; nil if not executed here
func (s *AuthorityStore) GetCertificate(digest lib.TransactionDigest) (cert *lib.CertifiedTransaction, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		cert = new(lib.CertifiedTransaction)
		found, e := getValue(txn, KeyForCertificate(digest), cert)
		if !found {
			cert = nil
		}
		return e
	})
	return
}

// GetSignedEffects() returns the signed effects of an executed certificate; nil if not executed here
func (s *AuthorityStore) GetSignedEffects(digest lib.TransactionDigest) (effects *lib.SignedTransactionEffects, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		effects = new(lib.SignedTransactionEffects)
		found, e := getValue(txn, KeyForEffects(digest), effects)
		if !found {
			effects = nil
		}
		return e
	})
	return
}

// OwnedObjects() returns the latest references of the objects owned by the address, ordered by id
func (s *AuthorityStore) OwnedObjects(owner lib.Address) (refs []lib.ObjectRef, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(OwnerPrefix(owner))
		if e != nil {
			return e
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			ref := new(lib.ObjectRef)
			if e = lib.Unmarshal(it.Value(), ref); e != nil {
				return e
			}
			refs = append(refs, *ref)
		}
		return nil
	})
	return
}

// ExecutedSequence() returns the digests of executed certificates in local execution order starting at from
func (s *AuthorityStore) ExecutedSequence(from uint64) (seqs []uint64, digests []lib.TransactionDigest, err lib.ErrorI) {
	err = s.db.View(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(SequencePrefix())
		if e != nil {
			return e
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			segments := lib.DecodeLengthPrefixed(it.Key())
			if len(segments) != 2 {
				continue
			}
			seq := lib.BytesToUint64(segments[1])
			if seq < from {
				continue
			}
			var d lib.TransactionDigest
			copy(d[:], it.Value())
			seqs, digests = append(seqs, seq), append(digests, d)
		}
		return nil
	})
	return
}

// InsertGenesisObjects() writes objects that exist before any transaction: no parent certificate and an unset lock
func (s *AuthorityStore) InsertGenesisObjects(objects []*lib.Object) lib.ErrorI {
	err := s.db.Update(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		for _, o := range objects {
			if o == nil {
				return ErrNilObject("genesis object")
			}
			if err := writeObject(txn, o, o.PreviousTransaction); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, o := range objects {
		s.cache.Add(o.ID, o.Clone())
	}
	return nil
}

// UpdateState() commits an executed certificate in one database transaction and returns its local
// execution sequence; committing the same certificate twice is a no-op and fresh is false
func (s *AuthorityStore) UpdateState(update *StateUpdate) (sequence uint64, fresh bool, err lib.ErrorI) {
	if update == nil || update.Certificate == nil || update.SignedEffects == nil {
		return 0, false, ErrNilObject("state update")
	}
	digest := update.Certificate.Digest()
	duplicate := false
	err = s.db.Update(authorityPrefix, func(txn *TxnWrapper) lib.ErrorI {
		existing, e := txn.Get(KeyForEffects(digest))
		if e != nil {
			return e
		}
		if existing != nil {
			duplicate = true
			return nil
		}
		// consume the inputs: their locks and owner index entries belong to the old versions
		for _, input := range update.Inputs {
			if input.IsImmutable() {
				continue
			}
			if e = txn.Delete(KeyForLock(input.Reference())); e != nil {
				return e
			}
			if input.Owner.Kind == lib.AddressOwner {
				if e = txn.Delete(KeyForOwner(input.Owner.Address, input.ID)); e != nil {
					return e
				}
			}
		}
		for _, o := range update.Written {
			if e = writeObject(txn, o, digest); e != nil {
				return e
			}
		}
		for _, ref := range update.Deleted {
			if e = txn.Delete(KeyForObject(ref.ID)); e != nil {
				return e
			}
			if e = txn.Set(KeyForParent(ref), digest[:]); e != nil {
				return e
			}
		}
		if e = setValue(txn, KeyForCertificate(digest), update.Certificate); e != nil {
			return e
		}
		if e = setValue(txn, KeyForEffects(digest), update.SignedEffects); e != nil {
			return e
		}
		sequence, e = nextSequence(txn)
		if e != nil {
			return e
		}
		if e = txn.Set(KeyForSequence(sequence), digest[:]); e != nil {
			return e
		}
		if update.Record != nil {
			return update.Record(txn, sequence)
		}
		return nil
	})
	if err != nil || duplicate {
		return
	}
	fresh = true
	// the cache only reflects committed state
	for _, ref := range update.Deleted {
		s.cache.Remove(ref.ID)
	}
	for _, o := range update.Written {
		s.cache.Add(o.ID, o.Clone())
	}
	s.log.Debugf("Committed certificate %s at sequence %d", digest, sequence)
	return
}

// writeObject() stores a new latest version of the object with its parent entry, owner index and empty lock
func writeObject(txn *TxnWrapper, o *lib.Object, parent lib.TransactionDigest) lib.ErrorI {
	ref := o.Reference()
	if err := setValue(txn, KeyForObject(o.ID), o); err != nil {
		return err
	}
	if err := txn.Set(KeyForParent(ref), parent[:]); err != nil {
		return err
	}
	if o.IsImmutable() {
		return nil
	}
	if err := txn.Set(KeyForLock(ref), []byte{}); err != nil {
		return err
	}
	if o.Owner.Kind == lib.AddressOwner {
		return setValue(txn, KeyForOwner(o.Owner.Address, o.ID), &ref)
	}
	return nil
}

// getObject() reads the latest version of an object within a transaction
func getObject(txn *TxnWrapper, id lib.ObjectID) (*lib.Object, lib.ErrorI) {
	object := new(lib.Object)
	found, err := getValue(txn, KeyForObject(id), object)
	if err != nil || !found {
		return nil, err
	}
	return object, nil
}

// getLock() reads a lock within a transaction
func getLock(txn *TxnWrapper, ref lib.ObjectRef) (*lib.TransactionDigest, lib.ErrorI) {
	bz, err := txn.Get(KeyForLock(ref))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		exists, e := txn.Has(KeyForLock(ref))
		if e != nil {
			return nil, e
		}
		if !exists {
			return nil, lib.ErrTransactionLockMissing(ref)
		}
	}
	if len(bz) == 0 {
		return nil, nil
	}
	lock := new(lib.TransactionDigest)
	copy(lock[:], bz)
	return lock, nil
}

// nextSequence() returns and increments the local execution sequence
func nextSequence(txn *TxnWrapper) (uint64, lib.ErrorI) {
	bz, err := txn.Get(nextSequenceKey)
	if err != nil {
		return 0, err
	}
	seq := lib.BytesToUint64(bz)
	return seq, txn.Set(nextSequenceKey, lib.Uint64ToBytes(seq+1))
}

// setValue() encodes and stores the value
func setValue(txn *TxnWrapper, key []byte, value any) lib.ErrorI {
	bz, err := lib.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, bz)
}

// getValue() loads and decodes the value; found is false if the key does not exist
func getValue(txn *TxnWrapper, key []byte, ptr any) (found bool, err lib.ErrorI) {
	bz, err := txn.Get(key)
	if err != nil || bz == nil {
		return false, err
	}
	return true, lib.Unmarshal(bz, ptr)
}
