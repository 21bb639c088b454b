package store

import (
	"bytes"

	"github.com/canopy-network/fastpath/lib"
	"github.com/dgraph-io/badger/v4"
)

// RWStoreI interface enforcement
var _ lib.RWStoreI = &TxnWrapper{}

// TxnWrapper is a wrapper over the badgerDB Txn object that conforms to the RWStoreI interface
// every key is transparently namespaced under prefix
type TxnWrapper struct {
	logger lib.LoggerI
	db     *badger.Txn
	prefix []byte
}

// NewTxnWrapper() creates a new TxnWrapper with the provided params
func NewTxnWrapper(db *badger.Txn, logger lib.LoggerI, prefix []byte) *TxnWrapper {
	return &TxnWrapper{
		logger: logger,
		db:     db,
		prefix: prefix,
	}
}

// WithPrefix() returns a wrapper over the same transaction namespaced under another prefix, letting one
// badger transaction span the views of several stores
func (t *TxnWrapper) WithPrefix(prefix []byte) *TxnWrapper {
	return NewTxnWrapper(t.db, t.logger, prefix)
}

// Get() retrieves the value associated with the key from the BadgerDB transaction; nil if not found
func (t *TxnWrapper) Get(k []byte) ([]byte, lib.ErrorI) {
	item, err := t.db.Get(lib.Append(t.prefix, k))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, ErrStoreGet(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, ErrStoreGet(err)
	}
	return val, nil
}

// Has() returns true if the key exists, even with an empty value
func (t *TxnWrapper) Has(k []byte) (bool, lib.ErrorI) {
	_, err := t.db.Get(lib.Append(t.prefix, k))
	switch {
	case err == badger.ErrKeyNotFound:
		return false, nil
	case err != nil:
		return false, ErrStoreGet(err)
	}
	return true, nil
}

// Set() stores the key-value pair in the BadgerDB transaction
func (t *TxnWrapper) Set(k, v []byte) lib.ErrorI {
	if err := t.db.Set(lib.Append(t.prefix, k), v); err != nil {
		return ErrStoreSet(err)
	}
	return nil
}

// Delete() removes the key-value pair from the BadgerDB transaction
func (t *TxnWrapper) Delete(k []byte) lib.ErrorI {
	if err := t.db.Delete(lib.Append(t.prefix, k)); err != nil {
		return ErrStoreDelete(err)
	}
	return nil
}

// Iterator() creates a new iterator for the given prefix in the BadgerDB transaction
func (t *TxnWrapper) Iterator(prefix []byte) (lib.IteratorI, lib.ErrorI) {
	parent := t.db.NewIterator(badger.IteratorOptions{
		Prefix: lib.Append(t.prefix, prefix),
	})
	parent.Rewind()
	return &Iterator{
		logger: t.logger,
		parent: parent,
		prefix: t.prefix,
	}, nil
}

// RevIterator() creates a new reverse iterator for the given prefix in the BadgerDB transaction
func (t *TxnWrapper) RevIterator(prefix []byte) (lib.IteratorI, lib.ErrorI) {
	newPrefix := lib.Append(t.prefix, prefix)
	// badger's prefix option would hide a key equal to the seek target, so the prefix is checked here instead
	parent := t.db.NewIterator(badger.IteratorOptions{Reverse: true})
	seekLast(parent, newPrefix)
	return &Iterator{
		logger:      t.logger,
		parent:      parent,
		prefix:      t.prefix,
		validPrefix: newPrefix,
	}, nil
}

// seekLast() positions the iterator at the last key for the given prefix
func seekLast(it *badger.Iterator, prefix []byte) {
	it.Seek(prefixEnd(prefix))
	// a reverse seek lands on the seek key itself when it exists
	if it.Valid() && !bytes.HasPrefix(it.Item().Key(), prefix) {
		it.Next()
	}
}

// IteratorI interface enforcement
var _ lib.IteratorI = &Iterator{}

// Iterator implements a wrapper around BadgerDB's iterator but satisfies the IteratorI interface
// keys are returned without the namespace of the wrapper that created it
type Iterator struct {
	logger      lib.LoggerI
	parent      *badger.Iterator
	prefix      []byte // namespace stripped from the returned keys
	validPrefix []byte // optional bound enforced here rather than by badger
}

func (i *Iterator) Next()  { i.parent.Next() }
func (i *Iterator) Close() { i.parent.Close() }

// Valid() returns true while the iterator points at a key within its prefix
func (i *Iterator) Valid() bool {
	if !i.parent.Valid() {
		return false
	}
	return i.validPrefix == nil || bytes.HasPrefix(i.parent.Item().Key(), i.validPrefix)
}

// Key() returns a copy of the current key with the namespace removed
func (i *Iterator) Key() []byte {
	return bytes.TrimPrefix(i.parent.Item().KeyCopy(nil), i.prefix)
}

// Value() returns a copy of the current value
func (i *Iterator) Value() []byte {
	value, err := i.parent.Item().ValueCopy(nil)
	if err != nil {
		i.logger.Error(ErrStoreGet(err).Error())
	}
	return value
}
