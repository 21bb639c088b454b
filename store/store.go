package store

import (
	"path/filepath"

	"github.com/canopy-network/fastpath/lib"
	"github.com/dgraph-io/badger/v4"
)

/*
	DB is the ordered key value store every persistent component of the authority is built on.

	Each component owns a key prefix and performs each of its operations inside one badger transaction,
	so a batch of updates to its views is applied atomically or not at all. Keys are built from length
	prefixed segments (lib.JoinLenPrefix) with versions and sequence numbers big endian encoded, which
	keeps lexicographic iteration in numeric order.
*/

// DB is a badger database shared by the stores of an authority
type DB struct {
	db  *badger.DB
	log lib.LoggerI
}

// New() opens the database described by the config, either in memory or at <dataDirPath>/<dbName>
func New(config lib.StoreConfig, log lib.LoggerI) (*DB, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName)).
		WithLoggingLevel(badger.ERROR).
		WithNumVersionsToKeep(1)
	if config.MemTableSize != 0 {
		opts = opts.WithMemTableSize(config.MemTableSize)
	}
	if config.ValueLogFileSize != 0 {
		opts = opts.WithValueLogFileSize(config.ValueLogFileSize)
	}
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return &DB{db: db, log: log}, nil
}

// NewInMemory() opens a throwaway in memory database; used by tests and ephemeral authorities
func NewInMemory(log lib.LoggerI) (*DB, lib.ErrorI) {
	return New(lib.StoreConfig{InMemory: true}, log)
}

// Update() runs fn inside a read-write transaction under the prefix; the writes are committed only if fn returns nil
func (d *DB) Update(prefix []byte, fn func(txn *TxnWrapper) lib.ErrorI) (err lib.ErrorI) {
	er := d.db.Update(func(txn *badger.Txn) error {
		if err = fn(NewTxnWrapper(txn, d.log, prefix)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if er != nil {
		return ErrCommitDB(er)
	}
	return nil
}

// View() runs fn inside a read only transaction under the prefix
func (d *DB) View(prefix []byte, fn func(txn *TxnWrapper) lib.ErrorI) (err lib.ErrorI) {
	er := d.db.View(func(txn *badger.Txn) error {
		if err = fn(NewTxnWrapper(txn, d.log, prefix)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if er != nil {
		return ErrStoreGet(er)
	}
	return nil
}

// Close() gracefully stops the database
func (d *DB) Close() lib.ErrorI {
	if err := d.db.Close(); err != nil {
		return ErrCloseDB(err)
	}
	return nil
}
