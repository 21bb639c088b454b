package checkpoint

import (
	"math"
	"sort"

	"github.com/algorand/go-deadlock"
	"github.com/canopy-network/fastpath/lib"
	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/canopy-network/fastpath/store"
)

/*
	CheckpointStore tracks which transactions one authority has processed relative to the checkpoints.

	It maintains four views over transaction digests:

	- unprocessed:           announced by a checkpoint but not yet processed locally (digest -> checkpoint)
	- extra:                 processed locally but not yet in any checkpoint (digest -> transaction sequence)
	- checkpoint contents:   the finalized checkpoints (checkpoint, transaction sequence -> digest)
	- transactions to checkpoint: the position of every checkpointed digest (digest -> checkpoint, transaction sequence)

	A digest is in at most one of unprocessed and extra. Once checkpointed it leaves extra and is recorded in
	the contents and positions; if it was unknown locally it also waits in unprocessed under a placeholder
	sequence until the authority processes it. Every public mutation is one badger transaction; processed
	transactions may instead be written by a ProcessedWriter inside the transaction that commits their execution.
*/

// placeholderSequence is the first transaction sequence used for checkpointed digests not yet processed locally
const placeholderSequence = math.MaxUint64 / 2

// CheckpointStore is the persistent checkpoint state of an authority
type CheckpointStore struct {
	db      *store.DB
	name    lib.AuthorityName
	key     crypto.PrivateKeyI
	epoch   lib.EpochID
	locals  Locals
	mu      deadlock.Mutex // single writer
	metrics *lib.Metrics
	log     lib.LoggerI
}

// Locals are the scalar state of the store, persisted alongside the views
type Locals struct {
	NextCheckpoint          uint64                  `codec:"nextCheckpoint" json:"nextCheckpoint"`
	NextTransactionSequence uint64                  `codec:"nextTxSequence" json:"nextTxSequence"`
	CurrentProposal         *lib.CheckpointProposal `codec:"proposal" json:"proposal,omitempty"`
}

// SequencedDigest is a transaction digest with its local processing sequence
type SequencedDigest struct {
	Sequence uint64
	Digest   lib.TransactionDigest
}

// NewCheckpointStore() opens the checkpoint views of the authority and loads its locals
func NewCheckpointStore(db *store.DB, name lib.AuthorityName, key crypto.PrivateKeyI, epoch lib.EpochID,
	metrics *lib.Metrics, log lib.LoggerI) (*CheckpointStore, lib.ErrorI) {
	s := &CheckpointStore{db: db, name: name, key: key, epoch: epoch, metrics: metrics, log: log}
	err := db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		bz, e := txn.Get(keyForLocals())
		if e != nil || bz == nil {
			return e
		}
		return lib.Unmarshal(bz, &s.locals)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NextCheckpointSequence() returns the sequence of the checkpoint the authority expects next
func (s *CheckpointStore) NextCheckpointSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locals.NextCheckpoint
}

// NextTransactionSequence() returns one past the highest processed transaction sequence
func (s *CheckpointStore) NextTransactionSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locals.NextTransactionSequence
}

// UpdateProcessedTransactions() records locally processed transactions; a digest a checkpoint already
// announced takes its real sequence in that checkpoint, any other new digest becomes extra
func (s *CheckpointStore) UpdateProcessedTransactions(batch []SequencedDigest) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	locals := s.locals
	err := s.db.Update(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		return s.recordProcessed(txn, batch, &locals)
	})
	if err != nil {
		return err
	}
	s.locals = locals
	s.updateMetrics()
	return nil
}

// ProcessedWriter records processed transactions inside a database transaction opened by another store.
// The checkpoint store is held from BeginProcessed() until Done()
type ProcessedWriter struct {
	s      *CheckpointStore
	locals Locals
	wrote  bool
}

// BeginProcessed() reserves the store for one write made through the returned writer
func (s *CheckpointStore) BeginProcessed() *ProcessedWriter {
	s.mu.Lock()
	return &ProcessedWriter{s: s, locals: s.locals}
}

// Write() records the digest at its execution sequence within txn; see UpdateProcessedTransactions()
func (w *ProcessedWriter) Write(txn *store.TxnWrapper, sequence uint64, digest lib.TransactionDigest) lib.ErrorI {
	locals := w.s.locals
	if err := w.s.recordProcessed(txn.WithPrefix(checkpointPrefix), []SequencedDigest{{Sequence: sequence, Digest: digest}}, &locals); err != nil {
		return err
	}
	w.locals, w.wrote = locals, true
	return nil
}

// Done() releases the store; the new locals are kept only if the enclosing transaction committed
func (w *ProcessedWriter) Done(committed bool) {
	defer w.s.mu.Unlock()
	if committed && w.wrote {
		w.s.locals = w.locals
		w.s.updateMetrics()
	}
}

// recordProcessed() applies a batch of processed transactions to the views and the locals
func (s *CheckpointStore) recordProcessed(txn *store.TxnWrapper, batch []SequencedDigest, locals *Locals) lib.ErrorI {
	for _, tx := range batch {
		if tx.Sequence >= locals.NextTransactionSequence {
			locals.NextTransactionSequence = tx.Sequence + 1
		}
		cpSeq, unprocessed, err := getUint64(txn, keyForUnprocessed(tx.Digest))
		if err != nil {
			return err
		}
		if unprocessed {
			if err = s.promote(txn, tx, cpSeq); err != nil {
				return err
			}
			continue
		}
		// already extra or already checkpointed with its real sequence
		known, err := isKnown(txn, tx.Digest)
		if err != nil {
			return err
		}
		if known {
			continue
		}
		if err = txn.Set(keyForExtra(tx.Digest), lib.Uint64ToBytes(tx.Sequence)); err != nil {
			return err
		}
	}
	return setLocals(txn, locals)
}

// promote() moves a processed digest out of unprocessed, replacing its placeholder position with the real sequence
func (s *CheckpointStore) promote(txn *store.TxnWrapper, tx SequencedDigest, checkpoint uint64) lib.ErrorI {
	bz, err := txn.Get(keyForTxCheckpoint(tx.Digest))
	if err != nil {
		return err
	}
	if bz != nil {
		if err = txn.Delete(keyForContents(checkpoint, positionFromBytes(bz).TxSequence)); err != nil {
			return err
		}
	}
	if err = txn.Delete(keyForUnprocessed(tx.Digest)); err != nil {
		return err
	}
	return setPosition(txn, tx.Digest, position{Checkpoint: checkpoint, TxSequence: tx.Sequence})
}

// SetProposal() returns the proposal for the next checkpoint, snapshotting the extra transactions in
// processing order the first time it is called for that checkpoint
func (s *CheckpointStore) SetProposal() (*lib.CheckpointProposal, lib.ErrorI) {
	return s.setProposal(false)
}

// RefreshProposal() discards the stored proposal and snapshots the extra transactions again
func (s *CheckpointStore) RefreshProposal() (*lib.CheckpointProposal, lib.ErrorI) {
	return s.setProposal(true)
}

func (s *CheckpointStore) setProposal(refresh bool) (*lib.CheckpointProposal, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.locals.CurrentProposal; p != nil && !refresh && p.Sequence() == s.locals.NextCheckpoint {
		return p, nil
	}
	locals := s.locals
	err := s.db.Update(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		extra, err := extraTransactions(txn)
		if err != nil {
			return err
		}
		digests := make([]lib.TransactionDigest, len(extra))
		for i, tx := range extra {
			digests[i] = tx.Digest
		}
		if locals.CurrentProposal, err = lib.NewCheckpointProposal(s.epoch, locals.NextCheckpoint, digests, s.name, s.key); err != nil {
			return err
		}
		return setLocals(txn, &locals)
	})
	if err != nil {
		return nil, err
	}
	s.locals = locals
	s.log.Debugf("Proposed %d transactions for checkpoint %d", len(locals.CurrentProposal.Transactions), locals.NextCheckpoint)
	return locals.CurrentProposal, nil
}

// UpdateNewCheckpoint() finalizes the next checkpoint with the agreed digests; extra digests move into the
// checkpoint with their sequence, unknown digests are recorded as unprocessed and anything extra that is not
// in the list stays pending for a later checkpoint
func (s *CheckpointStore) UpdateNewCheckpoint(sequence uint64, digests []lib.TransactionDigest) lib.ErrorI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequence != s.locals.NextCheckpoint {
		return lib.ErrCheckpointSequence(s.locals.NextCheckpoint, sequence)
	}
	locals := s.locals
	seen := make(map[lib.TransactionDigest]struct{}, len(digests))
	var placeholders uint64
	err := s.db.Update(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		for _, d := range digests {
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			checkpointed, err := txn.Has(keyForTxCheckpoint(d))
			if err != nil {
				return err
			}
			if checkpointed {
				return lib.ErrAlreadyCheckpointed(d)
			}
			txSeq, extra, err := getUint64(txn, keyForExtra(d))
			if err != nil {
				return err
			}
			if extra {
				if err = txn.Delete(keyForExtra(d)); err != nil {
					return err
				}
			} else {
				txSeq = placeholderSequence + placeholders
				placeholders++
				if err = txn.Set(keyForUnprocessed(d), lib.Uint64ToBytes(sequence)); err != nil {
					return err
				}
			}
			if err = setPosition(txn, d, position{Checkpoint: sequence, TxSequence: txSeq}); err != nil {
				return err
			}
		}
		locals.NextCheckpoint = sequence + 1
		locals.CurrentProposal = nil
		return setLocals(txn, &locals)
	})
	if err != nil {
		return err
	}
	s.locals = locals
	s.log.Infof("Checkpoint %d finalized with %d transactions (%d unprocessed)", sequence, len(seen), placeholders)
	s.updateMetrics()
	return nil
}

// LowestUnprocessedSequence() returns the lowest checkpoint with transactions not yet processed locally;
// the next checkpoint if every checkpointed transaction was processed
func (s *CheckpointStore) LowestUnprocessedSequence() (uint64, lib.ErrorI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lowest := s.locals.NextCheckpoint
	err := s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		it, err := txn.Iterator(lib.JoinLenPrefix(unprocessedPrefix))
		if err != nil {
			return err
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			if cp := lib.BytesToUint64(it.Value()); cp < lowest {
				lowest = cp
			}
		}
		return nil
	})
	return lowest, err
}

// ExtraTransactions() returns the processed transactions not yet in any checkpoint, in processing order
func (s *CheckpointStore) ExtraTransactions() (extra []SequencedDigest, err lib.ErrorI) {
	err = s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) (e lib.ErrorI) {
		extra, e = extraTransactions(txn)
		return
	})
	return
}

// UnprocessedTransactions() returns the checkpointed transactions not yet processed locally with their checkpoint
func (s *CheckpointStore) UnprocessedTransactions() (unprocessed map[lib.TransactionDigest]uint64, err lib.ErrorI) {
	unprocessed = make(map[lib.TransactionDigest]uint64)
	err = s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(lib.JoinLenPrefix(unprocessedPrefix))
		if e != nil {
			return e
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			if d, ok := digestFromKey(it.Key()); ok {
				unprocessed[d] = lib.BytesToUint64(it.Value())
			}
		}
		return nil
	})
	return
}

// CheckpointContents() returns the digests of a finalized checkpoint ordered by transaction sequence
func (s *CheckpointStore) CheckpointContents(sequence uint64) (contents []lib.TransactionDigest, err lib.ErrorI) {
	err = s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(contentsCheckpointPrefix(sequence))
		if e != nil {
			return e
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			var d lib.TransactionDigest
			copy(d[:], it.Value())
			contents = append(contents, d)
		}
		return nil
	})
	return
}

// CountCheckpointContents() returns the number of digests across every finalized checkpoint
func (s *CheckpointStore) CountCheckpointContents() (count int, err lib.ErrorI) {
	err = s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		it, e := txn.Iterator(lib.JoinLenPrefix(contentsPrefix))
		if e != nil {
			return e
		}
		defer it.Close()
		for ; it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return
}

// TransactionCheckpoint() returns the checkpoint and transaction sequence of a checkpointed digest
func (s *CheckpointStore) TransactionCheckpoint(d lib.TransactionDigest) (checkpoint, txSequence uint64, ok bool, err lib.ErrorI) {
	err = s.db.View(checkpointPrefix, func(txn *store.TxnWrapper) lib.ErrorI {
		bz, e := txn.Get(keyForTxCheckpoint(d))
		if e != nil || bz == nil {
			return e
		}
		p := positionFromBytes(bz)
		checkpoint, txSequence, ok = p.Checkpoint, p.TxSequence, true
		return nil
	})
	return
}

// Locals() returns a copy of the scalar state
func (s *CheckpointStore) Locals() Locals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locals
}

// updateMetrics() publishes the sizes of the pending views
func (s *CheckpointStore) updateMetrics() {
	if s.metrics == nil {
		return
	}
	extra, err := s.ExtraTransactions()
	if err != nil {
		return
	}
	unprocessed, err := s.UnprocessedTransactions()
	if err != nil {
		return
	}
	s.metrics.UpdateCheckpointMetrics(s.locals.NextCheckpoint, len(extra), len(unprocessed))
}

// extraTransactions() reads the extra view sorted by transaction sequence
func extraTransactions(txn *store.TxnWrapper) (extra []SequencedDigest, err lib.ErrorI) {
	it, err := txn.Iterator(lib.JoinLenPrefix(extraPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if d, ok := digestFromKey(it.Key()); ok {
			extra = append(extra, SequencedDigest{Sequence: lib.BytesToUint64(it.Value()), Digest: d})
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Sequence < extra[j].Sequence })
	return
}

// isKnown() returns true if the digest is extra or has a position in a checkpoint
func isKnown(txn *store.TxnWrapper, d lib.TransactionDigest) (bool, lib.ErrorI) {
	extra, err := txn.Has(keyForExtra(d))
	if err != nil || extra {
		return extra, err
	}
	return txn.Has(keyForTxCheckpoint(d))
}

// setPosition() records the position of a checkpointed digest in both positional views
func setPosition(txn *store.TxnWrapper, d lib.TransactionDigest, p position) lib.ErrorI {
	if err := txn.Set(keyForContents(p.Checkpoint, p.TxSequence), d[:]); err != nil {
		return err
	}
	return txn.Set(keyForTxCheckpoint(d), p.bytes())
}

func setLocals(txn *store.TxnWrapper, locals *Locals) lib.ErrorI {
	bz, err := lib.Marshal(locals)
	if err != nil {
		return err
	}
	return txn.Set(keyForLocals(), bz)
}

// getUint64() reads a big endian value; ok is false if the key is absent
func getUint64(txn *store.TxnWrapper, k []byte) (value uint64, ok bool, err lib.ErrorI) {
	bz, err := txn.Get(k)
	if err != nil || bz == nil {
		return 0, false, err
	}
	return lib.BytesToUint64(bz), true, nil
}
