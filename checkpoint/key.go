package checkpoint

import "github.com/canopy-network/fastpath/lib"

// the checkpoint store lives under its own prefix of the authority database
var checkpointPrefix = []byte("k/")

var (
	unprocessedPrefix  = []byte{1} // digest -> checkpoint sequence
	extraPrefix        = []byte{2} // digest -> transaction sequence
	contentsPrefix     = []byte{3} // checkpoint sequence, transaction sequence -> digest
	txCheckpointPrefix = []byte{4} // digest -> checkpoint sequence, transaction sequence
	localsPrefix       = []byte{5}
)

func keyForUnprocessed(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(unprocessedPrefix, d[:])
}

func keyForExtra(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(extraPrefix, d[:])
}

func keyForTxCheckpoint(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(txCheckpointPrefix, d[:])
}

func keyForContents(checkpoint, txSequence uint64) []byte {
	return lib.JoinLenPrefix(contentsPrefix, lib.Uint64ToBytes(checkpoint), lib.Uint64ToBytes(txSequence))
}

func contentsCheckpointPrefix(checkpoint uint64) []byte {
	return lib.JoinLenPrefix(contentsPrefix, lib.Uint64ToBytes(checkpoint))
}

func keyForLocals() []byte { return lib.JoinLenPrefix(localsPrefix) }

// digestFromKey() parses the digest segment of a digest keyed view
func digestFromKey(k []byte) (d lib.TransactionDigest, ok bool) {
	segments := lib.DecodeLengthPrefixed(k)
	if len(segments) != 2 || len(segments[1]) != lib.DigestSize {
		return d, false
	}
	copy(d[:], segments[1])
	return d, true
}

// position is where a transaction sits in the checkpoint history
type position struct {
	Checkpoint uint64
	TxSequence uint64
}

func (p position) bytes() []byte {
	return append(lib.Uint64ToBytes(p.Checkpoint), lib.Uint64ToBytes(p.TxSequence)...)
}

func positionFromBytes(b []byte) position {
	if len(b) != 16 {
		return position{}
	}
	return position{Checkpoint: lib.BytesToUint64(b[:8]), TxSequence: lib.BytesToUint64(b[8:])}
}
