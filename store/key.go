package store

import (
	"github.com/canopy-network/fastpath/lib"
)

/* Key.go contains the key layout of the authority store */

var (
	authorityPrefix = []byte("a/") // namespace of the authority store inside the shared database

	objectPrefix   = []byte{1} // store key prefix for the latest version of each live object
	ownerPrefix    = []byte{2} // store key prefix for the owner index: owner, id -> reference
	lockPrefix     = []byte{3} // store key prefix for owned object locks: reference -> transaction digest
	parentPrefix   = []byte{4} // store key prefix for parent sync: reference -> transaction that produced it
	certPrefix     = []byte{5} // store key prefix for executed certificates
	effectsPrefix  = []byte{6} // store key prefix for the signed effects of executed certificates
	signedTxPrefix = []byte{7} // store key prefix for transactions this authority voted for
	sequencePrefix = []byte{8} // store key prefix for the local execution order: sequence -> digest
	localsPrefix   = []byte{9} // store key prefix for single value bookkeeping
)

/*
- Length prefixed append separates the segments of a key so a shorter id can never collide with a longer one

- Versions and sequences are big endian so the lexicographical order of the database is numeric order,
  making the last key under an object's prefix its latest version
*/

var nextSequenceKey = lib.JoinLenPrefix(localsPrefix, []byte("nextSequence"))

func KeyForObject(id lib.ObjectID) []byte { return lib.JoinLenPrefix(objectPrefix, id[:]) }
func OwnerPrefix(owner lib.Address) []byte {
	return lib.JoinLenPrefix(ownerPrefix, owner[:])
}
func KeyForOwner(owner lib.Address, id lib.ObjectID) []byte {
	return lib.JoinLenPrefix(ownerPrefix, owner[:], id[:])
}
func KeyForLock(ref lib.ObjectRef) []byte   { return refKey(lockPrefix, ref) }
func KeyForParent(ref lib.ObjectRef) []byte { return refKey(parentPrefix, ref) }
func ParentPrefix(id lib.ObjectID) []byte   { return lib.JoinLenPrefix(parentPrefix, id[:]) }
func ParentVersionPrefix(id lib.ObjectID, version lib.SequenceNumber) []byte {
	return lib.JoinLenPrefix(parentPrefix, id[:], formatVersion(version))
}
func KeyForCertificate(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(certPrefix, d[:])
}
func KeyForEffects(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(effectsPrefix, d[:])
}
func KeyForSignedTx(d lib.TransactionDigest) []byte {
	return lib.JoinLenPrefix(signedTxPrefix, d[:])
}
func KeyForSequence(seq uint64) []byte {
	return lib.JoinLenPrefix(sequencePrefix, lib.Uint64ToBytes(seq))
}
func SequencePrefix() []byte { return lib.JoinLenPrefix(sequencePrefix) }

// refKey() is the key of an object reference under a prefix
func refKey(prefix []byte, ref lib.ObjectRef) []byte {
	return lib.JoinLenPrefix(prefix, ref.ID[:], formatVersion(ref.Version), ref.Digest[:])
}

// RefFromKey() reverses refKey()
func RefFromKey(k []byte) (ref lib.ObjectRef, ok bool) {
	segments := lib.DecodeLengthPrefixed(k)
	if len(segments) != 4 || len(segments[1]) != lib.ObjectIDSize || len(segments[3]) != lib.DigestSize {
		return ref, false
	}
	copy(ref.ID[:], segments[1])
	ref.Version = lib.SequenceNumber(lib.BytesToUint64(segments[2]))
	copy(ref.Digest[:], segments[3])
	return ref, true
}

func formatVersion(v lib.SequenceNumber) []byte { return lib.Uint64ToBytes(uint64(v)) }
