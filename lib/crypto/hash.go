package crypto

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/sha3"
)

const (
	HashSize    = 32
	AddressSize = 20
)

/*
	Every digest in the ledger (transactions, objects, effects, checkpoint summaries) uses SHA3-256
	over the canonical encoding of the value
*/

// Hasher() returns the global hashing algorithm used
func Hasher() hash.Hash { return sha3.New256() }

// Hash() executes the global hashing algorithm on input bytes
func Hash(msg []byte) []byte {
	h := sha3.Sum256(msg)
	return h[:]
}

// HashMany() hashes the concatenation of the inputs without allocating the concatenation
func HashMany(msgs ...[]byte) []byte {
	h := Hasher()
	for _, m := range msgs {
		h.Write(m)
	}
	return h.Sum(nil)
}

// ShortHash() executes the global hashing algorithm on input bytes and truncates the output to 20 bytes
func ShortHash(msg []byte) []byte { return Hash(msg)[:AddressSize] }

// HashString() returns the hex byte version of a hash
func HashString(msg []byte) string { return hex.EncodeToString(Hash(msg)) }
