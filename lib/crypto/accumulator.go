package crypto

import (
	"crypto/sha512"
	"encoding/hex"

	"filippo.io/edwards25519"
)

/*
	Accumulator is an additive multiset hash on the edwards25519 group.

	Each item is mapped to a point h(item)*B and the accumulator is the sum of the points of every
	inserted item. Insertion order does not matter and two accumulators built from the same multiset
	are equal, so authorities can compare the content of two checkpoint proposals by comparing
	32 bytes, and can check that proposal A plus the items A lacks equals proposal B plus the items
	B lacks without exchanging either full set.
*/

const AccumulatorSize = 32

// Accumulator is the running sum of the item points
type Accumulator struct {
	point *edwards25519.Point
}

// NewAccumulator() returns the accumulator of the empty set
func NewAccumulator() *Accumulator {
	return &Accumulator{point: edwards25519.NewIdentityPoint()}
}

// NewAccumulatorFromBytes() decodes an accumulator previously produced by Bytes()
func NewAccumulatorFromBytes(bz []byte) (*Accumulator, error) {
	p, err := new(edwards25519.Point).SetBytes(bz)
	if err != nil {
		return nil, err
	}
	return &Accumulator{point: p}, nil
}

// Insert() adds one item to the multiset
func (a *Accumulator) Insert(item []byte) {
	digest := sha512.Sum512(item)
	// SetUniformBytes only fails on input that is not 64 bytes long
	s, _ := edwards25519.NewScalar().SetUniformBytes(digest[:])
	a.point.Add(a.point, new(edwards25519.Point).ScalarBaseMult(s))
}

// InsertAll() adds every item to the multiset
func (a *Accumulator) InsertAll(items [][]byte) {
	for _, item := range items {
		a.Insert(item)
	}
}

// Copy() returns an independent accumulator with the same value
func (a *Accumulator) Copy() *Accumulator {
	return &Accumulator{point: new(edwards25519.Point).Set(a.point)}
}

// Equals() returns true if both accumulators represent the same multiset
func (a *Accumulator) Equals(b *Accumulator) bool {
	return a.point.Equal(b.point) == 1
}

// Bytes() returns the compressed 32 byte encoding
func (a *Accumulator) Bytes() []byte { return a.point.Bytes() }

// String() returns the hex encoding
func (a *Accumulator) String() string { return hex.EncodeToString(a.Bytes()) }
