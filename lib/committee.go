package lib

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sort"

	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/drand/kyber"
)

// AuthorityName is the compressed BLS public key of an authority
type AuthorityName [crypto.BLS12381PubKeySize]byte

// NewAuthorityName() converts a BLS public key into an authority name
func NewAuthorityName(pub crypto.PublicKeyI) (name AuthorityName) {
	copy(name[:], pub.Bytes())
	return
}

// NewAuthorityNameFromString() decodes a hex authority name
func NewAuthorityNameFromString(s string) (name AuthorityName, err ErrorI) {
	err = fixedFromHex(s, name[:], "authority name")
	return
}

func (a AuthorityName) Bytes() []byte                 { return a[:] }
func (a AuthorityName) String() string                { return hex.EncodeToString(a[:]) }
func (a AuthorityName) ShortString() string           { return hex.EncodeToString(a[:4]) }
func (a AuthorityName) Less(b AuthorityName) bool     { return bytes.Compare(a[:], b[:]) < 0 }
func (a AuthorityName) MarshalJSON() ([]byte, error)  { return json.Marshal(a.String()) }
func (a *AuthorityName) UnmarshalJSON(b []byte) error { return fixedUnmarshalJSON(b, a[:], "authority name") }

// PublicKey() decodes the name into a verifiable BLS public key
func (a AuthorityName) PublicKey() (crypto.PublicKeyI, ErrorI) {
	pub, err := crypto.NewBLSPublicKeyFromBytes(a[:])
	if err != nil {
		return nil, ErrInvalidPublicKey(err)
	}
	return pub, nil
}

// Committee is the weighted set of authorities in charge of an epoch
type Committee struct {
	Epoch       EpochID
	voting      map[AuthorityName]uint64
	index       map[AuthorityName]int
	ordered     []AuthorityName // sorted by name; the bit order of aggregate signatures
	points      []kyber.Point
	totalWeight uint64
}

// NewCommittee() validates the voting map and caches the authority public keys
func NewCommittee(epoch EpochID, voting map[AuthorityName]uint64) (*Committee, ErrorI) {
	if len(voting) == 0 {
		return nil, ErrEmptyCommittee()
	}
	c := &Committee{
		Epoch:   epoch,
		voting:  make(map[AuthorityName]uint64, len(voting)),
		index:   make(map[AuthorityName]int, len(voting)),
		ordered: make([]AuthorityName, 0, len(voting)),
	}
	for name, weight := range voting {
		if weight == 0 {
			return nil, ErrZeroWeight(name)
		}
		c.voting[name] = weight
		c.ordered = append(c.ordered, name)
		c.totalWeight += weight
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Less(c.ordered[j]) })
	for i, name := range c.ordered {
		point, err := crypto.NewBLSPointFromBytes(name[:])
		if err != nil {
			return nil, ErrInvalidPublicKey(err)
		}
		c.index[name] = i
		c.points = append(c.points, point)
	}
	return c, nil
}

// Weight() returns the voting weight of the authority; zero if not a member
func (c *Committee) Weight(name AuthorityName) uint64 { return c.voting[name] }

// TotalWeight() returns the sum of all voting weights
func (c *Committee) TotalWeight() uint64 { return c.totalWeight }

// QuorumThreshold() is the weight above which a claim is final: floor(2W/3)+1
func (c *Committee) QuorumThreshold() uint64 { return 2*c.totalWeight/3 + 1 }

// ValidityThreshold() is the weight that must include at least one honest authority: floor(W/3)+1
func (c *Committee) ValidityThreshold() uint64 { return c.totalWeight/3 + 1 }

// Size() returns the number of authorities
func (c *Committee) Size() int { return len(c.ordered) }

// Contains() returns true if the authority is a member
func (c *Committee) Contains(name AuthorityName) bool {
	_, ok := c.voting[name]
	return ok
}

// Index() returns the position of the authority in name order
func (c *Committee) Index(name AuthorityName) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Authorities() returns the members in name order
func (c *Committee) Authorities() []AuthorityName {
	out := make([]AuthorityName, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ShuffleByWeight() returns every member in a random order where heavier authorities tend to come first
func (c *Committee) ShuffleByWeight() []AuthorityName {
	remaining := c.Authorities()
	out := make([]AuthorityName, 0, len(remaining))
	total := c.totalWeight
	for len(remaining) > 0 {
		pick := uint64(rand.Int63n(int64(total)))
		for i, name := range remaining {
			w := c.voting[name]
			if pick < w {
				out = append(out, name)
				remaining = append(remaining[:i], remaining[i+1:]...)
				total -= w
				break
			}
			pick -= w
		}
	}
	return out
}

// MultiKey() returns a fresh aggregate public key over the committee with no signers enabled
func (c *Committee) MultiKey() (crypto.MultiPublicKeyI, ErrorI) {
	key, err := crypto.NewMultiBLSFromPoints(c.points)
	if err != nil {
		return nil, ErrInvalidPublicKey(err)
	}
	return key, nil
}

// PublicKey() returns the verification key of a member
func (c *Committee) PublicKey(name AuthorityName) (crypto.PublicKeyI, ErrorI) {
	i, ok := c.index[name]
	if !ok {
		return nil, ErrUnknownAuthority(name)
	}
	return crypto.NewBLS12381PublicKey(c.points[i]), nil
}
