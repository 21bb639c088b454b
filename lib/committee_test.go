package lib

import (
	"testing"

	"github.com/canopy-network/fastpath/lib/crypto"
	"github.com/stretchr/testify/require"
)

// newTestCommittee() creates a committee of n authorities of weight 1 and returns their keys in name order
func newTestCommittee(t *testing.T, n int) (*Committee, []crypto.PrivateKeyI) {
	voting, keys := make(map[AuthorityName]uint64), make(map[AuthorityName]crypto.PrivateKeyI)
	for i := 0; i < n; i++ {
		key, err := crypto.NewBLSPrivateKey()
		require.NoError(t, err)
		name := NewAuthorityName(key.PublicKey())
		voting[name], keys[name] = 1, key
	}
	committee, err := NewCommittee(0, voting)
	require.NoError(t, err)
	ordered := make([]crypto.PrivateKeyI, 0, n)
	for _, name := range committee.Authorities() {
		ordered = append(ordered, keys[name])
	}
	return committee, ordered
}

func TestCommitteeThresholds(t *testing.T) {
	key, err := crypto.NewBLSPrivateKey()
	require.NoError(t, err)
	name := NewAuthorityName(key.PublicKey())
	for total := uint64(1); total <= 300; total++ {
		committee, e := NewCommittee(1, map[AuthorityName]uint64{name: total})
		require.NoError(t, e)
		quorum, validity := committee.QuorumThreshold(), committee.ValidityThreshold()
		require.Equal(t, 2*total/3+1, quorum)
		require.Equal(t, total/3+1, validity)
		// a quorum and a validity set never cover more than the total weight plus twice the validity
		require.Less(t, total, quorum+2*validity-1)
		// when the weight is not a multiple of three any quorum intersects any validity set
		if total%3 != 0 {
			require.LessOrEqual(t, quorum+validity-1, total)
		}
	}
}

func TestNewCommittee(t *testing.T) {
	key, err := crypto.NewBLSPrivateKey()
	require.NoError(t, err)
	name := NewAuthorityName(key.PublicKey())
	tests := []struct {
		name   string
		detail string
		voting map[AuthorityName]uint64
		error  string
	}{
		{
			name:   "empty",
			detail: "a committee needs at least one authority",
			voting: map[AuthorityName]uint64{},
			error:  "committee has no authorities",
		},
		{
			name:   "zero weight",
			detail: "every authority needs a positive weight",
			voting: map[AuthorityName]uint64{name: 0},
			error:  "zero voting weight",
		},
		{
			name:   "invalid key",
			detail: "the name must decode to a BLS public key",
			voting: map[AuthorityName]uint64{{1, 2, 3}: 1},
			error:  "invalid public key",
		},
		{
			name:   "ok",
			detail: "a single authority committee",
			voting: map[AuthorityName]uint64{name: 3},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// execute the function call
			committee, e := NewCommittee(0, test.voting)
			if test.error != "" {
				require.ErrorContains(t, e, test.error)
				return
			}
			require.NoError(t, e)
			require.Equal(t, uint64(3), committee.TotalWeight())
			require.Equal(t, uint64(3), committee.Weight(name))
			require.True(t, committee.Contains(name))
			pub, e := committee.PublicKey(name)
			require.NoError(t, e)
			require.True(t, pub.Equals(key.PublicKey()))
		})
	}
}

func TestShuffleByWeight(t *testing.T) {
	committee, _ := newTestCommittee(t, 7)
	for i := 0; i < 20; i++ {
		// every member appears exactly once
		require.ElementsMatch(t, committee.Authorities(), committee.ShuffleByWeight())
	}
}
