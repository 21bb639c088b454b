package authority

import (
	"encoding/binary"
	"sort"

	"github.com/algorand/go-deadlock"
	"github.com/canopy-network/fastpath/lib"
)

// ObjectLocks serializes the handlers that touch the same objects by hashing object ids onto a fixed
// number of mutexes; unrelated objects rarely share a stripe so unrelated transactions proceed in parallel
type ObjectLocks struct {
	stripes []deadlock.Mutex
}

// NewObjectLocks() creates a lock table with n stripes
func NewObjectLocks(n int) *ObjectLocks {
	if n <= 0 {
		n = 1
	}
	return &ObjectLocks{stripes: make([]deadlock.Mutex, n)}
}

// Acquire() locks the stripes of every object in ascending stripe order, so two callers never wait on each
// other in opposite orders; the returned function releases them
func (l *ObjectLocks) Acquire(ids []lib.ObjectID) (release func()) {
	seen := make(map[int]struct{}, len(ids))
	stripes := make([]int, 0, len(ids))
	for _, id := range ids {
		i := l.stripe(id)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		stripes = append(stripes, i)
	}
	sort.Ints(stripes)
	for _, i := range stripes {
		l.stripes[i].Lock()
	}
	return func() {
		for j := len(stripes) - 1; j >= 0; j-- {
			l.stripes[stripes[j]].Unlock()
		}
	}
}

// stripe() maps an object id to its mutex; ids are hash derived so the trailing bytes are uniform
func (l *ObjectLocks) stripe(id lib.ObjectID) int {
	return int(binary.BigEndian.Uint32(id[lib.ObjectIDSize-4:]) % uint32(len(l.stripes)))
}
