package authority

import (
	"sync"
	"testing"

	"github.com/canopy-network/fastpath/lib"
	"github.com/stretchr/testify/require"
)

func TestObjectLocks(t *testing.T) {
	tests := []struct {
		name    string
		detail  string
		stripes int
	}{
		{
			name:    "one stripe",
			detail:  "every object shares the same mutex",
			stripes: 0,
		},
		{
			name:    "many stripes",
			detail:  "objects spread over the table",
			stripes: 64,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			locks := NewObjectLocks(test.stripes)
			a, b := lib.NewObjectID(), lib.NewObjectID()
			counter, wg := 0, sync.WaitGroup{}
			// execute the function call; opposite acquisition orders and duplicates never deadlock
			for i := 0; i < 100; i++ {
				ids := []lib.ObjectID{a, b, a}
				if i%2 == 0 {
					ids = []lib.ObjectID{b, a, b}
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					release := locks.Acquire(ids)
					defer release()
					counter++
				}()
			}
			wg.Wait()
			require.Equal(t, 100, counter)
		})
	}
}
