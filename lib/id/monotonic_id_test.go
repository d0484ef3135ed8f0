package id

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNonZeroID(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	assert.Nil(t, err)
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		n := gen.Number()
		require.NotZero(t, n)
		require.Greater(t, n, prev)
		prev = n
	}
	require.NotEmpty(t, gen.Str())
}

func TestMonotonicNonZeroID_DataRace(t *testing.T) {
	gen, err := MonotonicNonZeroID()
	assert.Nil(t, err)

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen = make(map[uint64]struct{}, 8*1000)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				n := gen.Number()
				lock.Lock()
				_, dup := seen[n]
				seen[n] = struct{}{}
				lock.Unlock()
				require.False(t, dup)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8*1000, len(seen))
}
