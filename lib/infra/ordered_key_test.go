package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedKeyComparator(t *testing.T) {
	var cmp OrderedKeyComparator[int64] = func(i, j int64) int64 {
		if i == j {
			return 0
		} else if i > j {
			return 1
		}
		return -1
	}
	assert.Equal(t, int64(0), cmp(5, 5))
	assert.Equal(t, int64(1), cmp(8, 5))
	assert.Equal(t, int64(-1), cmp(3, 5))
}
