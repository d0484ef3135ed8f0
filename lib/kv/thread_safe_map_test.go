package kv

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadSafeMap_AddGetDelete(t *testing.T) {
	m := NewThreadSafeMap[string, int]()
	require.NoError(t, m.AddOrUpdate("a", 1))
	require.NoError(t, m.AddOrUpdate("b", 2))

	v, exists := m.Get("a")
	require.True(t, exists)
	require.Equal(t, 1, v)

	old, err := m.Delete("a")
	require.NoError(t, err)
	require.Equal(t, 1, old)

	_, err = m.Delete("a")
	require.Error(t, err)

	_, exists = m.Get("a")
	require.False(t, exists)
}

func TestThreadSafeMap_ListKeysAndValues(t *testing.T) {
	m := NewThreadSafeMap[string, int]()
	require.NoError(t, m.AddOrUpdate("a", 1))
	require.NoError(t, m.AddOrUpdate("b", 2))
	require.NoError(t, m.AddOrUpdate("c", 3))

	keys := m.ListKeys()
	sort.Strings(keys)
	require.Equal(t, []string{"a", "b", "c"}, keys)

	keys = m.ListKeys(func(key string) bool { return key != "b" })
	sort.Strings(keys)
	require.Equal(t, []string{"a", "c"}, keys)

	values := m.ListValues("a", "c")
	sort.Ints(values)
	require.Equal(t, []int{1, 3}, values)
}

func TestThreadSafeMap_Purge(t *testing.T) {
	m := NewThreadSafeMap[string, int]()
	require.NoError(t, m.AddOrUpdate("a", 1))
	require.NoError(t, m.Purge())
	require.Error(t, m.AddOrUpdate("b", 2))
	_, exists := m.Get("a")
	require.False(t, exists)
}

func TestThreadSafeMap_Replace(t *testing.T) {
	m := NewThreadSafeMap[string, int]()
	require.NoError(t, m.AddOrUpdate("a", 1))
	require.NoError(t, m.Replace(map[string]int{"x": 9}))
	_, exists := m.Get("a")
	require.False(t, exists)
	v, exists := m.Get("x")
	require.True(t, exists)
	require.Equal(t, 9, v)
}
