package registry

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("three")
	assert.False(t, ok)
}

func TestRegisterOverwrite(t *testing.T) {
	r := New[string, string]()
	require.NoError(t, r.Register("k", "first"))
	require.NoError(t, r.Register("k", "second"))

	v, _ := r.Get("k")
	assert.Equal(t, "second", v)
	assert.Equal(t, 1, r.Len())
}

func TestHasAndDelete(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Register("a", 1))
	assert.True(t, r.Has("a"))

	require.NoError(t, r.Delete("a"))
	assert.False(t, r.Has("a"))

	// Deleting a missing key is fine.
	assert.NoError(t, r.Delete("missing"))
}

func TestSeal(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Register("a", 1))
	assert.False(t, r.Sealed())

	r.Seal()
	r.Seal()

	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.Register("b", 2), ErrSealed)
	assert.ErrorIs(t, r.Delete("a"), ErrSealed)

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, r.Has("b"))
}

func TestKeys(t *testing.T) {
	r := New[string, int]()
	assert.Empty(t, r.Keys())

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(k, 0))
	}

	keys := r.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestRange(t *testing.T) {
	r := New[string, int]()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("k%d", i), i))
	}

	sum := 0
	r.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 10, sum)

	visited := 0
	r.Range(func(_ string, _ int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", -1))

	r.Range(func(k string, v int) bool {
		if v < 0 {
			_ = r.Delete(k)
		}
		return true
	})

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Has("a"))
}

func TestConcurrentReadWrite(t *testing.T) {
	r := New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(n, n*n)
		}(i)
		go func(n int) {
			defer wg.Done()
			r.Get(n)
			r.Keys()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	v, ok := r.Get(7)
	assert.True(t, ok)
	assert.Equal(t, 49, v)
}

func TestConcurrentSeal(t *testing.T) {
	r := New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n == 10 {
				r.Seal()
				return
			}
			err := r.Register(n, n)
			if err != nil {
				assert.ErrorIs(t, err, ErrSealed)
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, r.Sealed())
	assert.ErrorIs(t, r.Register(99, 99), ErrSealed)
}
