package safeset

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[uint32]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
}

func TestSafeSet_Add_Contains(t *testing.T) {
	s := NewSafeSet[uint32]()

	t.Run("added element is contained", func(t *testing.T) {
		s.Add(1)
		assert.True(t, s.Contains(1))
		assert.False(t, s.Contains(2))
	})

	t.Run("duplicate add keeps size", func(t *testing.T) {
		s.Add(1)
		assert.Equal(t, 1, s.Size())
	})
}

func TestSafeSet_TryAdd(t *testing.T) {
	s := NewSafeSet[uint32]()

	assert.True(t, s.TryAdd(7))
	assert.False(t, s.TryAdd(7))
	s.Remove(7)
	assert.True(t, s.TryAdd(7))
}

func TestSafeSet_TryAdd_Concurrent(t *testing.T) {
	s := NewSafeSet[uint32]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAdd(42) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSafeSet_Remove(t *testing.T) {
	s := NewSafeSet[string]()
	s.Add("a")
	s.Add("b")

	t.Run("remove present element", func(t *testing.T) {
		s.Remove("a")
		assert.False(t, s.Contains("a"))
		assert.Equal(t, 1, s.Size())
	})

	t.Run("remove missing element is no-op", func(t *testing.T) {
		s.Remove("zzz")
		assert.Equal(t, 1, s.Size())
	})
}

func TestSafeSet_Values(t *testing.T) {
	s := NewSafeSet[int]()
	assert.Empty(t, s.Values())

	s.Add(1)
	s.Add(2)
	s.Add(3)
	assert.ElementsMatch(t, []int{1, 2, 3}, s.Values())
}

func TestSafeSet_Range(t *testing.T) {
	s := NewSafeSet[int]()
	for i := range 5 {
		s.Add(i)
	}

	t.Run("visits every element", func(t *testing.T) {
		seen := make(map[int]bool)
		s.Range(func(v int) bool {
			seen[v] = true
			return true
		})
		assert.Len(t, seen, 5)
	})

	t.Run("stops when f returns false", func(t *testing.T) {
		calls := 0
		s.Range(func(v int) bool {
			calls++
			return false
		})
		assert.Equal(t, 1, calls)
	})
}

func TestSafeSet_Concurrent(t *testing.T) {
	s := NewSafeSet[int]()
	const goroutines = 50
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range perGoroutine {
				v := id*perGoroutine + i
				s.Add(v)
				s.Contains(v)
				s.Size()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, goroutines*perGoroutine, s.Size())

	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := range perGoroutine {
				s.Remove(id*perGoroutine + i)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Size())
}
