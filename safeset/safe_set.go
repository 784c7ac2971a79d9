// Package safeset provides a concurrent set. Sessions use it to track the
// correlation ids of requests that are currently being processed.
package safeset

import "sync"

// SafeSet is a thread-safe set that stores a collection of unique elements of
// comparable type T. It is safe for concurrent use by multiple goroutines.
type SafeSet[T comparable] struct {
	m map[T]struct{}
	sync.RWMutex
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds an element to the set.
//
// Parameters:
//   - value: The element to add
func (s *SafeSet[T]) Add(value T) {
	s.Lock()
	defer s.Unlock()
	s.m[value] = struct{}{}
}

// TryAdd adds value only if it is not already present.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was added, false if it was already in the set
func (s *SafeSet[T]) TryAdd(value T) bool {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes an element from the set.
//
// Parameters:
//   - value: The element to remove
func (s *SafeSet[T]) Remove(value T) {
	s.Lock()
	defer s.Unlock()
	delete(s.m, value)
}

// Contains reports whether the set contains the given element.
func (s *SafeSet[T]) Contains(value T) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the elements in the set, in no particular order.
//
// Returns:
//   - A new slice holding every element present at the time of the call
func (s *SafeSet[T]) Values() []T {
	s.RLock()
	defer s.RUnlock()
	values := make([]T, 0, len(s.m))
	for k := range s.m {
		values = append(values, k)
	}

	return values
}

// Range calls the function f for each element in the set. Iteration stops if f
// returns false. f must not modify the set; the read lock is held throughout.
//
// Parameters:
//   - f: Function called for each element; return false to stop iteration
func (s *SafeSet[T]) Range(f func(value T) bool) {
	s.RLock()
	defer s.RUnlock()
	for k := range s.m {
		if !f(k) {
			break
		}
	}
}
