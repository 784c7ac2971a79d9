// Package safemap provides a type-safe, concurrent map built on sync.Map.
// It backs the server's session registry, the primary scratch-data layer of a
// session and the client's table of pending calls.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// It wraps sync.Map and exposes a generic, type-safe API. Keys must be
// comparable (as defined by the comparable constraint); values may be any type.
//
// SafeMap must not be copied after first use. Store and Load operations
// are amortized O(1). Len, Values and Range are O(n) in the number of entries.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// Store sets the value for key k. It overwrites any existing value for k.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for key k and a boolean indicating whether the key
// was present. If the key is not in the map, the value is the zero value
// for V and the boolean is false.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, found
	}

	// A stored nil interface does not assert to V.
	typed, _ := v.(V)
	return typed, true
}

// LoadAndDelete removes the entry for key k and returns its previous value.
// Exactly one of several concurrent callers observes loaded == true for the
// same entry, which makes it suitable for handing a pending entry to a single
// owner.
//
// Parameters:
//   - k: The key to remove
//
// Returns:
//   - The removed value, or the zero value of V if k was absent
//   - true if the key was present
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(k)
	if !loaded {
		var empty V
		return empty, false
	}

	typed, _ := v.(V)
	return typed, true
}

// Delete removes the entry for key k. It is safe to call for a key that
// is not in the map; the call is a no-op in that case.
//
// Parameters:
//   - k: The key to delete
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, Range stops the iteration. Entries stored or deleted
// concurrently may or may not be visited.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v interface{}) bool {
		return f(k.(K), v.(V))
	})
}

// Values returns a snapshot of the values currently in the map, in no
// particular order. The snapshot may be stale by the time it is used.
//
// Returns:
//   - A new slice holding every value observed during iteration
func (m *SafeMap[K, V]) Values() []V {
	values := make([]V, 0)
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})

	return values
}

// Len returns the number of entries in the map. It iterates over all entries
// to compute the count; use sparingly on large maps.
//
// Returns:
//   - The number of key-value pairs in the map
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(k K, v V) bool {
		length++
		return true
	})

	return length
}

// Has reports whether key k is present in the map.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.Load(k)
	return found
}

// NewSafeMap returns a new, empty SafeMap ready for use.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}
