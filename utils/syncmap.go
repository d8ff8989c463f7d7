package utils

import (
	"fmt"
	"strings"
	"sync"
)

// A SyncMap is a concurrency-safe sync.Map that uses strongly-typed
// method signatures to ensure the types of its stored data are known.
type SyncMap[K comparable, V any] struct {
	sync.Map
}

// Get retrieves the value associated with the given key from the map.
// It returns the value and a boolean indicating whether the key was found.
func (m *SyncMap[K, V]) Get(key K) (V, bool) {
	value, ok := m.Load(key)
	if !ok {
		var empty V
		return empty, false
	}
	return value.(V), true
}

// Put inserts or updates a key-value pair in the map.
func (m *SyncMap[K, V]) Put(key K, value V) {
	m.Store(key, value)
}

// GetOrPut returns the existing value for the key if present, otherwise it
// stores and returns the given value. The boolean is true if the value was
// already present.
func (m *SyncMap[K, V]) GetOrPut(key K, value V) (V, bool) {
	actual, loaded := m.LoadOrStore(key, value)
	return actual.(V), loaded
}

// Remove deletes a key-value pair from the map.
func (m *SyncMap[K, V]) Remove(key K) {
	m.Delete(key)
}

// RemoveIfValue deletes the entry only when it still holds the given value.
// Returns true if the entry was removed. Used to guard against a stale
// cleanup clobbering a newer registration under the same key.
func (m *SyncMap[K, V]) RemoveIfValue(key K, value V) bool {
	return m.CompareAndDelete(key, value)
}

// Iter iterates over each key-value pair in the map, executing the provided function on each pair.
// The iteration stops if the provided function returns false.
func (m *SyncMap[K, V]) Iter(ranger func(key K, value V) bool) {
	m.Range(func(key, value any) bool {
		k := key.(K)
		v := value.(V)
		return ranger(k, v)
	})
}

// Keys returns a slice containing all the keys present in the map.
func (m *SyncMap[K, V]) Keys() []K {
	var keys []K
	m.Iter(func(key K, value V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Len returns the count of entries in the map.
func (m *SyncMap[K, V]) Len() int {
	n := 0
	m.Iter(func(key K, value V) bool {
		n++
		return true
	})
	return n
}

// String provides a string representation of the map, listing all key-value pairs.
func (m *SyncMap[K, V]) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	m.Iter(func(key K, value V) bool {
		sb.WriteString(fmt.Sprintf("%v: %v, ", key, value))
		return true
	})
	s := strings.TrimSuffix(sb.String(), ", ")
	return s + "}"
}
