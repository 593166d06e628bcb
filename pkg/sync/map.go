package sync

import "sync"

// TypedSyncMap is a type-safe wrapper around sync.Map.
type TypedSyncMap[K comparable, V any] struct {
	m sync.Map
}

func (m *TypedSyncMap[K, V]) Load(key K) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return *new(V), ok
	}

	if vv, ok := v.(V); ok {
		return vv, true
	}
	return *new(V), false
}

func (m *TypedSyncMap[K, V]) Store(key K, value V) { m.m.Store(key, value) }

func (m *TypedSyncMap[K, V]) Delete(key K) { m.m.Delete(key) }

// Range calls fn for every entry in the map until fn returns false. The
// iteration order is unspecified.
func (m *TypedSyncMap[K, V]) Range(fn func(K, V) bool) {
	m.m.Range(func(key, value any) bool {
		k, kOk := key.(K)
		v, vOk := value.(V)
		if !kOk || !vOk {
			return true
		}

		return fn(k, v)
	})
}

// Len counts the entries in the map. It is O(n).
func (m *TypedSyncMap[K, V]) Len() int {
	count := 0
	m.m.Range(func(_, _ any) bool {
		count++
		return true
	})

	return count
}
