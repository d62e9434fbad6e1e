package patch

import (
	"maps"
	"slices"
)

// Entry patches the value stored under one key.
type Entry[V any] struct {
	Key   string
	Patch Patcher[V]
}

// Map merges entries key by key, in declaration order. A missing key starts
// from the zero value. Keys are never removed.
type Map[V any] struct {
	Entries []Entry[V]
}

// IsEmpty reports whether the patch has no entry.
func (m Map[V]) IsEmpty() bool {
	return len(m.Entries) == 0
}

// Put adds an entry to the patch.
func (m *Map[V]) Put(key string, p Patcher[V]) {
	m.Entries = append(m.Entries, Entry[V]{Key: key, Patch: p})
}

// Apply implements Patcher[map[string]V].
func (m Map[V]) Apply(base *map[string]V) {
	if len(m.Entries) == 0 {
		return
	}
	out := maps.Clone(*base)
	if out == nil {
		out = make(map[string]V, len(m.Entries))
	}
	for _, e := range m.Entries {
		v := out[e.Key]
		if e.Patch != nil {
			e.Patch.Apply(&v)
		}
		out[e.Key] = v
	}
	*base = out
}

// Strings returns a map patch that sets each key of values.
func Strings(values map[string]string) Map[string] {
	var m Map[string]
	for _, k := range slices.Sorted(maps.Keys(values)) {
		m.Put(k, Set(values[k]))
	}
	return m
}
