// Package procctx holds the mutable key/value context of a single workflow
// instance. Reads support dotted paths into nested maps and are total:
// a missing segment yields the empty string, never an error.
package procctx

import (
	"strings"
	"sync"
)

// Store is the per-instance context. Parallel branches may read and write
// concurrently; all access goes through a single mutex. Writes to the same
// key from concurrent branches are last-writer-wins (documented as the
// workflow author's responsibility).
type Store struct {
	mu   sync.RWMutex
	vals map[string]any
}

// New creates a store seeded with the given initial values (may be nil).
func New(initial map[string]any) *Store {
	vals := make(map[string]any, len(initial))
	for k, v := range initial {
		vals[k] = v
	}
	return &Store{vals: vals}
}

// Get resolves a dotted path (a.b.c) through nested maps.
// Returns (value, true) when every segment resolves.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := strings.Split(path, ".")
	var cur any = s.vals[parts[0]]
	if _, ok := s.vals[parts[0]]; !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a dotted path to its string form; missing paths resolve
// to "".
func (s *Store) GetString(path string) string {
	v, ok := s.Get(path)
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Set assigns a top-level key. Nested writes are not supported; executors
// store results under flat keys by convention (e.g. "<elementId>_result").
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
}

// Merge shallowly copies every entry of m into the top level. Used when a
// correlation payload resumes a suspended executor.
func (s *Store) Merge(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		s.vals[k] = v
	}
}

// Snapshot returns a shallow copy of the top-level map, for status endpoints
// and expression environments.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}

// Keys returns the top-level key names.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.vals))
	for k := range s.vals {
		keys = append(keys, k)
	}
	return keys
}
