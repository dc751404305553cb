// File: internal/monitor/store.go
package monitor

import (
	"sync"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// SnapshotStore holds the last observed state per watched element,
// keyed by the element's stable ID. An element with no entry has no
// baseline yet; its next successful observation becomes the baseline.
type SnapshotStore struct {
	mu     sync.RWMutex
	states map[string]schemas.ElementState
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{states: make(map[string]schemas.ElementState)}
}

// Get returns the stored state for the element, or nil when the
// element has no recorded baseline.
func (s *SnapshotStore) Get(id string) *schemas.ElementState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return nil
	}
	return &state
}

// Set records a new observation, replacing any previous one.
func (s *SnapshotStore) Set(id string, state schemas.ElementState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
}

// Delete forgets the element's baseline. Deleting an unknown id is a
// no-op.
func (s *SnapshotStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

// Len returns the number of elements with a recorded baseline.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
