package taskstore

import (
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryStore implements Store with in-memory maps.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryStore struct {
	mu       sync.RWMutex      // Protects all three areas
	pending  map[string][]byte // Tasks awaiting assignment
	inFlight map[string][]byte // Tasks handed out
	results  map[string][]byte // Results keyed by result name
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:  make(map[string][]byte),
		inFlight: make(map[string][]byte),
		results:  make(map[string][]byte),
	}
}

// Pending returns the pending task names, sorted.
func (m *MemoryStore) Pending() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.pending), nil
}

// Claim moves name from pending to in-flight.
func (m *MemoryStore) Claim(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.pending[name]
	if !ok {
		return ErrTaskNotFound
	}
	delete(m.pending, name)
	m.inFlight[name] = data
	return nil
}

// Read returns a copy of an in-flight archive.
func (m *MemoryStore) Read(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.inFlight[name]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return clone(data), nil
}

// Complete drops the in-flight entry for name.
func (m *MemoryStore) Complete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.inFlight[name]
	delete(m.inFlight, name)
	return ok, nil
}

// PutResult stores a copy of data under the result name for task.
func (m *MemoryStore) PutResult(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[ResultName(name)] = clone(data)
	return nil
}

// Result returns a copy of the stored result for task.
func (m *MemoryStore) Result(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.results[ResultName(name)]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return clone(data), nil
}

// Results returns the stored result names, sorted.
func (m *MemoryStore) Results() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.results), nil
}

// Add places a copy of data in the pending area.
func (m *MemoryStore) Add(name string, data []byte) error {
	if err := validateTaskName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[name] = clone(data)
	return nil
}

// State reports which area holds name.
func (m *MemoryStore) State(name string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case has(m.pending, name):
		return StatePending, nil
	case has(m.inFlight, name):
		return StateInFlight, nil
	case has(m.results, ResultName(name)):
		return StateCompleted, nil
	}
	return StateUnknown, ErrTaskNotFound
}

// Stats returns entry counts.
func (m *MemoryStore) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Pending:  len(m.pending),
		InFlight: len(m.inFlight),
		Results:  len(m.results),
	}, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func has(m map[string][]byte, key string) bool {
	_, ok := m[key]
	return ok
}

// clone copies b so callers cannot modify stored data.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
