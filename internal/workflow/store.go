package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps JSON snapshots of runs in process. Snapshots are encoded
// on save so later mutations of the caller's state never leak into the store.
// Engines sharing one MemoryStore share its run claims.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID][]byte
	claims  map[uuid.UUID]bool
	cancels map[uuid.UUID]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[uuid.UUID][]byte),
		claims:  make(map[uuid.UUID]bool),
		cancels: make(map[uuid.UUID]bool),
	}
}

func (m *MemoryStore) Claim(ctx context.Context, id uuid.UUID) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[id] {
		return nil, fmt.Errorf("%w: %s", ErrRunBusy, id)
	}
	m.claims[id] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.claims, id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *MemoryStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	m.cancels[id] = true
	return nil
}

func (m *MemoryStore) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancels[id], nil
}

func (m *MemoryStore) Save(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", s.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[s.ID] = data
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*State, error) {
	m.mu.RLock()
	data, ok := m.runs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return decode(data)
}

func (m *MemoryStore) FindByGate(ctx context.Context, token string) (*State, error) {
	states, err := m.all()
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		if s.PendingGate != nil && s.PendingGate.Token == token {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrGateNotFound, token)
}

func (m *MemoryStore) ListSuspended(ctx context.Context) ([]*State, error) {
	states, err := m.all()
	if err != nil {
		return nil, err
	}
	var out []*State
	for _, s := range states {
		if s.Status == StatusSuspended {
			out = append(out, s)
		}
	}
	return out, nil
}

// List returns every stored run, newest first.
func (m *MemoryStore) List(ctx context.Context) ([]*State, error) {
	return m.all()
}

func (m *MemoryStore) all() ([]*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*State, 0, len(m.runs))
	for _, data := range m.runs {
		s, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &s, nil
}
