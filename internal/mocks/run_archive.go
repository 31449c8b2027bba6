package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/scenegen/internal/store"
)

// MockRunArchive is an in-memory store.RunArchive for testing
type MockRunArchive struct {
	// SaveErr, GetErr and ListErr force the corresponding call to fail
	SaveErr error
	GetErr  error
	ListErr error

	mu    sync.Mutex
	runs  map[uuid.UUID]*store.ArchivedRun
	saves int
}

// NewMockRunArchive creates an empty archive, optionally seeded with runs.
func NewMockRunArchive(runs ...*store.ArchivedRun) *MockRunArchive {
	m := &MockRunArchive{runs: make(map[uuid.UUID]*store.ArchivedRun)}
	for _, r := range runs {
		m.runs[r.ID] = r
	}
	return m
}

var _ store.RunArchive = (*MockRunArchive)(nil)

// SaveRun implements store.RunArchive.
func (m *MockRunArchive) SaveRun(ctx context.Context, run *store.ArchivedRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if err := run.Validate(); err != nil {
		return err
	}
	if _, ok := m.runs[run.ID]; ok {
		return store.ErrRunExists
	}
	m.runs[run.ID] = run
	return nil
}

// GetRun implements store.RunArchive.
func (m *MockRunArchive) GetRun(ctx context.Context, id uuid.UUID) (*store.ArchivedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

// ListRuns implements store.RunArchive. Scenes are stripped as the real archive does.
func (m *MockRunArchive) ListRuns(ctx context.Context, limit int) ([]*store.ArchivedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	runs := make([]*store.ArchivedRun, 0, len(m.runs))
	for _, r := range m.runs {
		c := *r
		c.Scenes = nil
		runs = append(runs, &c)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// SaveCount returns the number of SaveRun calls.
func (m *MockRunArchive) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Saved returns the archived run with id, if any.
func (m *MockRunArchive) Saved(id uuid.UUID) (*store.ArchivedRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}
