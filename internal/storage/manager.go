package storage

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns the live store for the process. It opens the store lazily
// and, once torn down, refuses to reopen it so nothing writes to a file that
// is about to be replaced.
type Manager struct {
	path string

	mu       sync.Mutex
	store    *Store
	tornDown bool
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) DatabasePath() string {
	return m.path
}

func (m *Manager) Store(ctx context.Context) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tornDown {
		return nil, ErrStoreClosed
	}
	if m.store != nil {
		return m.store, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store, err := Open(m.path)
	if err != nil {
		return nil, err
	}
	m.store = store
	return store, nil
}

// Teardown closes the live store. Subsequent Store calls fail with
// ErrStoreClosed.
func (m *Manager) Teardown(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tornDown = true
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	if err != nil {
		return fmt.Errorf("teardown store: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	return m.Teardown(context.Background())
}
