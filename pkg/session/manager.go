package session

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates record access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new record Manager with the given persistence store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Load retrieves an existing session record from the store.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	var record *domain.SessionRecord
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		record, err = m.store.Load(ctx, sessionID)
		return err
	})
	return record, err
}

// Save persists the session record.
func (m *Manager) Save(ctx context.Context, sessionID string, record *domain.SessionRecord) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Save(ctx, sessionID, record)
	})
}

// Append loads the record, appends the finished cell, and saves it back,
// all under the session lock. Missing records are created on the fly so a
// store wired in after the session started still captures history.
func (m *Manager) Append(ctx context.Context, sessionID string, cell domain.Cell) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		record, err := m.store.Load(ctx, sessionID)
		if err != nil {
			if err != domain.ErrSessionNotFound {
				return fmt.Errorf("failed to load session record: %w", err)
			}
			record = &domain.SessionRecord{ID: sessionID}
		}
		record.Cells = append(record.Cells, cell)
		return m.store.Save(ctx, sessionID, record)
	})
}

// Delete removes the session record from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	return fn(ctx)
}
