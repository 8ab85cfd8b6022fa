package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/kiln/pkg/domain"
)

// MockStore structure
type MockStore struct{}

func (m *MockStore) Save(ctx context.Context, sessionID string, record *domain.SessionRecord) error {
	return nil
}
func (m *MockStore) Load(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	return nil, nil
}
func (m *MockStore) Delete(ctx context.Context, sessionID string) error { return nil }
func (m *MockStore) List(ctx context.Context) ([]string, error)         { return nil, nil }

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(&MockStore{})
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		sid := fmt.Sprintf("session-%d", i)
		_ = mgr.Save(ctx, sid, &domain.SessionRecord{})
		_ = mgr.Delete(ctx, sid)
	}

	lockCount := len(mgr.locks)
	if lockCount != 0 {
		t.Errorf("memory leak: %d locks remaining after Delete", lockCount)
	}
}
