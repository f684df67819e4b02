package auth

import (
	"context"
	"sync"
	"time"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/user"
)

// Lock in case of t.Parallel call.
type mockRepository struct {
	items []user.User
	mu    sync.RWMutex
}

func (m *mockRepository) GetUserByID(_ context.Context, userID int) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.ID == userID {
			return &item, nil
		}
	}
	return &user.User{}, errs.ErrNotFound
}

func (m *mockRepository) GetUserByLogin(_ context.Context, login string) (*user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if item.Login == login {
			return &item, nil
		}
	}
	return &user.User{}, errs.ErrNotFound
}

func (m *mockRepository) CreateUser(_ context.Context, login, password, role string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxID := -1
	for _, item := range m.items {
		if item.Login == login {
			return -1, errs.ErrDataConflict
		}
		maxID = max(maxID, item.ID)
	}
	m.items = append(m.items, user.User{
		ID:        maxID + 1,
		Login:     login,
		Password:  password,
		Role:      role,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	return maxID + 1, nil
}
