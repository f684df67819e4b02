package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dinehub/pos-billing-service/internal/backend"
)

// Hand-rolled mocks; each counts calls and delegates to an optional fn.

type mockStore struct {
	fn    func(ctx context.Context, id string, patch *backend.OrderPatch) error
	calls atomic.Int32
}

func (m *mockStore) UpdateOrderPayment(ctx context.Context, id string, patch *backend.OrderPatch) error {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx, id, patch)
	}
	return nil
}

type mockLedger struct {
	fn      func(ctx context.Context, entry *backend.LedgerEntry) error
	calls   atomic.Int32
	mu      sync.Mutex
	entries []backend.LedgerEntry
}

func (m *mockLedger) CreateEntry(ctx context.Context, entry *backend.LedgerEntry) error {
	m.calls.Add(1)
	m.mu.Lock()
	m.entries = append(m.entries, *entry)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, entry)
	}
	return nil
}

type mockSeating struct {
	fn    func(ctx context.Context, tableID string) error
	calls atomic.Int32
}

func (m *mockSeating) ReleaseTable(ctx context.Context, tableID string) error {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx, tableID)
	}
	return nil
}

// blockUntilDone parks until the attempt context expires, simulating a
// hung backend.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
