package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dinehub/pos-billing-service/internal/backend"
	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/events"
	"github.com/dinehub/pos-billing-service/internal/journal"
	"github.com/dinehub/pos-billing-service/internal/metrics"
	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/internal/orchestrator"
	"github.com/dinehub/pos-billing-service/internal/paystate"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore serves both the billing order-store surface and the
// orchestrator's critical operation.
type mockStore struct {
	mu       sync.Mutex
	snapshot *order.Order
	open     []*order.Order
	patches  []*backend.OrderPatch

	updateErr error
	getErr    error
	// paidAfterUpdate makes reads after the first update attempt
	// return a fully paid order, simulating a write that landed even
	// though its response was lost.
	paidAfterUpdate bool

	updateCalls atomic.Int32
	getCalls    atomic.Int32
}

func (m *mockStore) GetOrder(_ context.Context, id string) (*order.Order, error) {
	m.getCalls.Add(1)
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o := *m.snapshot
	o.ID = id
	if m.paidAfterUpdate && m.updateCalls.Load() > 0 {
		o.PaymentReceived = o.Total
		o.BalanceAmount = decimal.Zero
	}
	return &o, nil
}

func (m *mockStore) ListOpenOrders(context.Context) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, nil
}

func (m *mockStore) UpdateOrderPayment(_ context.Context, _ string, patch *backend.OrderPatch) error {
	m.updateCalls.Add(1)
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.patches = append(m.patches, patch)
	return nil
}

type mockLedger struct {
	calls atomic.Int32
	err   error
}

func (m *mockLedger) CreateEntry(context.Context, *backend.LedgerEntry) error {
	m.calls.Add(1)
	return m.err
}

type mockSeating struct {
	calls atomic.Int32
	err   error
}

func (m *mockSeating) ReleaseTable(context.Context, string) error {
	m.calls.Add(1)
	return m.err
}

type mockRuns struct {
	mu    sync.Mutex
	runs  map[string]*journal.Run
	kinds map[uuid.UUID]string
	done  map[uuid.UUID]bool
	steps []journal.StepRecord
}

func newMockRuns() *mockRuns {
	return &mockRuns{
		runs:  make(map[string]*journal.Run),
		kinds: make(map[uuid.UUID]string),
		done:  make(map[uuid.UUID]bool),
	}
}

func (m *mockRuns) Begin(_ context.Context, run *journal.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.IdempotencyKey]; ok {
		return errs.ErrDuplicateRun
	}
	m.runs[run.IdempotencyKey] = run
	return nil
}

func (m *mockRuns) Finish(_ context.Context, id uuid.UUID, success bool, errorKind string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[id] = success
	m.kinds[id] = errorKind
	return nil
}

func (m *mockRuns) AddSteps(_ context.Context, steps []journal.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
	return nil
}

func (m *mockRuns) GetByKey(_ context.Context, key string) (*journal.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[key]; ok {
		return run, nil
	}
	return nil, errs.ErrNotFound
}

type nopTrManager struct{}

func (nopTrManager) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (nopTrManager) DoWithSettings(ctx context.Context, _ trm.Settings, fn func(context.Context) error) error {
	return fn(ctx)
}

type sinkRecorder struct {
	mu      sync.Mutex
	samples []metrics.RunSample
}

func (s *sinkRecorder) ObserveRun(_ context.Context, sample metrics.RunSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

func (s *sinkRecorder) last(t *testing.T) metrics.RunSample {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.samples)
	return s.samples[len(s.samples)-1]
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Orchestra.CriticalTimeout = 100 * time.Millisecond
	cfg.Orchestra.CriticalRetries = 2
	cfg.Orchestra.CriticalBackoffBase = time.Millisecond
	cfg.Orchestra.CriticalBackoffCap = 5 * time.Millisecond
	cfg.Orchestra.LedgerTimeout = 100 * time.Millisecond
	cfg.Orchestra.LedgerRetries = 1
	cfg.Orchestra.LedgerBackoffBase = time.Millisecond
	cfg.Orchestra.LedgerBackoffCap = 5 * time.Millisecond
	cfg.Orchestra.StepCeiling = 500 * time.Millisecond
	return cfg
}

func testOrder() *order.Order {
	return &order.Order{
		ID:      "order-1",
		Status:  order.StatusReady,
		TableID: "T4",
		Origin:  order.OriginStaff,
		Items: []order.Item{
			{Name: "Margherita", Quantity: 1, Price: decimal.NewFromInt(250)},
		},
		Total: decimal.NewFromInt(250),
	}
}

type fixture struct {
	handler http.Handler
	store   *mockStore
	ledger  *mockLedger
	seating *mockSeating
	runs    *mockRuns
	sink    *sinkRecorder
	broker  *events.Broker
	recent  *paystate.RecentCompletions
}

func newFixture(t *testing.T, store *mockStore) *fixture {
	t.Helper()

	cfg := testConfig()
	ledger := &mockLedger{}
	seating := &mockSeating{}

	orch, err := orchestrator.New(store, ledger, seating, cfg, logger.NewNop())
	require.NoError(t, err)

	runs := newMockRuns()
	sink := &sinkRecorder{}
	broker := events.NewBroker()
	recent := paystate.NewRecentCompletions(time.Minute, 100)

	svc, err := NewService(store, orch, runs, nopTrManager{}, broker, nil,
		recent, sink, logger.NewNop(), cfg)
	require.NoError(t, err)

	handler := HandlerWithOptions(svc, ChiServerOptions{
		BaseURL:          "/api/billing",
		ErrorHandlerFunc: ErrorHandlerFunc,
	})

	return &fixture{
		handler: handler,
		store:   store,
		ledger:  ledger,
		seating: seating,
		runs:    runs,
		sink:    sink,
		broker:  broker,
		recent:  recent,
	}
}

func (f *fixture) commit(t *testing.T, orderID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost,
		"/api/billing/orders/"+orderID+"/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestCommitPayment(t *testing.T) {
	t.Run("cash payment commits and settles the order", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})
		sub, cancel := f.broker.Subscribe()
		defer cancel()

		rec := f.commit(t, "order-1", `{"payment_method":"cash","amount":250}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PaymentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "completed", resp.Status)
		assert.True(t, resp.PaymentReceived.Equal(decimal.NewFromInt(250)))
		assert.True(t, resp.BalanceAmount.IsZero())
		assert.False(t, resp.IsCredit)

		// All three steps ran.
		assert.EqualValues(t, 1, f.store.updateCalls.Load())
		assert.EqualValues(t, 1, f.ledger.calls.Load())
		assert.EqualValues(t, 1, f.seating.calls.Load())

		// The order is hidden from active views immediately.
		assert.True(t, f.recent.Contains("order-1"))

		// A completion event went out.
		select {
		case e := <-sub:
			assert.Equal(t, "order-1", e.OrderID)
			assert.True(t, e.RemoveFromActive)
		case <-time.After(time.Second):
			t.Fatal("no completion event")
		}

		// The run is journaled as a success with its step records.
		run, err := f.runs.GetByKey(context.Background(), keyOf(f.runs))
		require.NoError(t, err)
		assert.True(t, f.runs.done[run.ID])
		assert.Len(t, f.runs.steps, 3)

		assert.True(t, f.sink.last(t).Success)
	})

	t.Run("credit payment stays pending with outstanding balance", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		rec := f.commit(t, "order-1",
			`{"payment_method":"credit","amount":0,"customer":{"name":"Asha","phone":"+91 98765 43210"}}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PaymentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "pending", resp.Status)
		assert.True(t, resp.IsCredit)
		assert.True(t, resp.BalanceAmount.Equal(decimal.NewFromInt(250)))
	})

	t.Run("already paid order short-circuits without a run", func(t *testing.T) {
		paid := testOrder()
		paid.PaymentReceived = paid.Total
		f := newFixture(t, &mockStore{snapshot: paid})

		rec := f.commit(t, "order-1", `{"payment_method":"cash","amount":250}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PaymentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.AlreadyPaid)

		assert.EqualValues(t, 0, f.store.updateCalls.Load())
		assert.Empty(t, f.runs.runs)
	})

	t.Run("duplicate idempotency key is rejected before side effects", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		body := `{"payment_method":"cash","amount":250,"idempotency_key":"pos-7-42"}`
		require.Equal(t, http.StatusOK, f.commit(t, "order-1", body).Code)

		calls := f.store.updateCalls.Load()
		rec := f.commit(t, "order-1", body)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, calls, f.store.updateCalls.Load())
	})

	t.Run("validation failure makes no network call", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		rec := f.commit(t, "order-1", `{"payment_method":"bitcoin","amount":250}`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp errorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "validation_error", resp.Kind)
		assert.Contains(t, resp.Detail, "payment_method")

		assert.EqualValues(t, 0, f.store.updateCalls.Load())
		assert.EqualValues(t, 0, f.ledger.calls.Load())
		assert.False(t, f.recent.Contains("order-1"))

		sample := f.sink.last(t)
		assert.False(t, sample.Success)
		assert.Equal(t, "validation_error", sample.ErrorKind)
	})

	t.Run("critical server failure rolls back after the fallback", func(t *testing.T) {
		store := &mockStore{
			snapshot:  testOrder(),
			updateErr: &errs.HTTPStatusError{Operation: "update order payment", Code: 503},
		}
		f := newFixture(t, store)

		rec := f.commit(t, "order-1", `{"payment_method":"cash","amount":250}`)

		require.Equal(t, http.StatusBadGateway, rec.Code)

		var resp errorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "server_error", resp.Kind)
		// The raw backend error is never exposed.
		assert.NotContains(t, resp.Error, "503")

		// Orchestrated run and fallback both exhausted their retries.
		assert.EqualValues(t, 6, store.updateCalls.Load())

		// The optimistic completion was reverted.
		assert.False(t, f.recent.Contains("order-1"))

		sample := f.sink.last(t)
		assert.False(t, sample.Success)
		assert.Equal(t, "server_error", sample.ErrorKind)
	})

	t.Run("ambiguous outcome is resolved by the verification read", func(t *testing.T) {
		store := &mockStore{
			snapshot:        testOrder(),
			updateErr:       errs.ErrAmbiguousOutcome,
			paidAfterUpdate: true,
		}
		f := newFixture(t, store)

		rec := f.commit(t, "order-1", `{"payment_method":"cash","amount":250}`)

		// The store has the money even though both calls "failed".
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, f.recent.Contains("order-1"))
		assert.True(t, f.sink.last(t).Success)
	})

	t.Run("split payment records every component", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		rec := f.commit(t, "order-1",
			`{"payment_method":"split","split":{"cash":100,"card":100,"upi":50}}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp PaymentResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "completed", resp.Status)
		assert.True(t, resp.PaymentReceived.Equal(decimal.NewFromInt(250)))

		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		require.Len(t, f.store.patches, 1)
		patch := f.store.patches[0]
		require.NotNil(t, patch.CashAmount)
		assert.True(t, patch.CashAmount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("missing payment method is a bad request", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})
		rec := f.commit(t, "order-1", `{"amount":250}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong content type is rejected", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})
		req := httptest.NewRequest(http.MethodPost,
			"/api/billing/orders/order-1/payment", strings.NewReader("amount=250"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// keyOf returns the single journaled run key.
func keyOf(runs *mockRuns) string {
	runs.mu.Lock()
	defer runs.mu.Unlock()
	for key := range runs.runs {
		return key
	}
	return ""
}

func TestEditPayment(t *testing.T) {
	edit := func(t *testing.T, f *fixture, orderID, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPatch,
			"/api/billing/orders/"+orderID+"/payment", strings.NewReader(body))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("edit updates financial fields but never the status", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		rec := edit(t, f, "order-1", `{"payment_method":"card","amount":200}`)

		require.Equal(t, http.StatusOK, rec.Code)

		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		require.Len(t, f.store.patches, 1)
		patch := f.store.patches[0]

		assert.Empty(t, string(patch.Status))
		assert.Equal(t, order.MethodCard, patch.PaymentMethod)
		assert.True(t, patch.PaymentReceived.Equal(decimal.NewFromInt(200)))
		assert.True(t, patch.BalanceAmount.Equal(decimal.NewFromInt(50)))
		assert.True(t, patch.IsCredit)

		// No run, no completion event.
		assert.Empty(t, f.runs.runs)
		assert.False(t, f.recent.Contains("order-1"))
	})

	t.Run("wire payload of an edit has no status key", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		require.Equal(t, http.StatusOK,
			edit(t, f, "order-1", `{"payment_method":"cash","amount":250}`).Code)

		f.store.mu.Lock()
		patch := f.store.patches[0]
		f.store.mu.Unlock()

		data, err := json.Marshal(patch)
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"status"`)
	})

	t.Run("invalid split sum is rejected", func(t *testing.T) {
		f := newFixture(t, &mockStore{snapshot: testOrder()})

		rec := edit(t, f, "order-1",
			`{"payment_method":"split","split":{"cash":100,"card":100}}`)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.EqualValues(t, 0, f.store.updateCalls.Load())
	})
}

func TestGetActiveOrders(t *testing.T) {
	makeOrder := func(id string, status order.Status, received int64) *order.Order {
		o := testOrder()
		o.ID = id
		o.Status = status
		o.PaymentReceived = decimal.NewFromInt(received)
		return o
	}

	open := []*order.Order{
		makeOrder("order-1", order.StatusReady, 0),
		makeOrder("order-2", order.StatusCompleted, 250),
		makeOrder("order-3", order.StatusPending, 250), // fully paid
		makeOrder("order-4", order.StatusPreparing, 0),
	}

	f := newFixture(t, &mockStore{snapshot: testOrder(), open: open})

	// order-4 just completed on this terminal.
	f.recent.Add("order-4")

	req := httptest.NewRequest(http.MethodGet, "/api/billing/orders/active", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ActiveOrdersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "order-1", resp.Orders[0].ID)
}
