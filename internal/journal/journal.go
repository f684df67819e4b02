// Package journal persists one row per payment run. The unique
// idempotency key turns double-submits into errs.ErrDuplicateRun
// before any money movement happens.
package journal

import (
	"time"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run is a single payment run record.
type Run struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	OrderID        string          `json:"order_id"`
	Method         order.Method    `json:"payment_method"`
	Amount         decimal.Decimal `json:"amount"`
	IsCredit       bool            `json:"is_credit"`
	Success        bool            `json:"success"`
	ErrorKind      string          `json:"error_kind,omitempty"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at,omitempty"`
}

// StepRecord is the per-step diagnostics row written alongside the
// run outcome.
type StepRecord struct {
	RunID     uuid.UUID `json:"run_id"`
	Name      string    `json:"name"`
	Attempts  int       `json:"attempts"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Completed bool      `json:"completed"`
	Degraded  bool      `json:"degraded"`
	Error     string    `json:"error,omitempty"`
}

// NewRun opens a run record for the given intent. Credit detection
// mirrors validation: the credit method or a credit split component.
func NewRun(intent *order.PaymentIntent) *Run {
	isCredit := intent.Method == order.MethodCredit
	if intent.Split != nil && intent.Split.Credit.IsPositive() {
		isCredit = true
	}

	key := intent.IdempotencyKey
	if key == "" {
		// Without a client-supplied key every submit is distinct.
		key = uuid.NewString()
	}

	return &Run{
		ID:             uuid.New(),
		IdempotencyKey: key,
		OrderID:        intent.OrderID,
		Method:         intent.Method,
		Amount:         intent.Amount,
		IsCredit:       isCredit,
		StartedAt:      time.Now(),
	}
}
