// Package billing is the HTTP surface of the payment workflow: commit,
// edit and active-orders listing. It glues validation, the orchestrated
// run, the run journal, completion events and the diagnostics sink
// together.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dinehub/pos-billing-service/internal/backend"
	"github.com/dinehub/pos-billing-service/internal/classify"
	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/events"
	"github.com/dinehub/pos-billing-service/internal/journal"
	"github.com/dinehub/pos-billing-service/internal/metrics"
	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/internal/orchestrator"
	"github.com/dinehub/pos-billing-service/internal/paystate"
	"github.com/dinehub/pos-billing-service/internal/payval"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/shopspring/decimal"
)

// verifyEpsilon bounds the payment_received comparison of the
// verification read after an ambiguous critical failure.
var verifyEpsilon = decimal.NewFromFloat(0.01)

// OrderStore is the order-store surface the billing flow needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOpenOrders(ctx context.Context) ([]*order.Order, error)
	UpdateOrderPayment(ctx context.Context, id string, patch *backend.OrderPatch) error
}

// Publisher sends completion events to other terminals.
type Publisher interface {
	Publish(ctx context.Context, e events.CompletionEvent)
}

type Service struct {
	store  OrderStore
	orch   *orchestrator.Orchestrator
	runs   journal.Repository
	trm    trm.Manager
	broker *events.Broker
	// remote is optional: nil when the process runs without a broker
	// connection.
	remote Publisher
	recent *paystate.RecentCompletions
	sink   metrics.Sink
	logger logger.Logger
	config *config.Config
}

func NewService(
	store OrderStore,
	orch *orchestrator.Orchestrator,
	runs journal.Repository,
	trManager trm.Manager,
	broker *events.Broker,
	remote Publisher,
	recent *paystate.RecentCompletions,
	sink metrics.Sink,
	logger logger.Logger,
	config *config.Config,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("nil dependency: order store")
	}
	if orch == nil {
		return nil, errors.New("nil dependency: orchestrator")
	}
	if runs == nil {
		return nil, errors.New("nil dependency: run journal")
	}
	if trManager == nil {
		return nil, errors.New("nil dependency: transaction manager")
	}
	if broker == nil {
		return nil, errors.New("nil dependency: event broker")
	}
	if recent == nil {
		return nil, errors.New("nil dependency: recent completions")
	}
	if sink == nil {
		return nil, errors.New("nil dependency: metrics sink")
	}
	if config == nil {
		return nil, errors.New("nil dependency: config")
	}

	return &Service{
		store:  store,
		orch:   orch,
		runs:   runs,
		trm:    trManager,
		broker: broker,
		remote: remote,
		recent: recent,
		sink:   sink,
		logger: logger,
		config: config,
	}, nil
}

var _ ServerInterface = (*Service)(nil)

// PaymentResponse is the success payload of the commit and edit
// operations.
type PaymentResponse struct {
	OrderID         string          `json:"order_id"`
	Status          string          `json:"status,omitempty"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentReceived decimal.Decimal `json:"payment_received"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	IsCredit        bool            `json:"is_credit"`
	// AlreadyPaid marks the short-circuit: the order was fully paid
	// before this request, no run was started.
	AlreadyPaid bool `json:"already_paid,omitempty"`
	// Degraded marks a commit where a non-critical step was absorbed.
	Degraded bool `json:"degraded,omitempty"`
}

// ActiveOrdersResponse lists the orders still awaiting action.
type ActiveOrdersResponse struct {
	Orders []*order.Order `json:"orders"`
	Count  int            `json:"count"`
}

// Payment commit (POST /api/billing/orders/{orderID}/payment).
func (s *Service) CommitPayment(w http.ResponseWriter, r *http.Request, orderID string, params PaymentParams) {
	ctx := r.Context()

	snapshot, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("get order %s: %w", orderID, err))
		return
	}

	// Paid-up short-circuit: nothing to collect, no run is started.
	if snapshot.Total.IsPositive() && snapshot.PaymentReceived.GreaterThanOrEqual(snapshot.Total) {
		s.writeJSON(w, http.StatusOK, PaymentResponse{
			OrderID:         orderID,
			Status:          string(snapshot.Status),
			PaymentMethod:   string(snapshot.PaymentMethod),
			PaymentReceived: snapshot.PaymentReceived,
			BalanceAmount:   snapshot.BalanceAmount,
			IsCredit:        snapshot.IsCredit,
			AlreadyPaid:     true,
		})
		return
	}

	intent := buildIntent(orderID, params, snapshot)

	// The journal row goes in before any network call so a duplicate
	// submit is rejected without side effects.
	run := journal.NewRun(intent)
	if err = s.runs.Begin(ctx, run); err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("begin run for order %s: %w", orderID, err))
		return
	}

	outcome, runErr := s.orch.Process(ctx, intent, orchestrator.Callbacks{
		OnOptimisticUpdate: func(*order.PaymentIntent) { s.recent.Add(orderID) },
		OnRevertUpdate:     func(error) { s.recent.Remove(orderID) },
	})

	if runErr != nil && outcome != nil {
		runErr = s.fallback(ctx, intent, runErr)
	}

	s.finishRun(ctx, run, outcome, runErr)

	if runErr != nil {
		ErrorHandlerFunc(w, r, runErr)
		return
	}

	final := applyPatch(snapshot, orchestrator.BuildOrderPatch(intent))

	s.recent.Add(orderID)
	e := events.NewCompletionEvent(final)
	s.broker.Publish(e)
	if s.remote != nil {
		s.remote.Publish(ctx, e)
	}

	s.writeJSON(w, http.StatusOK, PaymentResponse{
		OrderID:         orderID,
		Status:          string(final.Status),
		PaymentMethod:   string(final.PaymentMethod),
		PaymentReceived: final.PaymentReceived,
		BalanceAmount:   final.BalanceAmount,
		IsCredit:        final.IsCredit,
		Degraded:        anyDegraded(outcome),
	})
}

// fallback gives the critical operation one more governed attempt after
// a failed orchestrated run, then resolves ambiguity with a
// verification read. Validation failures are final.
func (s *Service) fallback(ctx context.Context, intent *order.PaymentIntent, runErr error) error {
	cerr := classify.Classify(runErr)
	if cerr.Kind == classify.KindValidation {
		return cerr
	}

	patch := orchestrator.BuildOrderPatch(intent)

	err := orchestrator.RunWithPolicy(ctx, s.orch.CriticalPolicy(), func(ctx context.Context) error {
		return s.store.UpdateOrderPayment(ctx, intent.OrderID, patch)
	})
	if err == nil {
		s.logger.With(ctx, "order_id", intent.OrderID).
			Info("critical-only fallback committed the payment")
		return nil
	}

	ferr := classify.Classify(err)
	if (ferr.Ambiguous || cerr.Ambiguous) && s.verifyCommitted(ctx, intent.OrderID, patch) {
		s.logger.With(ctx, "order_id", intent.OrderID).
			Info("ambiguous outcome resolved as committed by verification read")
		return nil
	}

	return ferr
}

// verifyCommitted re-reads the order and treats the run as committed
// when the stored payment_received matches the patch within 0.01.
func (s *Service) verifyCommitted(ctx context.Context, orderID string, patch *backend.OrderPatch) bool {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return false
	}
	return o.PaymentReceived.Sub(patch.PaymentReceived).Abs().LessThanOrEqual(verifyEpsilon)
}

// finishRun records the outcome in the journal (run row and step rows
// in one transaction) and emits the diagnostics sample. Journal
// failures are logged, never surfaced: the payment outcome is already
// decided.
func (s *Service) finishRun(ctx context.Context, run *journal.Run, outcome *orchestrator.Outcome, runErr error) {
	success := runErr == nil

	var kind string
	if runErr != nil {
		kind = string(classify.Classify(runErr).Kind)
	}

	var elapsed time.Duration
	var steps []journal.StepRecord
	if outcome != nil {
		elapsed = outcome.Elapsed
		for name, res := range outcome.Steps {
			rec := journal.StepRecord{
				RunID:     run.ID,
				Name:      name,
				Attempts:  res.Attempts,
				ElapsedMS: res.Elapsed.Milliseconds(),
				Completed: res.Completed(),
				Degraded:  res.Degraded,
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}
			steps = append(steps, rec)
		}
	}

	err := s.trm.Do(ctx, func(ctx context.Context) error {
		if err := s.runs.Finish(ctx, run.ID, success, kind, elapsed.Milliseconds()); err != nil {
			return err
		}
		return s.runs.AddSteps(ctx, steps)
	})
	if err != nil {
		s.logger.Errorf("journal run %s: %s", run.ID, err)
	}

	s.sink.ObserveRun(ctx, metrics.RunSample{
		OrderID:   run.OrderID,
		Method:    run.Method,
		Amount:    run.Amount,
		IsCredit:  run.IsCredit,
		Success:   success,
		ErrorKind: kind,
		Elapsed:   elapsed,
		Degraded:  anyDegraded(outcome),
	})
}

// Payment details edit (PATCH /api/billing/orders/{orderID}/payment).
// The edit path never touches the order status: only the billing commit
// may request a completion transition.
func (s *Service) EditPayment(w http.ResponseWriter, r *http.Request, orderID string, params EditPaymentParams) {
	ctx := r.Context()

	snapshot, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("get order %s: %w", orderID, err))
		return
	}

	method := order.Method(strings.ToLower(strings.TrimSpace(params.PaymentMethod)))
	if err = payval.ValidatePaymentMethod(method); err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	amount := paystate.SanitizeAmount(params.Amount)
	allowZero := method == order.MethodCredit || method == order.MethodSplit
	if err = payval.ValidateAmount(amount, allowZero); err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	split := toSplit(params.Split)
	if method == order.MethodSplit {
		if err = payval.ValidateSplitPayment(split, snapshot.Total); err != nil {
			ErrorHandlerFunc(w, r, err)
			return
		}
	}

	fields := paystate.BuildEditPaymentFields(snapshot, method, amount, split)
	patch := editPatch(fields)

	err = orchestrator.RunWithPolicy(ctx, s.orch.CriticalPolicy(), func(ctx context.Context) error {
		return s.store.UpdateOrderPayment(ctx, orderID, patch)
	})
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("edit payment for order %s: %w", orderID, err))
		return
	}

	s.writeJSON(w, http.StatusOK, PaymentResponse{
		OrderID:         orderID,
		PaymentMethod:   string(fields.PaymentMethod),
		PaymentReceived: fields.PaymentReceived,
		BalanceAmount:   fields.BalanceAmount,
		IsCredit:        fields.IsCredit,
	})
}

// Active orders (GET /api/billing/orders/active).
func (s *Service) GetActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOpenOrders(r.Context())
	if err != nil {
		ErrorHandlerFunc(w, r, fmt.Errorf("list open orders: %w", err))
		return
	}

	active := paystate.FilterActiveOrders(orders, s.recent)

	s.writeJSON(w, http.StatusOK, ActiveOrdersResponse{
		Orders: active,
		Count:  len(active),
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Errorf("encode response: %s", err)
	}
}

// buildIntent converts the wire payload into a payment intent. Raw
// amounts are sanitized at this boundary; validation proper happens
// inside the orchestrated run.
func buildIntent(orderID string, params PaymentParams, snapshot *order.Order) *order.PaymentIntent {
	intent := &order.PaymentIntent{
		OrderID:        orderID,
		IdempotencyKey: params.IdempotencyKey,
		Method:         order.Method(strings.ToLower(strings.TrimSpace(params.PaymentMethod))),
		Amount:         paystate.SanitizeAmount(params.Amount),
		Discount:       paystate.SanitizeAmount(params.Discount),
		Tax:            paystate.SanitizeAmount(params.Tax),
		Customer:       params.Customer,
		Split:          toSplit(params.Split),
		Order:          snapshot,
	}

	if intent.Method == order.MethodSplit && intent.Amount.IsZero() && intent.Split != nil {
		intent.Amount = intent.Split.Sum()
	}

	return intent
}

func toSplit(req *SplitRequest) *order.SplitAllocation {
	if req == nil {
		return nil
	}
	return &order.SplitAllocation{
		Cash:   paystate.SanitizeAmount(req.Cash),
		Card:   paystate.SanitizeAmount(req.Card),
		UPI:    paystate.SanitizeAmount(req.UPI),
		Credit: paystate.SanitizeAmount(req.Credit),
	}
}

// applyPatch projects the committed patch onto a copy of the snapshot.
func applyPatch(o *order.Order, patch *backend.OrderPatch) *order.Order {
	final := *o
	if patch.Status != "" {
		final.Status = patch.Status
	}
	final.PaymentMethod = patch.PaymentMethod
	final.PaymentReceived = patch.PaymentReceived
	final.BalanceAmount = patch.BalanceAmount
	final.IsCredit = patch.IsCredit
	if patch.CustomerName != "" {
		final.CustomerName = patch.CustomerName
	}
	if patch.CustomerPhone != "" {
		final.CustomerPhone = patch.CustomerPhone
	}
	return &final
}

// editPatch converts edit fields into the wire patch. No status field
// exists on this path.
func editPatch(fields paystate.EditPaymentFields) *backend.OrderPatch {
	patch := &backend.OrderPatch{
		PaymentMethod:   fields.PaymentMethod,
		PaymentReceived: fields.PaymentReceived,
		BalanceAmount:   fields.BalanceAmount,
		IsCredit:        fields.IsCredit,
	}

	if fields.CashAmount.IsPositive() {
		v := fields.CashAmount
		patch.CashAmount = &v
	}
	if fields.CardAmount.IsPositive() {
		v := fields.CardAmount
		patch.CardAmount = &v
	}
	if fields.UPIAmount.IsPositive() {
		v := fields.UPIAmount
		patch.UPIAmount = &v
	}
	if fields.CreditAmount.IsPositive() {
		v := fields.CreditAmount
		patch.CreditAmount = &v
	}

	return patch
}

func anyDegraded(outcome *orchestrator.Outcome) bool {
	if outcome == nil {
		return false
	}
	for _, res := range outcome.Steps {
		if res.Degraded {
			return true
		}
	}
	return false
}

// errorResponse is the failure payload: a closed-set user message plus
// the failure class.
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ErrorHandlerFunc maps failures onto HTTP codes and user-safe
// messages. Raw transport errors never reach the response body.
func ErrorHandlerFunc(w http.ResponseWriter, _ *http.Request, err error) {
	code := http.StatusInternalServerError
	var resp errorResponse

	switch {
	// Malformed request.
	case errors.Is(err, errs.ErrRequiredBodyParam) ||
		errors.Is(err, errs.ErrInvalidPayload) ||
		errors.Is(err, errs.ErrInvalidContentType) ||
		errors.Is(err, io.EOF):
		code = http.StatusBadRequest
		resp = errorResponse{Error: err.Error()}

	// Double submit.
	case errors.Is(err, errs.ErrDuplicateRun):
		code = http.StatusConflict
		resp = errorResponse{
			Error: "payment already in progress or processed",
			Kind:  "duplicate_run",
		}

	default:
		cerr := classify.Classify(err)
		resp = errorResponse{
			Error: classify.UserMessage(cerr),
			Kind:  string(cerr.Kind),
		}

		switch cerr.Kind {
		case classify.KindValidation:
			code = http.StatusUnprocessableEntity
			// Validation messages are our own text, safe to expose.
			resp.Detail = cerr.Err.Error()
		case classify.KindAuth:
			code = http.StatusUnauthorized
		case classify.KindNotFound:
			code = http.StatusNotFound
		case classify.KindTimeout:
			code = http.StatusGatewayTimeout
		case classify.KindNetwork, classify.KindServer:
			code = http.StatusBadGateway
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err = json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
