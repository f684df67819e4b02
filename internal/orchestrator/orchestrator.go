// Package orchestrator runs the multi-step transaction that commits a
// payment: an optimistic local update, three independently-governed
// backend operations in flight at once, and a rollback when the one
// critical operation fails. Consistency across the steps is best
// effort; the critical order update is the single source of truth.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dinehub/pos-billing-service/internal/backend"
	"github.com/dinehub/pos-billing-service/internal/classify"
	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/internal/payval"
	"github.com/dinehub/pos-billing-service/pkg/logger"
)

// Step names, also used to read per-step outcomes.
const (
	StepUpdateOrder    = "update_order"
	StepLedgerEntry    = "ledger_entry"
	StepReleaseSeating = "release_seating"
)

// ErrCeilingExceeded marks a step stopped by the hard per-step ceiling
// rather than by its own timeout policy. It classifies as a timeout but
// stays distinguishable through errors.Is.
var ErrCeilingExceeded = fmt.Errorf("hard step ceiling exceeded: %w", context.DeadlineExceeded)

// OrderUpdater persists order status/financial fields. The critical
// operation.
type OrderUpdater interface {
	UpdateOrderPayment(ctx context.Context, id string, patch *backend.OrderPatch) error
}

// LedgerWriter creates the auxiliary payment-ledger record.
type LedgerWriter interface {
	CreateEntry(ctx context.Context, entry *backend.LedgerEntry) error
}

// SeatingReleaser returns a table to "available".
type SeatingReleaser interface {
	ReleaseTable(ctx context.Context, tableID string) error
}

// Callbacks let the caller react to run phases. OnOptimisticUpdate runs
// synchronously before any network call so the UI can render "paid"
// immediately; OnRevertUpdate undoes it when the critical step fails.
type Callbacks struct {
	OnOptimisticUpdate func(intent *order.PaymentIntent)
	OnRevertUpdate     func(err error)
}

// Step is one governed operation of a run.
type Step struct {
	Run      func(ctx context.Context) error
	Name     string
	Policy   Policy
	Critical bool
	// Degrade turns any failure into a synthetic non-failing result.
	// Non-critical steps must never fail the run.
	Degrade bool
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	Err      error
	Name     string
	Elapsed  time.Duration
	Attempts int
	// Degraded means the step failed but was absorbed.
	Degraded bool
}

// Completed reports whether the step actually did its work.
func (r StepResult) Completed() bool {
	return r.Err == nil && !r.Degraded
}

// RunState is the terminal state of a run.
type RunState string

const (
	StateCommitted  RunState = "committed"
	StateRolledBack RunState = "rolled_back"
)

// Outcome of an orchestrated run. Success is driven solely by the
// critical step.
type Outcome struct {
	Err     *classify.Error
	Steps   map[string]StepResult
	State   RunState
	Elapsed time.Duration
	Success bool
}

// StepCompleted reports whether the named step did its work.
func (o *Outcome) StepCompleted(name string) bool {
	res, ok := o.Steps[name]
	return ok && res.Completed()
}

// Orchestrator coordinates payment commits.
type Orchestrator struct {
	store   OrderUpdater
	ledger  LedgerWriter
	seating SeatingReleaser
	logger  logger.Logger

	critical Policy
	ledgerP  Policy
	seatingP Policy
	ceiling  time.Duration
}

// New builds an orchestrator with the per-step policies from config.
func New(store OrderUpdater, ledger LedgerWriter, seating SeatingReleaser,
	cfg *config.Config, logger logger.Logger,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("nil dependency: order store")
	}
	if ledger == nil {
		return nil, errors.New("nil dependency: ledger")
	}
	if seating == nil {
		return nil, errors.New("nil dependency: seating")
	}
	if cfg == nil {
		return nil, errors.New("nil dependency: config")
	}

	return &Orchestrator{
		store:   store,
		ledger:  ledger,
		seating: seating,
		logger:  logger,
		critical: Policy{
			Timeout:     cfg.Orchestra.CriticalTimeout,
			MaxRetries:  cfg.Orchestra.CriticalRetries,
			BackoffBase: cfg.Orchestra.CriticalBackoffBase,
			BackoffCap:  cfg.Orchestra.CriticalBackoffCap,
			Retryable:   classify.Retryable,
		},
		ledgerP: Policy{
			Timeout:     cfg.Orchestra.LedgerTimeout,
			MaxRetries:  cfg.Orchestra.LedgerRetries,
			BackoffBase: cfg.Orchestra.LedgerBackoffBase,
			BackoffCap:  cfg.Orchestra.LedgerBackoffCap,
			Retryable:   classify.Retryable,
		},
		seatingP: Policy{
			Timeout:    cfg.Orchestra.CriticalTimeout,
			MaxRetries: 0,
			Retryable:  func(error) bool { return false },
		},
		ceiling: cfg.Orchestra.StepCeiling,
	}, nil
}

// CriticalPolicy exposes the critical step's policy so the fallback
// path can reuse it.
func (o *Orchestrator) CriticalPolicy() Policy { return o.critical }

// Process runs one payment commit. Validation failure aborts before
// any optimistic update or network call. Otherwise the optimistic
// callback fires, the three operations run concurrently and join
// fail-independently, and the outcome is decided by the critical step
// alone: on its failure the optimistic update is reverted and a
// classified error is returned alongside the outcome.
func (o *Orchestrator) Process(ctx context.Context, intent *order.PaymentIntent, cb Callbacks) (*Outcome, error) {
	started := time.Now()

	if err := payval.ValidatePayment(intent); err != nil {
		return nil, classify.Classify(err)
	}

	o.applyOptimistic(cb, intent)

	patch := BuildOrderPatch(intent)
	steps := o.buildSteps(intent, patch)
	results := o.runAll(ctx, steps)

	outcome := &Outcome{
		Steps:   results,
		Elapsed: time.Since(started),
	}

	critical := results[StepUpdateOrder]
	if critical.Err != nil {
		cerr := classify.Classify(critical.Err)
		outcome.State = StateRolledBack
		outcome.Err = cerr

		o.revert(cb, cerr)

		return outcome, cerr
	}

	outcome.Success = true
	outcome.State = StateCommitted

	return outcome, nil
}

// buildSteps assembles the run: the critical order update, the
// non-critical ledger entry, and the seating release only when the
// order occupies a real table.
func (o *Orchestrator) buildSteps(intent *order.PaymentIntent, patch *backend.OrderPatch) []Step {
	steps := []Step{
		{
			Name:     StepUpdateOrder,
			Critical: true,
			Policy:   o.critical,
			Run: func(ctx context.Context) error {
				return o.store.UpdateOrderPayment(ctx, intent.OrderID, patch)
			},
		},
		{
			Name:    StepLedgerEntry,
			Degrade: true,
			Policy:  o.ledgerP,
			Run: func(ctx context.Context) error {
				return o.ledger.CreateEntry(ctx, &backend.LedgerEntry{
					OrderID: intent.OrderID,
					Method:  intent.Method,
					Amount:  patch.PaymentReceived,
				})
			},
		},
	}

	if intent.Order.HasRealTable() {
		tableID := intent.Order.TableID
		steps = append(steps, Step{
			Name:    StepReleaseSeating,
			Degrade: true,
			Policy:  o.seatingP,
			Run: func(ctx context.Context) error {
				return o.seating.ReleaseTable(ctx, tableID)
			},
		})
	}

	return steps
}

// runAll launches every step at once and joins them fail-independently:
// each outcome is collected, no failure cancels a sibling.
func (o *Orchestrator) runAll(ctx context.Context, steps []Step) map[string]StepResult {
	var wg sync.WaitGroup
	collected := make([]StepResult, len(steps))

	for i, step := range steps {
		wg.Add(1)
		go func(i int, step Step) {
			defer wg.Done()
			collected[i] = o.runBounded(ctx, step)
		}(i, step)
	}
	wg.Wait()

	results := make(map[string]StepResult, len(collected))
	for _, res := range collected {
		results[res.Name] = res
	}
	return results
}

// runBounded races a step against the hard ceiling. The ceiling is a
// soft cancellation: the step stops counting toward the result but its
// goroutine is drained in the background rather than abandoned.
func (o *Orchestrator) runBounded(ctx context.Context, step Step) StepResult {
	ch := make(chan StepResult, 1)
	go func() {
		ch <- o.runStep(ctx, step)
	}()

	timer := time.NewTimer(o.ceiling)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res
	case <-timer.C:
		go func() {
			late := <-ch
			o.logger.Warnf("step %s finished after the ceiling (%s elapsed): err=%v",
				step.Name, late.Elapsed, late.Err)
		}()

		res := StepResult{
			Name:    step.Name,
			Err:     fmt.Errorf("step %s: %w", step.Name, ErrCeilingExceeded),
			Elapsed: o.ceiling,
		}
		if step.Degrade {
			o.logger.Warnf("non-critical step %s hit the ceiling, degrading", step.Name)
			res.Err = nil
			res.Degraded = true
		}
		return res
	}
}

// runStep executes one step under its policy: per-attempt timeout,
// bounded retries with exponential backoff, retry only when the policy
// says the failure is worth it.
func (o *Orchestrator) runStep(ctx context.Context, step Step) StepResult {
	started := time.Now()

	var err error
	attempts := 0

	for attempt := 0; attempt <= step.Policy.MaxRetries; attempt++ {
		attempts++

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if step.Policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, step.Policy.Timeout)
		}
		err = step.Run(attemptCtx)
		cancel()

		if err == nil {
			break
		}
		if attempt == step.Policy.MaxRetries {
			break
		}
		if step.Policy.Retryable == nil || !step.Policy.Retryable(err) {
			break
		}

		select {
		case <-time.After(step.Policy.Backoff(attempt)):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	res := StepResult{
		Name:     step.Name,
		Err:      err,
		Elapsed:  time.Since(started),
		Attempts: attempts,
	}

	if err != nil && step.Degrade {
		o.logger.Warnf("non-critical step %s failed after %d attempts, degrading: %v",
			step.Name, attempts, err)
		res.Err = nil
		res.Degraded = true
	}

	return res
}

// applyOptimistic invokes the caller's optimistic update. A panicking
// callback is logged and never aborts the run.
func (o *Orchestrator) applyOptimistic(cb Callbacks, intent *order.PaymentIntent) {
	if cb.OnOptimisticUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("optimistic update callback panicked: %v", r)
		}
	}()
	cb.OnOptimisticUpdate(intent)
}

// revert invokes the caller's rollback. Also panic-safe: a broken
// rollback must not mask the classified error.
func (o *Orchestrator) revert(cb Callbacks, cerr *classify.Error) {
	if cb.OnRevertUpdate == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("revert callback panicked: %v", r)
		}
	}()
	cb.OnRevertUpdate(cerr)
}

// RunWithPolicy executes a single operation under a policy outside a
// full orchestrated run. Used by the critical-only fallback path.
func RunWithPolicy(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err = fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if attempt == p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
