package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository interface {
	// Begin inserts the opened run. A duplicate idempotency key
	// returns errs.ErrDuplicateRun.
	Begin(ctx context.Context, run *Run) error
	// Finish records the outcome of a previously begun run.
	Finish(ctx context.Context, id uuid.UUID, success bool, errorKind string, elapsedMS int64) error
	// AddSteps stores the per-step diagnostics of a run. Call inside
	// the same transaction as Finish.
	AddSteps(ctx context.Context, steps []StepRecord) error
	// GetByKey returns the run recorded under an idempotency key.
	GetByKey(ctx context.Context, key string) (*Run, error)
}

type Repo struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger logger.Logger
}

func NewRepository(db *sql.DB, getter *trmsql.CtxGetter, logger logger.Logger) (*Repo, error) {
	if db == nil {
		return nil, errors.New("nil dependency: database")
	}
	if getter == nil {
		return nil, errors.New("nil dependency: transaction getter")
	}

	return &Repo{db: db, getter: getter, logger: logger}, nil
}

var _ Repository = (*Repo)(nil)

func (r *Repo) Begin(ctx context.Context, run *Run) error {
	const query = `
		INSERT INTO payment_runs
			(id, idempotency_key, order_id, payment_method, amount, is_credit, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.getter.DefaultTrOrDB(ctx, r.db).ExecContext(ctx, query,
		run.ID,
		run.IdempotencyKey,
		run.OrderID,
		run.Method,
		run.Amount,
		run.IsCredit,
		run.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return errs.ErrDuplicateRun
			}
		}
		return fmt.Errorf("begin payment run: %w", err)
	}

	return nil
}

func (r *Repo) Finish(ctx context.Context, id uuid.UUID, success bool, errorKind string, elapsedMS int64) error {
	const query = `
		UPDATE payment_runs SET
			success = $2,
			error_kind = $3,
			elapsed_ms = $4,
			finished_at = now()
		WHERE id = $1`

	res, err := r.getter.DefaultTrOrDB(ctx, r.db).
		ExecContext(ctx, query, id, success, errorKind, elapsedMS)
	if err != nil {
		return fmt.Errorf("finish payment run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.ErrNotFound
	}

	return nil
}

func (r *Repo) AddSteps(ctx context.Context, steps []StepRecord) error {
	const query = `
		INSERT INTO payment_run_steps
			(run_id, name, attempts, elapsed_ms, completed, degraded, error)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`

	for _, step := range steps {
		_, err := r.getter.DefaultTrOrDB(ctx, r.db).ExecContext(ctx, query,
			step.RunID,
			step.Name,
			step.Attempts,
			step.ElapsedMS,
			step.Completed,
			step.Degraded,
			step.Error,
		)
		if err != nil {
			return fmt.Errorf("add run step %s: %w", step.Name, err)
		}
	}

	return nil
}

func (r *Repo) GetByKey(ctx context.Context, key string) (*Run, error) {
	const query = `
		SELECT id, idempotency_key, order_id, payment_method, amount,
			is_credit, success, COALESCE(error_kind, ''), COALESCE(elapsed_ms, 0),
			started_at, COALESCE(finished_at, started_at)
		FROM payment_runs WHERE idempotency_key = $1`

	run := new(Run)

	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&run.ID,
		&run.IdempotencyKey,
		&run.OrderID,
		&run.Method,
		&run.Amount,
		&run.IsCredit,
		&run.Success,
		&run.ErrorKind,
		&run.ElapsedMS,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	return run, nil
}
