// Package metrics emits one diagnostics record per payment run.
// Aggregation (success rate, latency percentiles) happens outside the
// process; this side only guarantees that every run leaves a sample.
package metrics

import (
	"context"
	"time"

	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	"github.com/shopspring/decimal"
)

// RunSample describes a finished payment run.
type RunSample struct {
	OrderID   string
	Method    order.Method
	Amount    decimal.Decimal
	IsCredit  bool
	Success   bool
	ErrorKind string
	Elapsed   time.Duration
	Degraded  bool
}

// Sink receives a sample for every payment run, success or failure.
type Sink interface {
	ObserveRun(ctx context.Context, s RunSample)
}

// LogSink writes run samples to the structured log. The external
// alerting pipeline consumes these lines against the configured
// thresholds.
type LogSink struct {
	logger logger.Logger
	config *config.Config
}

func NewLogSink(logger logger.Logger, config *config.Config) *LogSink {
	return &LogSink{logger: logger, config: config}
}

var _ Sink = (*LogSink)(nil)

func (s *LogSink) ObserveRun(ctx context.Context, sample RunSample) {
	fields := []any{
		"order_id", sample.OrderID,
		"success", sample.Success,
		"elapsed_ms", sample.Elapsed.Milliseconds(),
	}
	if sample.Degraded {
		fields = append(fields, "degraded", true)
	}

	if sample.Success {
		s.logger.With(ctx, fields...).Info("payment run finished")
		return
	}

	// Failures carry the full financial context for triage.
	fields = append(fields,
		"error_kind", sample.ErrorKind,
		"payment_method", sample.Method,
		"amount", sample.Amount.StringFixed(2),
		"is_credit", sample.IsCredit,
	)
	s.logger.With(ctx, fields...).Error("payment run failed")

	if sample.Elapsed > s.config.Metrics.P95Duration {
		s.logger.With(ctx, "order_id", sample.OrderID,
			"elapsed_ms", sample.Elapsed.Milliseconds()).
			Warnf("payment run exceeded the %s latency target", s.config.Metrics.P95Duration)
	}
}
