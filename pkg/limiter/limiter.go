// Package limiter paces outbound backend requests so a busy billing
// counter cannot stampede the order store.
package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter whose rate can be retuned at
// runtime, e.g. after the backend signals overload.
type Limiter struct {
	limiter *rate.Limiter
}

// New builds a limiter allowing one request per interval with the
// given burst.
func New(interval time.Duration, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until a request may proceed or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed right now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Retune replaces the rate and burst without dropping queued waiters.
func (l *Limiter) Retune(interval time.Duration, burst int) {
	l.limiter.SetLimit(rate.Every(interval))
	l.limiter.SetBurst(burst)
}
