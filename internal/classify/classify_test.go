package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode int
	}{
		{"nil", nil, "", 0},
		{
			"validation",
			&errs.ValidationError{Field: "amount", Message: "negative"},
			KindValidation, 0,
		},
		{"deadline", context.DeadlineExceeded, KindTimeout, 0},
		{"wrapped deadline", fmt.Errorf("update order: %w", context.DeadlineExceeded), KindTimeout, 0},
		{"net timeout", timeoutErr{}, KindTimeout, 0},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindNetwork, 0},
		{"401", &errs.HTTPStatusError{Operation: "update order", Code: 401}, KindAuth, 401},
		{"403", &errs.HTTPStatusError{Operation: "update order", Code: 403}, KindAuth, 403},
		{"404", &errs.HTTPStatusError{Operation: "get order", Code: 404}, KindNotFound, 404},
		{"408", &errs.HTTPStatusError{Operation: "update order", Code: 408}, KindTimeout, 408},
		{"422", &errs.HTTPStatusError{Operation: "update order", Code: 422}, KindClient, 422},
		{"500", &errs.HTTPStatusError{Operation: "update order", Code: 500}, KindServer, 500},
		{"503", &errs.HTTPStatusError{Operation: "update order", Code: 503}, KindServer, 503},
		{"cors", ErrCrossOrigin, KindCORS, 0},
		{"unknown", errors.New("who knows"), KindUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				require.Nil(t, got)
				return
			}

			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Ambiguous(t *testing.T) {
	got := Classify(fmt.Errorf("read response: %w", errs.ErrAmbiguousOutcome))
	require.NotNil(t, got)
	assert.True(t, got.Ambiguous)
	assert.Equal(t, KindUnknown, got.Kind)
}

func TestClassify_Idempotent(t *testing.T) {
	first := Classify(&errs.HTTPStatusError{Operation: "update order", Code: 500})
	second := Classify(fmt.Errorf("wrapped: %w", first))
	assert.Equal(t, first, second)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"timeout", context.DeadlineExceeded, true},
		{"500", &errs.HTTPStatusError{Code: 500}, true},
		{"408", &errs.HTTPStatusError{Code: 408}, true},
		{"400", &errs.HTTPStatusError{Code: 400}, false},
		{"401", &errs.HTTPStatusError{Code: 401}, false},
		{"404", &errs.HTTPStatusError{Code: 404}, false},
		{"422", &errs.HTTPStatusError{Code: 422}, false},
		{"validation", &errs.ValidationError{Field: "amount"}, false},
		{"unknown", errors.New("mystery"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestUserMessage_ClosedSet(t *testing.T) {
	known := map[string]struct{}{
		msgSessionExpired: {},
		msgNetwork:        {},
		msgServer:         {},
		msgInvalid:        {},
		msgGeneric:        {},
	}

	for _, kind := range []Kind{
		KindValidation, KindNetwork, KindTimeout, KindServer,
		KindAuth, KindNotFound, KindCORS, KindClient, KindUnknown,
	} {
		msg := UserMessage(&Error{Kind: kind})
		_, ok := known[msg]
		assert.True(t, ok, "kind %s produced message outside the closed set: %q", kind, msg)
	}
}
