// Package classify turns raw failures into a small closed taxonomy.
// Classification drives retry eligibility, user messaging and whether a
// verification read is attempted after an ambiguous critical call.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
)

// Kind is the failure class of a run.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindNetwork    Kind = "network_error"
	KindTimeout    Kind = "timeout_error"
	KindServer     Kind = "server_error"
	KindAuth       Kind = "auth_error"
	KindNotFound   Kind = "not_found_error"
	KindCORS       Kind = "cors_error"
	KindClient     Kind = "client_error"
	KindUnknown    Kind = "unknown_error"
)

// ErrCrossOrigin is returned by transports whose response was withheld
// by a cross-origin policy.
var ErrCrossOrigin = errors.New("cross-origin request blocked")

// Error is a classified failure.
type Error struct {
	Err       error
	Kind      Kind
	Code      int
	Ambiguous bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an arbitrary error onto the taxonomy. A nil error
// yields nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	out := &Error{Err: err, Kind: KindUnknown}

	if errors.Is(err, errs.ErrAmbiguousOutcome) {
		out.Ambiguous = true
		return out
	}

	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		out.Kind = KindValidation
		return out
	}

	if errors.Is(err, ErrCrossOrigin) {
		out.Kind = KindCORS
		return out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindTimeout
		return out
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			out.Kind = KindTimeout
		} else {
			out.Kind = KindNetwork
		}
		return out
	}

	var serr *errs.HTTPStatusError
	if errors.As(err, &serr) {
		out.Code = serr.Code
		switch {
		case serr.Code == http.StatusUnauthorized || serr.Code == http.StatusForbidden:
			out.Kind = KindAuth
		case serr.Code == http.StatusNotFound:
			out.Kind = KindNotFound
		case serr.Code == http.StatusRequestTimeout:
			out.Kind = KindTimeout
		case serr.Code >= 500:
			out.Kind = KindServer
		case serr.Code >= 400:
			out.Kind = KindClient
		}
		return out
	}

	return out
}

// Retryable reports whether a failure class is worth retrying: network
// errors, timeouts, 5xx and 408 only. Everything else fails fast.
func Retryable(err error) bool {
	e := Classify(err)
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	case KindClient:
		return e.Code == http.StatusRequestTimeout
	default:
		return false
	}
}

// User-visible messages form a small closed set. Raw transport errors
// never reach the user.
const (
	msgSessionExpired = "Session expired. Please sign in again."
	msgNetwork        = "Network unreachable. Check the connection and try again."
	msgServer         = "Server error. The payment may have processed; please verify before retrying."
	msgInvalid        = "Invalid payment data."
	msgGeneric        = "Payment failed. Please try again."
)

// UserMessage returns the message shown to staff for a classified
// failure.
func UserMessage(e *Error) string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindAuth:
		return msgSessionExpired
	case KindNetwork:
		return msgNetwork
	case KindServer, KindTimeout:
		return msgServer
	case KindValidation:
		return msgInvalid
	default:
		return msgGeneric
	}
}
