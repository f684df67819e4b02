package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/go-chi/chi/v5"
)

// SplitRequest is the wire form of a split allocation.
type SplitRequest struct {
	Cash   float64 `json:"cash"`
	Card   float64 `json:"card"`
	UPI    float64 `json:"upi"`
	Credit float64 `json:"credit"`
}

// PaymentParams defines parameters for CommitPayment.
type PaymentParams struct {
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	PaymentMethod  string              `json:"payment_method"`
	Amount         float64             `json:"amount"`
	Discount       float64             `json:"discount,omitempty"`
	Tax            float64             `json:"tax,omitempty"`
	Split          *SplitRequest       `json:"split,omitempty"`
	Customer       *order.CustomerInfo `json:"customer,omitempty"`
}

// EditPaymentParams defines parameters for EditPayment.
type EditPaymentParams struct {
	PaymentMethod string        `json:"payment_method"`
	Amount        float64       `json:"amount"`
	Split         *SplitRequest `json:"split,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Payment commit (POST /api/billing/orders/{orderID}/payment).
	CommitPayment(w http.ResponseWriter, r *http.Request, orderID string, params PaymentParams)
	// Payment details edit (PATCH /api/billing/orders/{orderID}/payment).
	EditPayment(w http.ResponseWriter, r *http.Request, orderID string, params EditPaymentParams)
	// Active orders (GET /api/billing/orders/active).
	GetActiveOrders(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts payloads to parameters.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

type MiddlewareFunc func(http.Handler) http.Handler

// CommitPayment operation middleware.
func (siw *ServerInterfaceWrapper) CommitPayment(w http.ResponseWriter, r *http.Request) {
	// ------------- Required application/json content type -----------

	if !isJSONContentType(r.Header.Get("Content-Type")) {
		siw.ErrorHandlerFunc(w, r, fmt.Errorf("%w: expected application/json",
			errs.ErrInvalidContentType))
		return
	}

	// ------------- Path parameter "orderID" -------------------------

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		siw.ErrorHandlerFunc(w, r, fmt.Errorf("%w: order id", errs.ErrInvalidPayload))
		return
	}

	var params PaymentParams

	data, err := io.ReadAll(r.Body)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	r.Body.Close()

	if err = json.Unmarshal(data, &params); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	// ------------- Required JSON body parameter "payment_method" ----

	if params.PaymentMethod == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "payment_method"})
		return
	}

	siw.Handler.CommitPayment(w, r, orderID, params)
}

// EditPayment operation middleware.
func (siw *ServerInterfaceWrapper) EditPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		siw.ErrorHandlerFunc(w, r, fmt.Errorf("%w: order id", errs.ErrInvalidPayload))
		return
	}

	var params EditPaymentParams

	data, err := io.ReadAll(r.Body)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	r.Body.Close()

	if err = json.Unmarshal(data, &params); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}

	// ------------- Required JSON body parameter "payment_method" ----

	if params.PaymentMethod == "" {
		siw.ErrorHandlerFunc(w, r,
			&errs.RequiredJSONBodyParamError{ParamName: "payment_method"})
		return
	}

	siw.Handler.EditPayment(w, r, orderID, params)
}

type ChiServerOptions struct {
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	BaseRouter       chi.Router
	BaseURL          string
	Middlewares      []MiddlewareFunc
}

// HandlerWithOptions creates an http.Handler with the configured
// options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		for _, middleware := range options.Middlewares {
			r.Use(middleware)
		}
		r.Post(options.BaseURL+"/orders/{orderID}/payment", wrapper.CommitPayment)
		r.Patch(options.BaseURL+"/orders/{orderID}/payment", wrapper.EditPayment)
		r.Get(options.BaseURL+"/orders/active", si.GetActiveOrders)
	})

	return r
}

// isJSONContentType returns true if the content type is
// application/json.
func isJSONContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i > -1 {
		contentType = contentType[0:i]
	}
	return contentType == "application/json"
}
