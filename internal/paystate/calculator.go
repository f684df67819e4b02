// Package paystate holds the pure billing-state calculations: payment
// math, completion gating and order status classification. Everything
// here is deterministic and side-effect free.
package paystate

import (
	"math"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/shopspring/decimal"
)

// State is the derived financial state of an order.
type State struct {
	PaymentReceived decimal.Decimal `json:"payment_received"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	IsCredit        bool            `json:"is_credit"`
}

// SanitizeAmount converts a raw float amount from the JSON boundary
// into a decimal, clamping non-finite and negative values to zero.
func SanitizeAmount(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// ComputePaymentState derives the received amount, outstanding balance
// and credit flag from the order total and the amount received.
// Negative received amounts are clamped to zero. The invariants hold
// for any input: balance >= 0 and is_credit iff balance > 0.
func ComputePaymentState(total, received decimal.Decimal) State {
	if received.IsNegative() {
		received = decimal.Zero
	}

	balance := total.Sub(received)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	return State{
		PaymentReceived: received,
		BalanceAmount:   balance,
		IsCredit:        balance.IsPositive(),
	}
}

// DetermineBillingCompletionStatus gates the transition to "completed".
// Self-service orders require staff confirmation regardless of payment;
// partially paid orders stay open until fully settled.
func DetermineBillingCompletionStatus(origin order.Origin, isCredit bool) order.Status {
	if origin.IsSelfService() || isCredit {
		return order.StatusPending
	}
	return order.StatusCompleted
}

// Two distinct status sets are used for classification. The terminal
// set is broader than the hide-from-active-view set; they are kept
// separate on purpose (the billed/settled difference is a known quirk
// of the upstream data, not unified here).
var (
	terminalStatuses = map[order.Status]struct{}{
		order.StatusCompleted: {},
		order.StatusCancelled: {},
		order.StatusBilled:    {},
		order.StatusSettled:   {},
	}
	hiddenFromActiveStatuses = map[order.Status]struct{}{
		order.StatusCompleted: {},
		order.StatusCancelled: {},
	}
)

// IsActiveTabStatus reports whether a raw status string still belongs
// on an active tab, i.e. is not terminal. Case-insensitive.
func IsActiveTabStatus(raw string) bool {
	_, terminal := terminalStatuses[order.Normalize(raw)]
	return !terminal
}

// IsCompletedForActiveFilter reports whether a raw status string hides
// the order from active operational views. Case-insensitive.
func IsCompletedForActiveFilter(raw string) bool {
	_, hidden := hiddenFromActiveStatuses[order.Normalize(raw)]
	return hidden
}

// IsServerActiveOrder reports whether an order is still awaiting
// action: its status is not terminal, it has not just been completed
// (caller-supplied dedup set) and it is not fully paid up.
func IsServerActiveOrder(o *order.Order, recent *RecentCompletions) bool {
	if o == nil {
		return false
	}
	if !IsActiveTabStatus(string(o.Status)) {
		return false
	}
	if recent != nil && recent.Contains(o.ID) {
		return false
	}
	return o.PaymentReceived.LessThan(o.Total)
}

// FilterActiveOrders returns the active subset of orders. The input
// slice is never mutated.
func FilterActiveOrders(orders []*order.Order, recent *RecentCompletions) []*order.Order {
	active := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if IsServerActiveOrder(o, recent) {
			active = append(active, o)
		}
	}
	return active
}

// EditPaymentFields is the partial update produced by the non-billing
// edit path. It deliberately has no status field: only the billing flow
// may request a completion transition.
type EditPaymentFields struct {
	PaymentMethod   order.Method    `json:"payment_method"`
	PaymentReceived decimal.Decimal `json:"payment_received"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	CashAmount      decimal.Decimal `json:"cash_amount"`
	CardAmount      decimal.Decimal `json:"card_amount"`
	UPIAmount       decimal.Decimal `json:"upi_amount"`
	CreditAmount    decimal.Decimal `json:"credit_amount"`
	IsCredit        bool            `json:"is_credit"`
}

// BuildEditPaymentFields derives the financial fields for an edit of an
// order's payment details outside the billing flow.
func BuildEditPaymentFields(o *order.Order, method order.Method, amount decimal.Decimal, split *order.SplitAllocation) EditPaymentFields {
	received := amount
	if method == order.MethodSplit && split != nil {
		received = split.Cash.Add(split.Card).Add(split.UPI)
	}

	state := ComputePaymentState(o.Total, received)

	fields := EditPaymentFields{
		PaymentMethod:   method,
		PaymentReceived: state.PaymentReceived,
		BalanceAmount:   state.BalanceAmount,
		IsCredit:        state.IsCredit,
	}

	switch method {
	case order.MethodCash:
		fields.CashAmount = state.PaymentReceived
	case order.MethodCard:
		fields.CardAmount = state.PaymentReceived
	case order.MethodUPI:
		fields.UPIAmount = state.PaymentReceived
	case order.MethodCredit:
		fields.CreditAmount = state.BalanceAmount
	case order.MethodSplit:
		if split != nil {
			fields.CashAmount = split.Cash
			fields.CardAmount = split.Card
			fields.UPIAmount = split.UPI
			fields.CreditAmount = split.Credit
		}
	}

	return fields
}
