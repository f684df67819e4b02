package orchestrator

import (
	"github.com/dinehub/pos-billing-service/internal/backend"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/internal/paystate"
	"github.com/shopspring/decimal"
)

// receivedAmount derives the amount actually collected by an intent.
// For split payments only the settled components count; the credit
// component stays outstanding.
func receivedAmount(intent *order.PaymentIntent) decimal.Decimal {
	if intent.Method == order.MethodSplit && intent.Split != nil {
		return intent.Split.Cash.Add(intent.Split.Card).Add(intent.Split.UPI)
	}
	return intent.Amount
}

// BuildOrderPatch assembles the minimized wire payload of the critical
// operation. Mandatory financial fields are always present; customer
// identity, discount, tax and split components are included only when
// non-empty.
func BuildOrderPatch(intent *order.PaymentIntent) *backend.OrderPatch {
	state := paystate.ComputePaymentState(intent.Order.Total, receivedAmount(intent))

	patch := &backend.OrderPatch{
		Status:          paystate.DetermineBillingCompletionStatus(intent.Order.Origin, state.IsCredit),
		PaymentMethod:   intent.Method,
		PaymentReceived: state.PaymentReceived,
		BalanceAmount:   state.BalanceAmount,
		IsCredit:        state.IsCredit,
	}

	if intent.Customer != nil {
		patch.CustomerName = intent.Customer.Name
		patch.CustomerPhone = intent.Customer.Phone
	}
	if intent.Discount.IsPositive() {
		d := intent.Discount
		patch.Discount = &d
	}
	if intent.Tax.IsPositive() {
		t := intent.Tax
		patch.Tax = &t
	}
	if intent.Method == order.MethodSplit && intent.Split != nil {
		cash, card, upi, credit := intent.Split.Cash, intent.Split.Card, intent.Split.UPI, intent.Split.Credit
		patch.CashAmount = &cash
		patch.CardAmount = &card
		patch.UPIAmount = &upi
		patch.CreditAmount = &credit
	}

	return patch
}
