// Package payval validates payment intents before any optimistic
// update or network call is made.
package payval

import (
	"regexp"

	"github.com/dinehub/pos-billing-service/internal/models/errs"
	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/shopspring/decimal"
)

// Largest amount a single order can carry.
var maxAmount = decimal.NewFromFloat(999999.99)

// Epsilon within which a split allocation must sum to the order total.
var splitEpsilon = decimal.NewFromFloat(0.01)

// Loose phone pattern: 10 to 15 digits with optional leading plus and
// common separators.
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{8,18}[0-9]$`)

// ValidateAmount checks a money amount: non-negative, at most
// 999999.99, at most two decimal places. Zero is permitted only when
// allowZero (credit flows). Non-finite floats are clamped to zero at
// the JSON boundary before reaching here.
func ValidateAmount(amount decimal.Decimal, allowZero bool) error {
	if amount.IsNegative() {
		return &errs.ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if amount.IsZero() && !allowZero {
		return &errs.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if amount.GreaterThan(maxAmount) {
		return &errs.ValidationError{Field: "amount", Message: "exceeds the maximum of 999999.99"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &errs.ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	}
	return nil
}

// ValidatePaymentMethod checks that the method is one of the accepted
// ones.
func ValidatePaymentMethod(method order.Method) error {
	for _, m := range order.Methods {
		if method == m {
			return nil
		}
	}
	return &errs.ValidationError{Field: "payment_method", Message: "unknown payment method"}
}

// ValidateOrderData checks the order snapshot carried by an intent: an
// id, a valid positive total and a non-empty item list where each item
// has a name, a positive quantity and a valid price.
func ValidateOrderData(o *order.Order) error {
	if o == nil {
		return &errs.ValidationError{Field: "order", Message: "missing order data"}
	}
	if o.ID == "" {
		return &errs.ValidationError{Field: "order.id", Message: "missing order id"}
	}
	if !o.Total.IsPositive() {
		return &errs.ValidationError{Field: "order.total", Message: "must be greater than zero"}
	}
	if err := ValidateAmount(o.Total, false); err != nil {
		return &errs.ValidationError{Field: "order.total", Message: "invalid total"}
	}
	if len(o.Items) == 0 {
		return &errs.ValidationError{Field: "order.items", Message: "order has no items"}
	}
	for _, item := range o.Items {
		if item.Name == "" {
			return &errs.ValidationError{Field: "order.items", Message: "item without a name"}
		}
		if item.Quantity <= 0 {
			return &errs.ValidationError{Field: "order.items", Message: "item quantity must be positive"}
		}
		if err := ValidateAmount(item.Price, true); err != nil {
			return &errs.ValidationError{Field: "order.items", Message: "invalid item price"}
		}
	}
	return nil
}

// ValidateCustomerInfo checks customer identity on credit sales. It is
// a no-op for settled sales; present fields must pass minimal checks.
func ValidateCustomerInfo(info *order.CustomerInfo, isCredit bool) error {
	if !isCredit || info == nil {
		return nil
	}
	if info.Name != "" && len(info.Name) < 2 {
		return &errs.ValidationError{Field: "customer.name", Message: "must be at least 2 characters"}
	}
	if info.Phone != "" && !phonePattern.MatchString(info.Phone) {
		return &errs.ValidationError{Field: "customer.phone", Message: "must be a 10-15 digit phone number"}
	}
	return nil
}

// ValidateSplitPayment checks each split component and requires the
// four components to sum to the order total within 0.01.
func ValidateSplitPayment(split *order.SplitAllocation, total decimal.Decimal) error {
	if split == nil {
		return &errs.ValidationError{Field: "split", Message: "missing split allocation"}
	}
	for field, amount := range map[string]decimal.Decimal{
		"split.cash":   split.Cash,
		"split.card":   split.Card,
		"split.upi":    split.UPI,
		"split.credit": split.Credit,
	} {
		if err := ValidateAmount(amount, true); err != nil {
			return &errs.ValidationError{Field: field, Message: "invalid component amount"}
		}
	}
	if split.Sum().Sub(total).Abs().GreaterThan(splitEpsilon) {
		return &errs.ValidationError{Field: "split", Message: "components must sum to the order total"}
	}
	return nil
}

// ValidatePayment runs all intent checks in order, failing fast on the
// first violation. Non-credit, non-split methods additionally require a
// strictly positive amount so a zero-value payment can never complete
// an order.
func ValidatePayment(intent *order.PaymentIntent) error {
	if intent == nil {
		return &errs.ValidationError{Field: "intent", Message: "missing payment intent"}
	}
	if err := ValidatePaymentMethod(intent.Method); err != nil {
		return err
	}

	allowZero := intent.Method == order.MethodCredit || intent.Method == order.MethodSplit
	if err := ValidateAmount(intent.Amount, allowZero); err != nil {
		return err
	}

	if err := ValidateOrderData(intent.Order); err != nil {
		return err
	}

	isCredit := intent.Method == order.MethodCredit ||
		(intent.Split != nil && intent.Split.Credit.IsPositive())
	if err := ValidateCustomerInfo(intent.Customer, isCredit); err != nil {
		return err
	}

	if intent.Method == order.MethodSplit {
		if err := ValidateSplitPayment(intent.Split, intent.Order.Total); err != nil {
			return err
		}
	}

	if intent.Method != order.MethodCredit && intent.Method != order.MethodSplit &&
		!intent.Amount.IsPositive() {
		return &errs.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	return nil
}
