package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status of an order. Stored case-insensitively by the order store;
// compare through Normalize.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusBilled    Status = "billed"
	StatusSettled   Status = "settled"
)

// Normalize lowercases a raw status string for classification.
func Normalize(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// Origin of an order: which channel created it.
type Origin string

const (
	// OriginStaff is an order entered by a staff member at the counter.
	OriginStaff Origin = "staff"
	// OriginSelf is a customer-originated order (QR / kiosk). Requires
	// staff confirmation before completion regardless of payment.
	OriginSelf Origin = "self"
)

// IsSelfService reports whether the order came through a customer-facing
// channel.
func (o Origin) IsSelfService() bool {
	return o == OriginSelf
}

// Method of payment.
type Method string

const (
	MethodCash   Method = "cash"
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
	MethodCredit Method = "credit"
	MethodSplit  Method = "split"
)

// Methods lists every accepted payment method.
var Methods = []Method{MethodCash, MethodCard, MethodUPI, MethodCredit, MethodSplit}

// Item is a single order line.
type Item struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SplitAllocation divides a settlement across the four payment
// components. The sum must equal the order total within 0.01.
type SplitAllocation struct {
	Cash   decimal.Decimal `json:"cash"`
	Card   decimal.Decimal `json:"card"`
	UPI    decimal.Decimal `json:"upi"`
	Credit decimal.Decimal `json:"credit"`
}

// Sum returns the total of all four components.
func (s SplitAllocation) Sum() decimal.Decimal {
	return s.Cash.Add(s.Card).Add(s.UPI).Add(s.Credit)
}

// CustomerInfo identifies the customer on credit sales.
type CustomerInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Order as read from the order store.
type Order struct {
	UpdatedAt       time.Time       `json:"updated_at"`
	CreatedAt       time.Time       `json:"created_at"`
	ID              string          `json:"id"`
	Status          Status          `json:"status"`
	TableID         string          `json:"table_id"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	PaymentMethod   Method          `json:"payment_method,omitempty"`
	Origin          Origin          `json:"origin"`
	Items           []Item          `json:"items"`
	Total           decimal.Decimal `json:"total"`
	PaymentReceived decimal.Decimal `json:"payment_received"`
	BalanceAmount   decimal.Decimal `json:"balance_amount"`
	IsCredit        bool            `json:"is_credit"`
}

// virtualTablePrefix marks placeholder seating for delivery and
// takeaway orders. No seating release is issued for those.
const virtualTablePrefix = "virtual"

// HasRealTable reports whether the order occupies an actual seating
// resource that must be released on settlement.
func (o *Order) HasRealTable() bool {
	return o.TableID != "" && !strings.HasPrefix(strings.ToLower(o.TableID), virtualTablePrefix)
}

// PaymentIntent is the transient input of a billing run. It is built
// from a billing UI event and never persisted on its own.
type PaymentIntent struct {
	OrderID        string           `json:"order_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Method         Method           `json:"payment_method"`
	Amount         decimal.Decimal  `json:"amount"`
	Discount       decimal.Decimal  `json:"discount,omitempty"`
	Tax            decimal.Decimal  `json:"tax,omitempty"`
	Split          *SplitAllocation `json:"split,omitempty"`
	Customer       *CustomerInfo    `json:"customer,omitempty"`
	// Snapshot of the order being settled.
	Order *Order `json:"-"`
}
