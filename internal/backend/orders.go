package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/shopspring/decimal"
)

// OrderPatch is the minimized wire payload of the critical operation:
// a partial update of an order's financial and status fields. Mandatory
// fields are always present; optional ones are sent only when set.
type OrderPatch struct {
	Status          order.Status     `json:"status,omitempty"`
	PaymentMethod   order.Method     `json:"payment_method"`
	PaymentReceived decimal.Decimal  `json:"payment_received"`
	BalanceAmount   decimal.Decimal  `json:"balance_amount"`
	IsCredit        bool             `json:"is_credit"`
	CustomerName    string           `json:"customer_name,omitempty"`
	CustomerPhone   string           `json:"customer_phone,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
	CashAmount      *decimal.Decimal `json:"cash_amount,omitempty"`
	CardAmount      *decimal.Decimal `json:"card_amount,omitempty"`
	UPIAmount       *decimal.Decimal `json:"upi_amount,omitempty"`
	CreditAmount    *decimal.Decimal `json:"credit_amount,omitempty"`
}

// OrderStore reads and partially updates orders.
type OrderStore struct {
	client *Client
	base   string
}

func NewOrderStore(client *Client, baseURL string) *OrderStore {
	return &OrderStore{client: client, base: baseURL}
}

// GetOrder reads one order by id. Also used as the verification read
// after an ambiguous critical failure.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	url := fmt.Sprintf("%s/api/orders/%s", s.base, id)

	if err := s.client.do(ctx, "get order", http.MethodGet, url, nil, &o); err != nil {
		return nil, err
	}

	return &o, nil
}

// ListOpenOrders reads every order the store still considers open.
func (s *OrderStore) ListOpenOrders(ctx context.Context) ([]*order.Order, error) {
	var orders []*order.Order
	url := fmt.Sprintf("%s/api/orders?state=open", s.base)

	if err := s.client.do(ctx, "list open orders", http.MethodGet, url, nil, &orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateOrderPayment applies a partial financial/status update. This is
// the critical operation of a billing run.
func (s *OrderStore) UpdateOrderPayment(ctx context.Context, id string, patch *OrderPatch) error {
	url := fmt.Sprintf("%s/api/orders/%s/payment", s.base, id)
	return s.client.do(ctx, "update order payment", http.MethodPatch, url, patch, nil)
}
