package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/shopspring/decimal"
)

// LedgerEntry is the auxiliary payment record created alongside a
// settlement. Best-effort: the billing run never fails on it.
type LedgerEntry struct {
	OrderID string          `json:"order_id"`
	Method  order.Method    `json:"payment_method"`
	Amount  decimal.Decimal `json:"amount"`
}

// Ledger creates auxiliary payment records.
type Ledger struct {
	client *Client
	base   string
}

func NewLedger(client *Client, baseURL string) *Ledger {
	return &Ledger{client: client, base: baseURL}
}

// CreateEntry records a payment in the ledger.
func (l *Ledger) CreateEntry(ctx context.Context, entry *LedgerEntry) error {
	url := fmt.Sprintf("%s/api/ledger/entries", l.base)
	return l.client.do(ctx, "create ledger entry", http.MethodPost, url, entry, nil)
}
