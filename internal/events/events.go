// Package events distributes payment completion notifications.
//
// Two transports carry the same event: an in-process broker for
// subscribers living in this binary (the active orders cache) and a
// RabbitMQ fanout exchange for other terminals. Both are
// fire-and-forget. A lost event degrades freshness of the active tab,
// never correctness.
package events

import (
	"sync"
	"time"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/dinehub/pos-billing-service/internal/paystate"
)

// CompletionEvent announces that a payment run finished for an order.
type CompletionEvent struct {
	// OrderID of the settled order.
	OrderID string `json:"order_id"`
	// Final payment snapshot after the run.
	Status          string  `json:"status"`
	PaymentMethod   string  `json:"payment_method"`
	PaymentReceived float64 `json:"payment_received"`
	BalanceAmount   float64 `json:"balance_amount"`
	IsCredit        bool    `json:"is_credit"`
	// RemoveFromActive tells subscribers to drop the order from
	// their active views immediately instead of waiting for the
	// next list refresh.
	RemoveFromActive bool `json:"remove_from_active"`
	// CompletedAt is the wall-clock completion time.
	CompletedAt time.Time `json:"completed_at"`
}

// NewCompletionEvent builds an event from the final order snapshot.
func NewCompletionEvent(o *order.Order) CompletionEvent {
	received, _ := o.PaymentReceived.Float64()
	balance, _ := o.BalanceAmount.Float64()
	return CompletionEvent{
		OrderID:          o.ID,
		Status:           string(o.Status),
		PaymentMethod:    string(o.PaymentMethod),
		PaymentReceived:  received,
		BalanceAmount:    balance,
		IsCredit:         o.IsCredit,
		RemoveFromActive: !paystate.IsServerActiveOrder(o, nil),
		CompletedAt:      time.Now(),
	}
}

// Broker fans completion events out to in-process subscribers.
// Publish never blocks: a subscriber that stopped draining its
// channel misses events instead of stalling the payment flow.
type Broker struct {
	subs map[int]chan CompletionEvent
	next int
	mu   sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan CompletionEvent)}
}

// Subscribe registers a buffered subscriber channel. The returned
// cancel func removes the subscription and closes the channel.
func (b *Broker) Subscribe() (<-chan CompletionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++

	ch := make(chan CompletionEvent, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broker) Publish(e CompletionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber, drop for it.
		}
	}
}
