package events

import (
	"testing"
	"time"

	"github.com/dinehub/pos-billing-service/internal/models/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()

	first, cancelFirst := b.Subscribe()
	second, cancelSecond := b.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	b.Publish(CompletionEvent{OrderID: "order-1"})

	for _, ch := range []<-chan CompletionEvent{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, "order-1", e.OrderID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()

	// Never drained. Fill its buffer past capacity.
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(CompletionEvent{OrderID: "order-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker()

	ch, cancel := b.Subscribe()
	cancel()
	// Second cancel is a no-op.
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(CompletionEvent{OrderID: "order-1"})
}

// Completion signals are only meaningful for a few seconds; the
// broker-side expiration must stay in that range.
func TestSignalTTL(t *testing.T) {
	assert.Equal(t, "5000", signalTTL)
}

func TestNewCompletionEvent(t *testing.T) {
	t.Run("settled order leaves active views", func(t *testing.T) {
		o := &order.Order{
			ID:              "order-7",
			Status:          order.StatusCompleted,
			PaymentMethod:   order.MethodCard,
			Total:           decimal.NewFromInt(250),
			PaymentReceived: decimal.NewFromInt(250),
			BalanceAmount:   decimal.Zero,
		}

		e := NewCompletionEvent(o)

		require.Equal(t, "order-7", e.OrderID)
		assert.Equal(t, "completed", e.Status)
		assert.Equal(t, "card", e.PaymentMethod)
		assert.InDelta(t, 250, e.PaymentReceived, 0.001)
		assert.True(t, e.RemoveFromActive)
	})

	t.Run("credit order stays on the active tab", func(t *testing.T) {
		o := &order.Order{
			ID:              "order-8",
			Status:          order.StatusPending,
			PaymentMethod:   order.MethodCredit,
			Total:           decimal.NewFromInt(250),
			PaymentReceived: decimal.Zero,
			BalanceAmount:   decimal.NewFromInt(250),
			IsCredit:        true,
		}

		e := NewCompletionEvent(o)

		assert.True(t, e.IsCredit)
		assert.False(t, e.RemoveFromActive)
	})
}
