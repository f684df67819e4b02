package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dinehub/pos-billing-service/internal/config"
	"github.com/dinehub/pos-billing-service/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Fanout exchange every POS terminal binds its own queue to.
	completionsExchange = "billing.completions"

	// Completion signals are only useful while staff can still see
	// the order on screen. Messages expire after 5 seconds so a
	// terminal that reconnects later does not replay stale signals.
	signalTTL = "5000"
)

// Rabbit publishes completion events to other terminals over a
// RabbitMQ fanout exchange.
type Rabbit struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger logger.Logger
}

// DialRabbit connects to the broker and declares the completions
// exchange.
func DialRabbit(cfg *config.Config, logger logger.Logger) (*Rabbit, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err = ch.ExchangeDeclare(
		completionsExchange,
		"fanout",
		false, // durable: signals are ephemeral
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Rabbit{conn: conn, ch: ch, logger: logger}, nil
}

func (r *Rabbit) Close() {
	if r == nil {
		return
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// Publish sends the event to the completions exchange. Fire and
// forget: a broker failure is logged, never surfaced to the payment
// flow.
func (r *Rabbit) Publish(ctx context.Context, e CompletionEvent) {
	body, err := json.Marshal(e)
	if err != nil {
		r.logger.Errorf("marshal completion event: %s", err)
		return
	}

	err = r.ch.PublishWithContext(ctx,
		completionsExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Expiration:  signalTTL,
			Body:        body,
		})
	if err != nil {
		r.logger.Errorf("publish completion event for order %s: %s", e.OrderID, err)
	}
}

// Consume binds an exclusive queue to the completions exchange and
// forwards incoming events to the in-process broker. Intended to run
// in its own goroutine; returns when the context is cancelled or the
// delivery channel closes.
func (r *Rabbit) Consume(ctx context.Context, broker *Broker) error {
	q, err := r.ch.QueueDeclare(
		"",    // broker-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err = r.ch.QueueBind(q.Name, "", completionsExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := r.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var e CompletionEvent
			if err := json.Unmarshal(d.Body, &e); err != nil {
				r.logger.Errorf("decode completion event: %s", err)
				continue
			}
			broker.Publish(e)
		}
	}
}
