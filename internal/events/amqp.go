package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dsr1111/auction-akatsuki/pkg/errors"
)

// AMQPBus fans auction events out through a RabbitMQ fanout exchange,
// for deployments with more than one server node. Every subscriber
// binds its own exclusive queue, so delivery is at-least-once per node
// with no ordering guarantee across items.
type AMQPBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu     sync.Mutex
	closed bool
}

func NewAMQPBus(url, exchange string) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error opening connection to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error opening channel")
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.WrapCode(errors.ErrStorageUnavailable, err, "error declaring exchange")
	}

	return &AMQPBus{conn: conn, ch: ch, exchange: exchange}, nil
}

func (b *AMQPBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "error marshalling event")
	}

	err = b.ch.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return errors.Wrap(err, "error publishing event")
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "error opening subscriber channel")
	}

	// Exclusive auto-delete queue: each subscriber sees every event.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, errors.Wrap(err, "error declaring subscriber queue")
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, nil, errors.Wrap(err, "error binding subscriber queue")
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, errors.Wrap(err, "error consuming subscriber queue")
	}

	out := make(chan Event, 64)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ch.Close()
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					log.Warn("Dropping malformed event payload", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.ch.Close()
	return b.conn.Close()
}
