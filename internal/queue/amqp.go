package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("broker did not confirm message")

// QueueName returns the durable queue that carries jobs of kind.
func QueueName(project string, kind models.JobKind) string {
	return fmt.Sprintf("%s.%s", project, kind)
}

// AMQPBroker publishes with publisher confirms and consumes with prefetch 1
// and manual acknowledgement.
type AMQPBroker struct {
	conn           *amqp.Connection
	project        string
	publishTimeout time.Duration

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

// DialAMQP connects to the broker at url.
func DialAMQP(url, project string, publishTimeout time.Duration) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	b := &AMQPBroker{
		conn:           conn,
		project:        project,
		publishTimeout: publishTimeout,
		declared:       make(map[string]bool),
	}
	if err := b.openPublisher(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// openPublisher opens a fresh confirm-mode channel. Caller holds b.mu or owns b.
func (b *AMQPBroker) openPublisher() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	b.pub = ch
	b.declared = make(map[string]bool)
	return nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Publish implements Broker. It blocks until the broker confirms the message,
// the publish timeout elapses, or ctx is cancelled.
func (b *AMQPBroker) Publish(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	body, err := Encode(m)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if b.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.publishTimeout)
		defer cancel()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn.IsClosed() {
		return ErrClosed
	}
	if b.pub == nil || b.pub.IsClosed() {
		if err := b.openPublisher(); err != nil {
			return err
		}
	}

	name := QueueName(b.project, m.Kind)
	if !b.declared[name] {
		if err := declare(b.pub, name); err != nil {
			return err
		}
		b.declared[name] = true
	}

	dc, err := b.pub.PublishWithDeferredConfirmWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.JobID,
		Timestamp:    m.EnqueuedAt,
		Type:         string(m.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", m.JobID, err)
	}

	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", m.JobID, err)
	}
	if !ok {
		return fmt.Errorf("publish %s: %w", m.JobID, ErrNacked)
	}
	return nil
}

// Subscribe implements Broker. Each subscription owns a channel with Qos(1).
// Undecodable messages are rejected without requeue.
func (b *AMQPBroker) Subscribe(ctx context.Context, kind models.JobKind) (*Subscription, error) {
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	name := QueueName(b.project, kind)
	if err := declare(ch, name); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	raw, err := ch.ConsumeWithContext(subCtx, name, "", false, false, false, false, nil)
	if err != nil {
		cancel()
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", name, err)
	}

	out := make(chan Delivery)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer close(out)
		logger := ctxlog.FromContext(ctx).With("queue", name)

		for {
			select {
			case <-subCtx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				m, err := Decode(d.Body)
				if err != nil {
					logger.Error("rejecting undecodable message", "delivery_tag", d.DeliveryTag, "error", err)
					if err := d.Reject(false); err != nil {
						logger.Error("reject message", "error", err)
					}
					continue
				}

				delivery := Delivery{
					Message: m,
					settle: func(ack, requeue bool) error {
						if ack {
							return d.Ack(false)
						}
						return d.Nack(false, requeue)
					},
				}
				select {
				case out <- delivery:
				case <-subCtx.Done():
					// Unacked deliveries return to the queue when the channel closes.
					return
				}
			}
		}
	}()

	return newSubscription(out, cancel, func() error {
		<-stopped
		return ch.Close()
	}), nil
}

// Ping implements Broker.
func (b *AMQPBroker) Ping(context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Close closes the connection and every channel opened on it.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

// Compile-time verification that AMQPBroker implements Broker.
var _ Broker = (*AMQPBroker)(nil)
