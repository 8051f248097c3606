package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// fifo is a thread-safe unbounded FIFO of messages for one kind.
//
// The signal channel (buffered, size 1) lets subscribers wait with a context.
type fifo struct {
	mu     sync.Mutex
	msgs   []Message
	signal chan struct{}
}

func newFIFO() *fifo {
	return &fifo{
		msgs:   make([]Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *fifo) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *fifo) push(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, m)
	q.notify()
}

// pushFront returns a message to the head of the queue for redelivery.
func (q *fifo) pushFront(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append([]Message{m}, q.msgs...)
	q.notify()
}

func (q *fifo) tryPop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return Message{}, false
	}
	m := q.msgs[0]
	q.msgs[0] = Message{}
	q.msgs = q.msgs[1:]
	if len(q.msgs) == 0 {
		q.msgs = make([]Message, 0, 16)
	} else {
		// Wake another waiting subscriber for the remainder.
		q.notify()
	}
	return m, true
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// MemoryBroker is an in-process Broker for single-binary deployments and tests.
// Publish is confirmed as soon as the message is queued.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[models.JobKind]*fifo
	subs   map[*Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[models.JobKind]*fifo),
		subs:   make(map[*Subscription]struct{}),
	}
}

func (b *MemoryBroker) queue(kind models.JobKind) *fifo {
	q, ok := b.queues[kind]
	if !ok {
		q = newFIFO()
		b.queues[kind] = q
	}
	return q
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queue(m.Kind).push(m)
	return nil
}

// Subscribe implements Broker. The subscription holds at most one
// unsettled delivery. Cancelling ctx stops new deliveries but waits for the
// outstanding one to be settled; Close returns it to the queue.
func (b *MemoryBroker) Subscribe(ctx context.Context, kind models.JobKind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	q := b.queue(kind)
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Delivery)
	abandon := make(chan struct{})
	stopped := make(chan struct{})

	var sub *Subscription
	sub = newSubscription(out, cancel, func() error {
		close(abandon)
		<-stopped
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		return nil
	})
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(stopped)
		defer close(out)
		consume(subCtx, q, out, abandon)
	}()

	return sub, nil
}

func consume(ctx context.Context, q *fifo, out chan<- Delivery, abandon <-chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, ok := q.tryPop()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-ctx.Done():
				return
			}
		}

		settled := make(chan bool, 1)
		var once sync.Once
		d := Delivery{
			Message: m,
			settle: func(ack, requeue bool) error {
				done := false
				once.Do(func() {
					done = true
					settled <- !ack && requeue
				})
				if !done {
					return fmt.Errorf("delivery %s already settled", m.JobID)
				}
				return nil
			},
		}

		select {
		case out <- d:
		case <-ctx.Done():
			q.pushFront(m)
			return
		}

		select {
		case requeue := <-settled:
			if requeue {
				q.pushFront(m)
			}
		case <-abandon:
			select {
			case requeue := <-settled:
				if requeue {
					q.pushFront(m)
				}
			default:
				q.pushFront(m)
			}
			return
		}
	}
}

// Pending returns the number of queued, undelivered messages of kind.
func (b *MemoryBroker) Pending(kind models.JobKind) int {
	b.mu.Lock()
	q, ok := b.queues[kind]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Ping implements Broker.
func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and rejects further publishes.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	b.wg.Wait()
	return nil
}

// Compile-time verification that MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)
