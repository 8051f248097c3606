// Package queue carries jobs from the dispatcher to workers with at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ErrClosed is returned when publishing to or subscribing on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is the wire body of a job.
type Message struct {
	JobID      string         `json:"task_id"`
	Kind       models.JobKind `json:"kind"`
	SourceURL  string         `json:"repo_url"`
	Revision   string         `json:"commit"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// NewMessage builds the message for a job.
func NewMessage(job models.Job) Message {
	return Message{
		JobID:      job.ID,
		Kind:       job.Kind,
		SourceURL:  job.Ref.SourceURL,
		Revision:   job.Ref.Revision,
		EnqueuedAt: job.EnqueuedAt,
	}
}

// Ref returns the artifact the message refers to.
func (m Message) Ref() models.ArtifactKey {
	return models.ArtifactKey{SourceURL: m.SourceURL, Revision: m.Revision}
}

// Job converts the message back into a queued job.
func (m Message) Job() models.Job {
	return models.Job{
		ID:         m.JobID,
		Kind:       m.Kind,
		Ref:        m.Ref(),
		Status:     models.JobStatusQueued,
		EnqueuedAt: m.EnqueuedAt,
	}
}

// Validate checks the fields every consumer relies on.
func (m Message) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("message has no task_id")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("message has unknown kind %q", m.Kind)
	}
	return m.Ref().Validate()
}

// Encode renders the message body.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a message body.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

// Broker publishes jobs and hands them to subscribers.
type Broker interface {
	// Publish returns only after the broker has taken responsibility for m.
	Publish(ctx context.Context, m Message) error
	// Subscribe consumes jobs of one kind, one unacknowledged delivery at a time.
	Subscribe(ctx context.Context, kind models.JobKind) (*Subscription, error)
	// Ping reports whether the broker connection is usable.
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is one received message. Exactly one of Ack or Nack must be called.
type Delivery struct {
	Message Message
	settle  func(ack, requeue bool) error
}

// Ack marks the message as handled.
func (d Delivery) Ack() error {
	return d.settle(true, false)
}

// Nack returns the message to the broker for redelivery, or drops it.
func (d Delivery) Nack(requeue bool) error {
	return d.settle(false, requeue)
}

// Subscription is a stream of deliveries for one job kind.
type Subscription struct {
	deliveries <-chan Delivery
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	onClose    func() error
	closeErr   error
}

func newSubscription(deliveries <-chan Delivery, cancel context.CancelFunc, onClose func() error) *Subscription {
	return &Subscription{
		deliveries: deliveries,
		cancel:     cancel,
		done:       make(chan struct{}),
		onClose:    onClose,
	}
}

// Deliveries returns the channel of incoming jobs. It is closed when the
// subscription ends.
func (s *Subscription) Deliveries() <-chan Delivery {
	return s.deliveries
}

// Close stops the subscription. Unsettled deliveries are returned to the queue.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
		close(s.done)
	})
	return s.closeErr
}
