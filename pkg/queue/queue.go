// Package queue provides a provider-agnostic message queue abstraction with
// acknowledge/retry semantics. The pipeline coordinator only ever sees the
// Delivery and Producer interfaces; transports (broker-native batch delivery,
// a managed queue service, or the in-process broker below) adapt behind them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clarity/pkg/logx"
	"clarity/pkg/proto"
)

// ErrClosed is returned when sending to or receiving from a closed broker.
var ErrClosed = errors.New("queue is closed")

// ErrSettled is returned when an envelope is acked or retried twice.
var ErrSettled = errors.New("envelope already settled")

// Producer enqueues typed task messages.
type Producer interface {
	Send(ctx context.Context, msg *proto.TaskMessage) error
}

// Delivery is one queue delivery wrapping a typed message. Attempts is
// 1-based. Exactly one of Ack or Retry must be called per delivery.
type Delivery interface {
	Body() *proto.TaskMessage
	Attempts() int
	Ack() error
	Retry() error
}

// Consumer receives deliveries one at a time.
type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
}

// Broker is an in-process queue backed by a buffered channel, suitable for a
// single worker process and for tests. Retry re-enqueues the message with an
// incremented attempt counter, mimicking at-least-once redelivery.
type Broker struct {
	deliveries chan *brokerDelivery
	logger     *logx.Logger
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewBroker creates a broker with the given buffer size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		deliveries: make(chan *brokerDelivery, buffer),
		logger:     logx.NewLogger("queue"),
		closed:     make(chan struct{}),
	}
}

// Send validates and enqueues a message with attempts=1.
func (b *Broker) Send(ctx context.Context, msg *proto.TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue invalid message: %w", err)
	}
	return b.enqueue(ctx, msg, 1)
}

func (b *Broker) enqueue(ctx context.Context, msg *proto.TaskMessage, attempts int) error {
	// Closed wins over a ready buffer slot; a single select would pick
	// between them at random.
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	d := &brokerDelivery{broker: b, msg: msg, attempts: attempts}
	select {
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue cancelled: %w", ctx.Err())
	case b.deliveries <- d:
		b.logger.Debug("Enqueued %s message %s (attempt %d)", msg.Kind, msg.ID, attempts)
		return nil
	}
}

// Receive blocks until a delivery is available, the context is cancelled, or
// the broker is closed. Messages buffered before Close are still delivered.
func (b *Broker) Receive(ctx context.Context) (Delivery, error) {
	// Drain buffered deliveries first so Close does not drop them.
	select {
	case d := <-b.deliveries:
		return d, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive cancelled: %w", ctx.Err())
	case <-b.closed:
		return nil, ErrClosed
	case d := <-b.deliveries:
		return d, nil
	}
}

// Close stops intake. The deliveries channel is left open so a concurrent
// Send or Retry fails with ErrClosed instead of panicking.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// Depth returns the number of buffered, undelivered messages.
func (b *Broker) Depth() int {
	return len(b.deliveries)
}

type brokerDelivery struct {
	broker   *Broker
	msg      *proto.TaskMessage
	attempts int
	mu       sync.Mutex
	settled  bool
}

func (d *brokerDelivery) Body() *proto.TaskMessage { return d.msg }
func (d *brokerDelivery) Attempts() int            { return d.attempts }

func (d *brokerDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrSettled
	}
	d.settled = true
	d.broker.logger.Debug("Acked %s message %s (attempt %d)", d.msg.Kind, d.msg.ID, d.attempts)
	return nil
}

func (d *brokerDelivery) Retry() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrSettled
	}
	d.settled = true
	select {
	case <-d.broker.closed:
		return ErrClosed
	default:
	}
	// Redelivery must not block the worker; the buffer is sized for that.
	select {
	case d.broker.deliveries <- &brokerDelivery{broker: d.broker, msg: d.msg, attempts: d.attempts + 1}:
		d.broker.logger.Debug("Retrying %s message %s (next attempt %d)", d.msg.Kind, d.msg.ID, d.attempts+1)
		return nil
	default:
		return fmt.Errorf("retry failed: queue buffer full")
	}
}
