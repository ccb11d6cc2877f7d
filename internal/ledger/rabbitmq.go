package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue confirmations are published to
const DefaultQueue = "booking.confirmed"

// channel is the part of *amqp.Channel the ledger uses
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel open: %w", err)
	}
	return ch, conn.Close, nil
}

// RabbitLedger publishes confirmations as persistent messages on a durable
// queue. The connection is opened on first use and re-opened after a
// failed publish.
type RabbitLedger struct {
	url   string
	queue string
	dial  dialFunc

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

func NewRabbitLedger(url, queue string) *RabbitLedger {
	return newRabbitLedger(url, queue, dialAMQP)
}

func newRabbitLedger(url, queue string, dial dialFunc) *RabbitLedger {
	if queue == "" {
		queue = DefaultQueue
	}
	return &RabbitLedger{url: url, queue: queue, dial: dial}
}

func (r *RabbitLedger) BookingConfirmed(ctx context.Context, bookingID uuid.UUID, amountDue float64) error {
	ev := newEvent(bookingID, amountDue)
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connect(); err != nil {
		return err
	}
	err = r.ch.PublishWithContext(ctx,
		"",      // default exchange
		r.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.BookingID,
			Timestamp:    ev.ConfirmedAt,
			Body:         body,
		},
	)
	if err != nil {
		r.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// connect opens the channel and declares the queue; callers hold r.mu
func (r *RabbitLedger) connect() error {
	if r.ch != nil {
		return nil
	}
	ch, closeConn, err := r.dial(r.url)
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	r.ch, r.closeConn = ch, closeConn
	return nil
}

func (r *RabbitLedger) reset() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.closeConn != nil {
		_ = r.closeConn()
	}
	r.ch, r.closeConn = nil, nil
}

// Close releases the broker connection
func (r *RabbitLedger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}
