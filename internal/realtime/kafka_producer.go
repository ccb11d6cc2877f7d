package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tripseat/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const (
	headerOrigin = "origin"
	headerKind   = "kind"
)

// KafkaConfig configures the delta producer and relay
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	Origin    string
	RetryMax  int
	TimeoutMs int
	Buffer    int
}

// DefaultKafkaConfig returns a config for a local broker
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:   []string{"localhost:9092"},
		Topic:     "seat-deltas",
		GroupID:   "tripseat-relay",
		Origin:    uuid.NewString(),
		RetryMax:  3,
		TimeoutMs: 10000,
		Buffer:    1024,
	}
}

// NewProducerConfig builds the sarama config used for deltas. Keys are trip
// IDs, so the hash partitioner keeps one trip's deltas in order.
func NewProducerConfig(cfg *KafkaConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.RetryMax
	saramaConfig.Producer.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return saramaConfig
}

// KafkaPublisher forwards committed deltas to a Kafka topic so other engine
// instances and clients can follow them. Publish only enqueues; a single
// sender goroutine keeps per-trip order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	config   *KafkaConfig
	log      *logger.Logger

	queue     chan Delta
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewKafkaPublisher dials the brokers in cfg
func NewKafkaPublisher(cfg *KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, cfg *KafkaConfig) *KafkaPublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	p := &KafkaPublisher{
		producer: producer,
		config:   cfg,
		log:      logger.GetDefault(),
		queue:    make(chan Delta, cfg.Buffer),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish implements Publisher. When the buffer is full the delta is
// dropped; receivers catch up on the next version of the same seat.
func (p *KafkaPublisher) Publish(ctx context.Context, d Delta) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- d:
	default:
		p.log.ErrorWithContext(ctx, "Delta dropped", errors.New("kafka publish buffer full"), map[string]interface{}{
			"trip_id": d.TripID,
			"key":     d.Key(),
		})
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for d := range p.queue {
		if err := p.send(d); err != nil {
			p.log.ErrorWithContext(context.Background(), "Delta not published", err, map[string]interface{}{
				"trip_id": d.TripID,
				"key":     d.Key(),
			})
		}
	}
}

func (p *KafkaPublisher) send(d Delta) error {
	payload, err := d.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	message := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(d.TripID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerOrigin), Value: []byte(p.config.Origin)},
			{Key: []byte(headerKind), Value: []byte(d.Kind)},
		},
		Timestamp: d.EmittedAt,
	}
	if _, _, err := p.producer.SendMessage(message); err != nil {
		return fmt.Errorf("failed to send delta to Kafka: %w", err)
	}
	return nil
}

// Close flushes buffered deltas and closes the producer
func (p *KafkaPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		<-p.done
		if cerr := p.producer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close Kafka producer: %w", cerr)
		}
	})
	return err
}
