package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripseat/pkg/logger"

	"github.com/IBM/sarama"
)

// KafkaRelay consumes deltas published by other engine instances and
// re-publishes them locally. Deltas carrying this instance's origin are
// skipped since the local hub already saw them.
type KafkaRelay struct {
	group  sarama.ConsumerGroup
	config *KafkaConfig
	target Publisher
	filter *VersionFilter
	log    *logger.Logger
}

// NewKafkaRelay joins the consumer group in cfg
func NewKafkaRelay(cfg *KafkaConfig, target Publisher) (*KafkaRelay, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Session.Timeout = 30 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID+"-"+cfg.Origin, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return newKafkaRelay(group, cfg, target), nil
}

func newKafkaRelay(group sarama.ConsumerGroup, cfg *KafkaConfig, target Publisher) *KafkaRelay {
	return &KafkaRelay{
		group:  group,
		config: cfg,
		target: target,
		filter: NewVersionFilter(),
		log:    logger.GetDefault(),
	}
}

// Run consumes until ctx ends
func (r *KafkaRelay) Run(ctx context.Context) {
	go r.handleErrors()

	handler := &relayHandler{relay: r}
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := r.group.Consume(ctx, []string{r.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				r.log.ErrorWithContext(ctx, "Delta relay consume failed", err, nil)
				time.Sleep(time.Second)
			}
		}
	}
}

func (r *KafkaRelay) handleErrors() {
	for err := range r.group.Errors() {
		r.log.ErrorWithContext(context.Background(), "Delta relay consumer group error", err, nil)
	}
}

// Close leaves the consumer group
func (r *KafkaRelay) Close() error {
	if err := r.group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	return nil
}

// handle applies one consumed message. It returns an error only for
// messages that can never be applied.
func (r *KafkaRelay) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == headerOrigin && string(h.Value) == r.config.Origin {
			return nil
		}
	}
	d, err := FromJSON(message.Value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal delta: %w", err)
	}
	if r.filter.Accept(d) {
		r.target.Publish(ctx, d)
	}
	return nil
}

type relayHandler struct {
	relay *KafkaRelay
}

func (h *relayHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup forgets versions so a rebalance starts from fresh state
func (h *relayHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.relay.filter.Reset()
	return nil
}

func (h *relayHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.relay.handle(session.Context(), message); err != nil {
				h.relay.log.ErrorWithContext(session.Context(), "Delta skipped", err, map[string]interface{}{
					"partition": message.Partition,
					"offset":    message.Offset,
				})
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
