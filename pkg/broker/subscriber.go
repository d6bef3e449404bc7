package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the Kafka consumer-group subscription loop. It is the sole
// driver of the dispatch layer: it delivers records for a given partition strictly
// in offset order, one at a time, to the handler registered for the topic.
// ====================================================================================

// HandlerFunc consumes exactly one message. It never returns an error: failure
// isolation is the dispatcher's job, and a handler that panicked or errored
// must not stall consumption of subsequent records.
type HandlerFunc func(ctx context.Context, msg Message)

// SubscriberConfig holds the configuration for a Subscriber.
type SubscriberConfig struct {
	Brokers      []string      `koanf:"brokers"`
	GroupID      string        `koanf:"group_id"`
	StartFrom    string        `koanf:"start_from"` // oldest|newest (default newest)
	Version      string        `koanf:"version"`
	StopGrace    time.Duration `koanf:"stop_grace"`
	ClientID     string        `koanf:"client_id"`
	TLSEnabled   bool          `koanf:"tls_enabled"`
	SASLUser     string        `koanf:"sasl_user"`
	SASLPassword string        `koanf:"sasl_pass"`
}

// LoadDefaultSubscriberConfig returns a config pointed at the given group with
// sensible defaults applied.
func LoadDefaultSubscriberConfig(brokers []string, groupID string) *SubscriberConfig {
	return &SubscriberConfig{
		Brokers:   brokers,
		GroupID:   groupID,
		StartFrom: "oldest",
		StopGrace: 30 * time.Second,
	}
}

// Subscriber owns a sarama consumer group and fans records out to the handlers
// registered per topic. Offsets are marked only after the handler returns, so
// delivery is at-least-once: a crash mid-dispatch redelivers the record.
type Subscriber struct {
	cfg      *SubscriberConfig
	group    sarama.ConsumerGroup
	handlers map[string]HandlerFunc
	logger   zerolog.Logger
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	doneChan chan struct{}
	mu       sync.Mutex
}

// NewSubscriber creates a Subscriber connected to the configured brokers. The
// connection is established here so that misconfiguration fails before any
// handler is registered or any offset committed.
func NewSubscriber(cfg *SubscriberConfig, logger zerolog.Logger) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group id is required")
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}

	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.Version, err)
		}
		sc.Version = ver
	}
	if cfg.TLSEnabled {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPassword
	}
	if cfg.StartFrom == "oldest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Subscriber{
		cfg:      cfg,
		group:    group,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With().Str("component", "Subscriber").Str("group_id", cfg.GroupID).Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// RegisterHandler binds a handler to a topic. All registrations must happen
// before Start; there is no hot-swapping mid-stream.
func (s *Subscriber) RegisterHandler(topic string, fn HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("cannot register a handler after the subscriber has started")
	}
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if fn == nil {
		return errors.New("handler function cannot be nil")
	}
	if _, exists := s.handlers[topic]; exists {
		return fmt.Errorf("a handler is already registered for topic %q", topic)
	}
	s.handlers[topic] = fn
	return nil
}

// Start begins the consume loop in a background goroutine. It returns an error
// immediately if no handlers were registered.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("subscriber already started")
	}
	if len(s.handlers) == 0 {
		return errors.New("no handlers registered, refusing to join the group")
	}
	s.started = true

	topics := make([]string, 0, len(s.handlers))
	for t := range s.handlers {
		topics = append(topics, t)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info().Strs("topics", topics).Msg("Starting consumer group session.")
	go func() {
		defer close(s.doneChan)
		for {
			// Consume returns on every rebalance; loop until cancelled.
			if err := s.group.Consume(consumeCtx, topics, &groupHandler{sub: s, ctx: consumeCtx}); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error().Err(err).Msg("Consumer group session exited with error.")
			}
			if consumeCtx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range s.group.Errors() {
			s.logger.Error().Err(err).Msg("Consumer group reported error.")
		}
	}()

	return nil
}

// Stop ceases consumption and waits, bounded by the grace timeout, for the
// in-flight dispatch to complete.
func (s *Subscriber) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping subscriber...")
		if s.cancel != nil {
			s.cancel()
		}
		select {
		case <-s.doneChan:
			s.logger.Info().Msg("Consume loop confirmed stopped.")
		case <-time.After(s.cfg.StopGrace):
			s.logger.Error().Msg("Timeout waiting for consume loop to stop.")
			stopErr = context.DeadlineExceeded
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if err := s.group.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing consumer group, continuing shutdown.")
		}
	})
	return stopErr
}

// Done returns a channel closed when the consume loop has fully exited.
func (s *Subscriber) Done() <-chan struct{} { return s.doneChan }

// groupHandler adapts sarama's ConsumerGroupHandler callbacks to the
// registered HandlerFuncs. One instance serves all claims of a session;
// sarama runs each partition claim in its own goroutine, which gives every
// partition an ordered, serialized dispatch stream.
type groupHandler struct {
	sub *Subscriber
	ctx context.Context
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.sub.logger.Info().Interface("claims", sess.Claims()).Msg("Consumer group session established.")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	fn, ok := h.sub.handlers[claim.Topic()]
	if !ok {
		// Should be unreachable: we only subscribe to registered topics.
		return fmt.Errorf("no handler registered for claimed topic %q", claim.Topic())
	}

	for {
		select {
		case <-sess.Context().Done():
			return nil
		case rec, open := <-claim.Messages():
			if !open {
				return nil
			}
			fn(h.ctx, fromConsumerMessage(rec))
			// Mark only after the handler returns: at-least-once.
			sess.MarkMessage(rec, "")
		}
	}
}

// fromConsumerMessage converts a sarama record into the pipeline Message.
func fromConsumerMessage(rec *sarama.ConsumerMessage) Message {
	value := make([]byte, len(rec.Value))
	copy(value, rec.Value)

	var headers map[string]string
	if len(rec.Headers) > 0 {
		headers = make(map[string]string, len(rec.Headers))
		for _, hdr := range rec.Headers {
			headers[string(hdr.Key)] = string(hdr.Value)
		}
	}

	return Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       string(rec.Key),
		Value:     value,
		Timestamp: rec.Timestamp,
		Headers:   headers,
	}
}
