package sinks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the cache sink.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisSink projects the latest payload per routing key into Redis with a
// bounded TTL. Last write wins and overwrites never error, which makes the
// sink naturally tolerant of redelivery. It serves "current state" lookups,
// not durable history.
type RedisSink struct {
	cfg    RedisConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisSink validates the configuration and returns an unconnected sink.
func NewRedisSink(cfg RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis sink: address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "eventsink:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &RedisSink{
		cfg:    cfg,
		logger: logger.With().Str("component", "RedisSink").Str("redis_address", cfg.Addr).Logger(),
	}, nil
}

// Init connects the client and pings the server to ensure connectivity before
// any dispatch is attempted.
func (s *RedisSink) Init(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return &ConnectionError{Sink: "redis", Target: s.cfg.Addr, Err: err}
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Info().Msg("Successfully connected to Redis.")
	return nil
}

// Dispatch stores the raw payload under the message's routing key. Messages
// without a key fall back to their broker coordinates, which still gives a
// stable, overwrite-safe slot per record.
func (s *RedisSink) Dispatch(ctx context.Context, msg broker.Message) (Outcome, error) {
	if len(msg.Value) == 0 {
		return OutcomeError, &ParseError{Sink: "redis", Reason: "empty value"}
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return OutcomeError, &WriteError{Sink: "redis", Err: errors.New("sink is not connected")}
	}

	key := s.cfg.KeyPrefix + msg.Key
	if msg.Key == "" {
		key = s.cfg.KeyPrefix + msg.Coordinates()
	}
	if err := client.Set(ctx, key, msg.Value, s.cfg.TTL).Err(); err != nil {
		return OutcomeError, &WriteError{Sink: "redis", Err: err}
	}
	return OutcomeStored, nil
}

// Status pings the server, bounded by a short timeout.
func (s *RedisSink) Status(ctx context.Context) StatusDetails {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": "not connected"}}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": err.Error()}}
	}
	return StatusDetails{
		Reachable: true,
		Info: map[string]interface{}{
			"keyPrefix": s.cfg.KeyPrefix,
			"ttl":       s.cfg.TTL.String(),
		},
	}
}

// Close releases the client connection. Safe after a partial Init.
func (s *RedisSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.logger.Info().Msg("Redis sink closed.")
	return err
}
