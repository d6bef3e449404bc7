package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/rs/zerolog"
)

// ElasticConfig holds the configuration for the search-index sink.
type ElasticConfig struct {
	Addresses []string
	Index     string
	Username  string
	Password  string

	// Transport overrides the HTTP transport; used by tests to substitute a
	// recording round-tripper.
	Transport http.RoundTripper
}

// ElasticSink indexes each message as a document keyed by its broker
// coordinates. Redelivery overwrites the same document id rather than
// duplicating it, so the sink is idempotent via overwrite semantics.
type ElasticSink struct {
	cfg    ElasticConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *elasticsearch.Client
}

// NewElasticSink validates the configuration and returns an unconnected sink.
func NewElasticSink(cfg ElasticConfig, logger zerolog.Logger) (*ElasticSink, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch sink: at least one address is required")
	}
	if cfg.Index == "" {
		return nil, errors.New("elasticsearch sink: index name is required")
	}
	return &ElasticSink{
		cfg:    cfg,
		logger: logger.With().Str("component", "ElasticSink").Str("index", cfg.Index).Logger(),
	}, nil
}

// Init builds the client and verifies the cluster answers.
func (s *ElasticSink) Init(ctx context.Context) error {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: s.cfg.Addresses,
		Username:  s.cfg.Username,
		Password:  s.cfg.Password,
		Transport: s.cfg.Transport,
	})
	if err != nil {
		return &ConnectionError{Sink: "elasticsearch", Target: strings.Join(s.cfg.Addresses, ","), Err: err}
	}

	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return &ConnectionError{Sink: "elasticsearch", Target: strings.Join(s.cfg.Addresses, ","), Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return &ConnectionError{
			Sink:   "elasticsearch",
			Target: strings.Join(s.cfg.Addresses, ","),
			Err:    fmt.Errorf("cluster info returned %s", res.Status()),
		}
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Info().Strs("addresses", s.cfg.Addresses).Msg("Elasticsearch sink connected.")
	return nil
}

// document is the flattened shape indexed per message.
type document struct {
	Topic     string                 `json:"topic"`
	Partition int32                  `json:"partition"`
	Offset    int64                  `json:"offset"`
	Key       string                 `json:"key,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Headers   map[string]string      `json:"headers,omitempty"`
	Event     map[string]interface{} `json:"event"`
}

// Dispatch indexes one message. The payload must be a JSON object; anything
// else is a classified parse failure, never a panic.
func (s *ElasticSink) Dispatch(ctx context.Context, msg broker.Message) (Outcome, error) {
	if len(msg.Value) == 0 {
		return OutcomeError, &ParseError{Sink: "elasticsearch", Reason: "empty value"}
	}

	var event map[string]interface{}
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return OutcomeError, &ParseError{Sink: "elasticsearch", Reason: "value is not a JSON object", Err: err}
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return OutcomeError, &WriteError{Sink: "elasticsearch", Err: errors.New("sink is not connected")}
	}

	body, err := json.Marshal(document{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Timestamp: msg.Timestamp,
		Headers:   msg.Headers,
		Event:     event,
	})
	if err != nil {
		return OutcomeError, &ParseError{Sink: "elasticsearch", Reason: "unencodable document", Err: err}
	}

	req := esapi.IndexRequest{
		Index:      s.cfg.Index,
		DocumentID: DocumentID(msg),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return OutcomeError, &WriteError{Sink: "elasticsearch", Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return OutcomeError, &WriteError{Sink: "elasticsearch", Err: fmt.Errorf("index request returned %s", res.Status())}
	}

	return OutcomeStored, nil
}

// Status pings the cluster, bounded by a short timeout.
func (s *ElasticSink) Status(ctx context.Context) StatusDetails {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": "not connected"}}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": err.Error()}}
	}
	defer func() { _ = res.Body.Close() }()
	return StatusDetails{
		Reachable: !res.IsError(),
		Info: map[string]interface{}{
			"index":     s.cfg.Index,
			"addresses": s.cfg.Addresses,
		},
	}
}

// Close drops the client reference; the underlying HTTP transport needs no
// explicit teardown. Safe after a partial Init.
func (s *ElasticSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.logger.Info().Msg("Elasticsearch sink closed.")
	return nil
}

// DocumentID derives the idempotency key for a message: its broker
// coordinates when an offset is present, a random id otherwise.
func DocumentID(msg broker.Message) string {
	if msg.Offset < 0 {
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
}
