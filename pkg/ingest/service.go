package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the thin HTTP ingestion API. It validates incoming log and
// metric events just enough to route them, then forwards them to the broker.
// All durability and ordering concerns are the broker's.
// ====================================================================================

// ServiceConfig holds the configuration for the ingestion service.
type ServiceConfig struct {
	LogTopic    string
	MetricTopic string
}

// Service accepts events over HTTP and publishes them. The event source is
// used as the partition key so per-source ordering survives the broker hop.
type Service struct {
	cfg       ServiceConfig
	publisher broker.MessagePublisher
	logger    zerolog.Logger
}

// NewService creates the ingestion service.
func NewService(cfg ServiceConfig, publisher broker.MessagePublisher, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With().Str("component", "IngestService").Logger(),
	}
}

// Register attaches the ingestion routes to the mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", s.handleLogs)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event LogEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if event.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	stampLog(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	if err := s.publisher.Publish(r.Context(), s.cfg.LogTopic, event.Source, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", s.cfg.LogTopic).Msg("Failed to forward log event.")
		http.Error(w, "failed to forward event", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": event.ID})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event MetricEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if event.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	stampMetric(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	if err := s.publisher.Publish(r.Context(), s.cfg.MetricTopic, event.Source, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", s.cfg.MetricTopic).Msg("Failed to forward metric event.")
		http.Error(w, "failed to forward event", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": event.ID})
}

func stampLog(event *LogEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

func stampMetric(event *MetricEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
