package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/config"
	"github.com/illmade-knight/go-eventsink/pkg/dispatch"
)

// ====================================================================================
// This file contains the worker orchestration: construct every configured handler,
// fail fast on misconfiguration, initialize the sinks, subscribe, and tear it all
// down again in order. Shutdown is an explicit, testable function; signal wiring
// lives only in cmd/.
// ====================================================================================

// MessageSubscriber is the subscription-loop boundary the worker drives. The
// Kafka-backed broker.Subscriber is the production implementation; tests
// substitute a fake.
type MessageSubscriber interface {
	RegisterHandler(topic string, fn broker.HandlerFunc) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Worker owns the consumer side of the pipeline: one dispatcher per enabled
// handler, each with its own exclusively-owned sink connection, fed by a
// single subscription loop.
type Worker struct {
	logger      zerolog.Logger
	server      *Server
	subscriber  MessageSubscriber
	dispatchers []*dispatch.Dispatcher
	topics      map[string]*dispatch.Dispatcher
}

// NewWorker constructs the worker from configuration. Every enabled handler
// is built through the registry here, so an unknown handler type or invalid
// adapter config aborts startup before any subscription is attempted.
func NewWorker(cfg *config.Config, subscriber MessageSubscriber, logger zerolog.Logger) (*Worker, error) {
	if subscriber == nil {
		return nil, errors.New("subscriber cannot be nil")
	}

	w := &Worker{
		logger:     logger.With().Str("service", "Worker").Logger(),
		server:     NewServer(cfg.Worker.HTTPPort, logger),
		subscriber: subscriber,
		topics:     make(map[string]*dispatch.Dispatcher),
	}

	for name, handlerCfg := range cfg.EnabledHandlers() {
		adapter, err := dispatch.NewAdapter(handlerCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", name, err)
		}
		d := dispatch.NewDispatcher(name, adapter, logger)
		w.dispatchers = append(w.dispatchers, d)
		if _, taken := w.topics[handlerCfg.Topic]; taken {
			return nil, fmt.Errorf("handler %q: topic %q is already bound", name, handlerCfg.Topic)
		}
		w.topics[handlerCfg.Topic] = d
	}
	if len(w.dispatchers) == 0 {
		return nil, errors.New("no enabled handlers configured")
	}

	w.server.Mux().HandleFunc("/statusz", w.handleStatus)
	w.server.Mux().Handle("/metrics", promhttp.Handler())
	return w, nil
}

// Start initializes every handler, registers them with the subscription loop
// and begins consumption. A sink that cannot reach its backing store makes
// Start fail: that condition is fatal, not retried.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Int("handler_count", len(w.dispatchers)).Msg("Starting worker...")

	for _, d := range w.dispatchers {
		if err := d.Init(ctx); err != nil {
			return err
		}
	}
	for topic, d := range w.topics {
		if err := w.subscriber.RegisterHandler(topic, d.Handle); err != nil {
			return fmt.Errorf("failed to register handler for topic %q: %w", topic, err)
		}
	}

	if err := w.server.Start(); err != nil {
		return err
	}
	if err := w.subscriber.Start(ctx); err != nil {
		return fmt.Errorf("failed to start subscriber: %w", err)
	}

	w.logger.Info().Msg("Worker started successfully.")
	return nil
}

// Shutdown stops consumption, lets in-flight dispatches drain under the
// context deadline, then closes every handler exactly once. A failing cleanup
// is logged and does not block the cleanup of other handlers.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down worker...")

	var errs []error
	if err := w.subscriber.Stop(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Error stopping subscriber, continuing shutdown.")
		errs = append(errs, err)
	}

	for _, d := range w.dispatchers {
		if err := d.Close(ctx); err != nil {
			w.logger.Error().Err(err).Str("handler", d.Name()).Msg("Handler cleanup failed, continuing with remaining handlers.")
			errs = append(errs, err)
		}
	}

	if err := w.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	w.logger.Info().Msg("Worker shut down.")
	return errors.Join(errs...)
}

// Statuses reports the health of every handler, sorted by name.
func (w *Worker) Statuses(ctx context.Context) []dispatch.HandlerStatus {
	statuses := make([]dispatch.HandlerStatus, 0, len(w.dispatchers))
	for _, d := range w.dispatchers {
		statuses = append(statuses, d.Status(ctx))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Addr returns the worker HTTP server's listen address.
func (w *Worker) Addr() string { return w.server.Addr() }

func (w *Worker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(w.Statuses(r.Context())); err != nil {
		w.logger.Error().Err(err).Msg("Failed to encode handler statuses.")
	}
}
