package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/sinks"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the Dispatcher, which wraps a sink adapter with statistics
// tracking and failure isolation. Process never surfaces an error to the
// subscription loop: one poisonous message must never stall consumption of the
// valid messages behind it.
// ====================================================================================

// State is the lifecycle position of a Dispatcher.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultHealthRatio is the processed-per-error ratio below which a handler
// is reported unhealthy. Ten-to-one corresponds to a ~10% error rate.
const DefaultHealthRatio = 10

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHealthRatio overrides the processed-per-error health threshold. The
// semantic stays a ratio regardless of the value chosen.
func WithHealthRatio(ratio uint64) DispatcherOption {
	return func(d *Dispatcher) {
		if ratio > 0 {
			d.healthRatio = ratio
		}
	}
}

// Dispatcher owns exactly one sink adapter and the statistics for it. The
// subscription loop drives it through Process; health collectors read it
// through Status. Counters are atomics: two partitions may dispatch
// concurrently into the same handler when the adapter's store tolerates it.
type Dispatcher struct {
	name        string
	adapter     sinks.Adapter
	logger      zerolog.Logger
	healthRatio uint64

	state          atomic.Int32
	inFlight       atomic.Int64
	totalProcessed atomic.Uint64
	errorCount     atomic.Uint64
	lastProcessed  atomic.Int64 // unix nanos, 0 = never
}

// NewDispatcher wraps the adapter. The adapter is constructed but not yet
// initialized; call Init exactly once before handing Handle to a subscriber.
func NewDispatcher(name string, adapter sinks.Adapter, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		name:        name,
		adapter:     adapter,
		logger:      logger.With().Str("component", "Dispatcher").Str("handler", name).Logger(),
		healthRatio: DefaultHealthRatio,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the logical handler name.
func (d *Dispatcher) Name() string { return d.name }

// CurrentState reports the lifecycle position, with in-flight dispatches
// surfacing as Dispatching.
func (d *Dispatcher) CurrentState() State {
	s := State(d.state.Load())
	if s == StateReady && d.inFlight.Load() > 0 {
		return StateDispatching
	}
	return s
}

// Init initializes the underlying adapter exactly once. A failure here is
// fatal to startup: the dispatcher stays unusable and the error propagates.
func (d *Dispatcher) Init(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return fmt.Errorf("handler %q: init called in state %s", d.name, State(d.state.Load()))
	}
	if err := d.adapter.Init(ctx); err != nil {
		d.state.Store(int32(StateStopped))
		return fmt.Errorf("handler %q: %w", d.name, err)
	}
	d.state.Store(int32(StateReady))
	d.logger.Info().Msg("Handler initialized and ready.")
	return nil
}

// Process dispatches one message to the adapter and updates the statistics.
// It never returns an error and never panics: classified failures (and even
// adapter panics) are counted, logged with the message coordinates, and
// swallowed so the subscription loop keeps consuming.
func (d *Dispatcher) Process(ctx context.Context, msg broker.Message) {
	if State(d.state.Load()) != StateReady {
		d.logger.Warn().
			Str("state", State(d.state.Load()).String()).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Dropping message delivered outside the ready state.")
		return
	}

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	outcome, err := d.safeDispatch(ctx, msg)
	if err != nil {
		d.errorCount.Add(1)
		messagesProcessed.WithLabelValues(d.name, string(sinks.OutcomeError)).Inc()
		d.logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Str("outcome", string(sinks.OutcomeError)).
			Msg("Dispatch failed; continuing.")
		return
	}

	d.totalProcessed.Add(1)
	d.lastProcessed.Store(time.Now().UnixNano())
	messagesProcessed.WithLabelValues(d.name, string(outcome)).Inc()
	d.logger.Debug().
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("outcome", string(outcome)).
		Msg("Message dispatched.")
}

// safeDispatch calls the adapter and converts a panic into a classified
// write failure. Adapters are contractually forbidden from panicking on
// expected conditions, but the loop must survive even a broken one.
func (d *Dispatcher) safeDispatch(ctx context.Context, msg broker.Message) (outcome sinks.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = sinks.OutcomeError
			err = &sinks.WriteError{Sink: d.name, Err: fmt.Errorf("adapter panicked: %v", r)}
		}
	}()
	return d.adapter.Dispatch(ctx, msg)
}

// Handle adapts Process to the broker.HandlerFunc signature.
func (d *Dispatcher) Handle(ctx context.Context, msg broker.Message) {
	d.Process(ctx, msg)
}

// Status assembles the JSON-serializable health report. Healthy is a pure
// function of the counters and the ratio; adapter diagnostics ride along in
// the details map.
func (d *Dispatcher) Status(ctx context.Context) HandlerStatus {
	processed := d.totalProcessed.Load()
	errs := d.errorCount.Load()

	status := HandlerStatus{
		Name:           d.name,
		Healthy:        healthyFor(processed, errs, d.healthRatio),
		TotalProcessed: processed,
		Errors:         errs,
		Details:        map[string]interface{}{"state": d.CurrentState().String()},
	}
	if nanos := d.lastProcessed.Load(); nanos > 0 {
		t := time.Unix(0, nanos)
		status.LastProcessed = &t
	}

	details := d.adapter.Status(ctx)
	status.Details["reachable"] = details.Reachable
	for k, v := range details.Info {
		status.Details[k] = v
	}
	return status
}

// ResetStats zeroes the counters. This is the administrative reset operation
// and the only path on which the counters decrease.
func (d *Dispatcher) ResetStats() {
	d.totalProcessed.Store(0)
	d.errorCount.Store(0)
	d.lastProcessed.Store(0)
	d.logger.Info().Msg("Handler statistics reset.")
}

// Close stops the dispatcher and releases the adapter. It is safe to call in
// any state, including after a failed Init, and transitions terminally to
// Stopped.
func (d *Dispatcher) Close(ctx context.Context) error {
	prev := State(d.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		return nil
	}
	if err := d.adapter.Close(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Adapter cleanup failed.")
		return fmt.Errorf("handler %q: cleanup: %w", d.name, err)
	}
	d.logger.Info().Msg("Handler stopped.")
	return nil
}
