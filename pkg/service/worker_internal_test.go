package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/dispatch"
	"github.com/illmade-knight/go-eventsink/pkg/sinks"
)

// stubSubscriber satisfies MessageSubscriber with no broker behind it.
type stubSubscriber struct{}

func (stubSubscriber) RegisterHandler(string, broker.HandlerFunc) error { return nil }
func (stubSubscriber) Start(context.Context) error                     { return nil }
func (stubSubscriber) Stop(context.Context) error                      { return nil }

// countingAdapter records its cleanups and optionally rejects them.
type countingAdapter struct {
	closeErr   error
	closeCount int
}

func (a *countingAdapter) Init(context.Context) error { return nil }

func (a *countingAdapter) Dispatch(context.Context, broker.Message) (sinks.Outcome, error) {
	return sinks.OutcomeStored, nil
}

func (a *countingAdapter) Status(context.Context) sinks.StatusDetails {
	return sinks.StatusDetails{Reachable: true}
}

func (a *countingAdapter) Close(context.Context) error {
	a.closeCount++
	return a.closeErr
}

func newAdapterBackedWorker(adapters map[string]*countingAdapter) *Worker {
	w := &Worker{
		logger:     zerolog.Nop(),
		server:     NewServer(":0", zerolog.Nop()),
		subscriber: stubSubscriber{},
		topics:     make(map[string]*dispatch.Dispatcher),
	}
	for name, adapter := range adapters {
		d := dispatch.NewDispatcher(name, adapter, zerolog.Nop())
		w.dispatchers = append(w.dispatchers, d)
		w.topics[name+"-topic"] = d
	}
	return w
}

func TestWorker_ShutdownClosesEveryHandlerDespiteCloseFailure(t *testing.T) {
	// Arrange: two handlers, one of which rejects its cleanup.
	broken := &countingAdapter{closeErr: errors.New("flush failed")}
	healthy := &countingAdapter{}
	worker := newAdapterBackedWorker(map[string]*countingAdapter{
		"broken":  broken,
		"healthy": healthy,
	})
	require.NoError(t, worker.Start(context.Background()))

	// Act
	err := worker.Shutdown(context.Background())

	// Assert: the failure is joined into the return, and every adapter was
	// still cleaned up exactly once.
	require.Error(t, err)
	assert.ErrorContains(t, err, "flush failed")
	assert.Equal(t, 1, broken.closeCount)
	assert.Equal(t, 1, healthy.closeCount)

	// A second shutdown must not re-run any adapter cleanup.
	_ = worker.Shutdown(context.Background())
	assert.Equal(t, 1, broken.closeCount)
	assert.Equal(t, 1, healthy.closeCount)
}
