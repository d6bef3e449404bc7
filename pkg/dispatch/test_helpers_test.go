package dispatch_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/sinks"
)

// ====================================================================================
// This file contains a mock sink adapter for unit tests of the dispatcher.
// ====================================================================================

// mockAdapter is a configurable in-memory implementation of sinks.Adapter.
type mockAdapter struct {
	mu         sync.Mutex
	initErr    error
	closeErr   error
	dispatchFn func(msg broker.Message) (sinks.Outcome, error)

	initCount  int
	closeCount int
	dispatched []broker.Message
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		dispatchFn: func(broker.Message) (sinks.Outcome, error) {
			return sinks.OutcomeStored, nil
		},
	}
}

func (m *mockAdapter) Init(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCount++
	return m.initErr
}

func (m *mockAdapter) Dispatch(_ context.Context, msg broker.Message) (sinks.Outcome, error) {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, msg)
	fn := m.dispatchFn
	m.mu.Unlock()
	return fn(msg)
}

func (m *mockAdapter) Status(_ context.Context) sinks.StatusDetails {
	return sinks.StatusDetails{Reachable: true, Info: map[string]interface{}{"mock": true}}
}

func (m *mockAdapter) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return m.closeErr
}

func (m *mockAdapter) SetDispatchFunc(fn func(msg broker.Message) (sinks.Outcome, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchFn = fn
}

func (m *mockAdapter) DispatchedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

func (m *mockAdapter) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// testMessage builds a message with the given offset; payload defaults to a
// small JSON object.
func testMessage(offset int64, payload string) broker.Message {
	return broker.Message{
		Topic:     "user-events",
		Partition: 0,
		Offset:    offset,
		Key:       "u1",
		Value:     []byte(payload),
	}
}
