package sinks

import (
	"context"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
)

// ====================================================================================
// This file defines the capability contract every sink adapter implements, and the
// classified outcomes a dispatch can produce. The dispatch layer depends only on
// this contract; each adapter owns its connection lifecycle behind it.
// ====================================================================================

// Outcome classifies a successful dispatch.
type Outcome string

const (
	// OutcomeStored means the sink persisted a new record.
	OutcomeStored Outcome = "stored"
	// OutcomeDuplicate means the sink recognised the message as already
	// persisted and ignored it. Duplicates are how at-least-once delivery
	// becomes effectively-once storage; they are not errors.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped means the sink deliberately did not persist the message
	// (e.g. a disabled stub). Not an error.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError is never returned by an adapter; the dispatcher uses it
	// when logging a failed dispatch.
	OutcomeError Outcome = "error"
)

// StatusDetails is an adapter's read-only self-report. Collecting it must not
// block beyond the deadline on the supplied context; an unreachable backing
// store is reported through Reachable plus a diagnostic, never an error.
type StatusDetails struct {
	Reachable bool                   `json:"reachable"`
	Info      map[string]interface{} `json:"info,omitempty"`
}

// Adapter is the uniform contract over a downstream persistence target.
//
// Lifecycle: Init is called exactly once before the first Dispatch and is not
// required to be idempotent. Close is guaranteed to run on shutdown and must
// be safe even when Init partially failed. Dispatch may be invoked more than
// once for the same message (broker redelivery after a crash); adapters that
// cannot tolerate duplicate writes must carry their own dedup key.
type Adapter interface {
	// Init establishes the adapter's connection or handle. An unreachable
	// backing store yields a *ConnectionError, which is fatal at startup.
	Init(ctx context.Context) error

	// Dispatch consumes exactly one message. Expected, recoverable conditions
	// (malformed payload, rejected write) are classified as *ParseError or
	// *WriteError return values; Dispatch never panics for them.
	Dispatch(ctx context.Context, msg broker.Message) (Outcome, error)

	// Status reports the adapter's own diagnostics.
	Status(ctx context.Context) StatusDetails

	// Close releases the adapter's resources.
	Close(ctx context.Context) error
}
