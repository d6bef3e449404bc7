package sinks

import "fmt"

// The error taxonomy below drives the propagation policy: ConnectionError is
// fatal at startup, ParseError and WriteError are recovered inside the
// dispatcher and only ever surface through counters and logs.

// ConnectionError reports that an adapter could not reach its backing store
// during Init. The process should exit non-zero; the core never retries it.
type ConnectionError struct {
	Sink   string
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: cannot reach %s: %v", e.Sink, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError reports a message value that is not in the shape the sink
// expects. It is counted and logged; consumption continues.
type ParseError struct {
	Sink   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unparseable payload (%s): %v", e.Sink, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: unparseable payload (%s)", e.Sink, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// WriteError reports a post-connection write the backing store rejected.
// Counted and logged; not retried by the dispatch layer. Redelivery, if any,
// comes from the broker's crash semantics.
type WriteError struct {
	Sink string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: write rejected: %v", e.Sink, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
