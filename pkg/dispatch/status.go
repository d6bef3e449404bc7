package dispatch

import "time"

// HandlerStatus is the JSON-serializable health report for one handler. It is
// consumed by the worker's /statusz endpoint and by external health checks.
type HandlerStatus struct {
	// Name identifies the logical handler.
	Name string `json:"name"`

	// Healthy is derived purely from the counters and the configured ratio;
	// it is never stored or mutated independently.
	Healthy bool `json:"healthy"`

	// LastProcessed is the time of the most recent successful dispatch,
	// absent until the first one.
	LastProcessed *time.Time `json:"lastProcessed,omitempty"`

	// TotalProcessed counts successful dispatches, duplicates included. It
	// only decreases on an explicit administrative reset.
	TotalProcessed uint64 `json:"totalProcessed"`

	// Errors counts classified dispatch failures. Same reset semantics.
	Errors uint64 `json:"errors"`

	// Details carries adapter-specific diagnostics (reachability, row counts,
	// buffered backlog).
	Details map[string]interface{} `json:"details,omitempty"`
}

// healthyFor applies the health rule: a handler is healthy when it has never
// errored, or when it has processed more than ratio messages per error. The
// rule is a ratio, not an absolute count, so a handler with a million
// successes and ten old errors is not flagged unhealthy forever.
func healthyFor(totalProcessed, errors, ratio uint64) bool {
	if errors == 0 {
		return true
	}
	return totalProcessed/errors > ratio
}
