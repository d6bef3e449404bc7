package sinks

import (
	"context"
	"sync/atomic"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/rs/zerolog"
)

// JobQueueSink is a placeholder for the external job system that is not yet
// integrated. It accepts every message, counts what it would have submitted,
// and persists nothing. Keeping it behind the same contract lets the rest of
// the pipeline be wired and exercised before the real client lands.
type JobQueueSink struct {
	logger    zerolog.Logger
	submitted atomic.Uint64
}

// NewJobQueueSink returns the stub sink.
func NewJobQueueSink(logger zerolog.Logger) *JobQueueSink {
	return &JobQueueSink{
		logger: logger.With().Str("component", "JobQueueSink").Logger(),
	}
}

// Init is a no-op; there is no external system to reach yet.
func (s *JobQueueSink) Init(_ context.Context) error {
	s.logger.Warn().Msg("Job queue sink is a stub; messages will be accepted but not submitted.")
	return nil
}

// Dispatch records the would-be submission and skips it.
func (s *JobQueueSink) Dispatch(_ context.Context, msg broker.Message) (Outcome, error) {
	if len(msg.Value) == 0 {
		return OutcomeError, &ParseError{Sink: "jobqueue", Reason: "empty value"}
	}
	s.submitted.Add(1)
	s.logger.Debug().Str("coordinates", msg.Coordinates()).Msg("Job submission skipped (stub).")
	return OutcomeSkipped, nil
}

// Status reports how many submissions were skipped.
func (s *JobQueueSink) Status(_ context.Context) StatusDetails {
	return StatusDetails{
		Reachable: true,
		Info: map[string]interface{}{
			"stub":               true,
			"skippedSubmissions": s.submitted.Load(),
		},
	}
}

// Close is a no-op.
func (s *JobQueueSink) Close(_ context.Context) error { return nil }
