package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/rs/zerolog"
)

// FileConfig holds the configuration for the append-only file sink.
type FileConfig struct {
	Path          string
	BatchSize     int           // lines buffered before a forced flush
	FlushInterval time.Duration // max age of a partial buffer
}

// FileSink appends one JSON line per message to a local file.
//
// It is deliberately NOT idempotent: broker redelivery of a message produces a
// duplicate line. That trade-off is accepted (exactly-once is a non-goal) and
// pinned down under test. Writes are serialized internally so two partitions
// dispatching concurrently can never interleave partial lines.
type FileSink struct {
	cfg    FileConfig
	logger zerolog.Logger

	mu       sync.Mutex // guards file, writer, pending, flushing
	file     *os.File
	writer   *bufio.Writer
	pending  int
	written  uint64
	flushing bool

	closeOnce sync.Once
	stopFlush chan struct{}
	flushDone chan struct{}
}

// NewFileSink validates the configuration and returns an unconnected sink.
func NewFileSink(cfg FileConfig, logger zerolog.Logger) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, errors.New("file sink: path is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &FileSink{
		cfg:       cfg,
		logger:    logger.With().Str("component", "FileSink").Str("path", cfg.Path).Logger(),
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}, nil
}

// Init opens the target file for appending and starts the background flusher.
func (s *FileSink) Init(_ context.Context) error {
	file, err := os.OpenFile(s.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &ConnectionError{Sink: "file", Target: s.cfg.Path, Err: err}
	}

	s.mu.Lock()
	s.file = file
	s.writer = bufio.NewWriter(file)
	s.flushing = true
	s.mu.Unlock()

	go s.flushLoop()

	s.logger.Info().Msg("File sink opened for appending.")
	return nil
}

// Dispatch appends the message envelope as one JSON line.
func (s *FileSink) Dispatch(_ context.Context, msg broker.Message) (Outcome, error) {
	if len(msg.Value) == 0 {
		return OutcomeError, &ParseError{Sink: "file", Reason: "empty value"}
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return OutcomeError, &ParseError{Sink: "file", Reason: "unencodable message", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return OutcomeError, &WriteError{Sink: "file", Err: errors.New("sink is not open")}
	}
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return OutcomeError, &WriteError{Sink: "file", Err: err}
	}
	s.written++
	s.pending++
	if s.pending >= s.cfg.BatchSize {
		if err := s.flushLocked(); err != nil {
			return OutcomeError, &WriteError{Sink: "file", Err: err}
		}
	}
	return OutcomeStored, nil
}

// Status reports the line count and buffered backlog.
func (s *FileSink) Status(_ context.Context) StatusDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusDetails{
		Reachable: s.writer != nil,
		Info: map[string]interface{}{
			"path":          s.cfg.Path,
			"linesWritten":  s.written,
			"linesBuffered": s.pending,
		},
	}
}

// Close flushes the buffer and closes the file. Safe to call even if Init
// never ran or partially failed.
func (s *FileSink) Close(_ context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.stopFlush)

		s.mu.Lock()
		flushing := s.flushing
		s.mu.Unlock()
		if flushing {
			// The flusher must be gone before the file handle goes away.
			<-s.flushDone
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.writer != nil {
			if err := s.flushLocked(); err != nil {
				closeErr = err
			}
			s.writer = nil
		}
		if s.file != nil {
			if err := s.file.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
			s.file = nil
		}
		s.logger.Info().Uint64("lines_written", s.written).Msg("File sink closed.")
	})
	return closeErr
}

// flushLoop flushes partial buffers on the configured interval.
func (s *FileSink) flushLoop() {
	defer close(s.flushDone)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopFlush:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.writer != nil && s.pending > 0 {
				if err := s.flushLocked(); err != nil {
					s.logger.Error().Err(err).Msg("Interval flush failed.")
				}
			}
			s.mu.Unlock()
		}
	}
}

// flushLocked flushes the buffered writer. Callers hold s.mu.
func (s *FileSink) flushLocked() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.pending = 0
	return nil
}
