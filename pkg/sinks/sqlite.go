package sinks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/rs/zerolog"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds the configuration for the relational sink.
type SQLiteConfig struct {
	DSN   string // e.g. "events.db" or "file::memory:?cache=shared"
	Table string
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSink persists messages into a relational table carrying a uniqueness
// constraint on (topic, partition, offset). Dispatch is an insert-or-ignore:
// a redelivered message is classified as a duplicate, not an error. This is
// the mechanism that turns the broker's at-least-once delivery into
// effectively-once storage.
type SQLiteSink struct {
	cfg    SQLiteConfig
	logger zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteSink validates the configuration and returns an unconnected sink.
func NewSQLiteSink(cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteSink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sqlite sink: dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "events"
	}
	if !identifierPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sqlite sink: invalid table name %q", cfg.Table)
	}
	return &SQLiteSink{
		cfg:    cfg,
		logger: logger.With().Str("component", "SQLiteSink").Str("table", cfg.Table).Logger(),
	}, nil
}

// Table returns the configured target table name.
func (s *SQLiteSink) Table() string { return s.cfg.Table }

// Init opens the database and ensures the table and its dedup constraint
// exist. An unreachable or unwritable database is fatal to startup.
func (s *SQLiteSink) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.cfg.DSN)
	if err != nil {
		return &ConnectionError{Sink: "sqlite", Target: s.cfg.DSN, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &ConnectionError{Sink: "sqlite", Target: s.cfg.DSN, Err: err}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		topic         TEXT    NOT NULL,
		partition_id  INTEGER NOT NULL,
		record_offset INTEGER NOT NULL,
		event_key     TEXT,
		payload       TEXT    NOT NULL,
		event_time    TIMESTAMP,
		inserted_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (topic, partition_id, record_offset)
	)`, s.cfg.Table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return &ConnectionError{Sink: "sqlite", Target: s.cfg.DSN, Err: err}
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	s.logger.Info().Str("dsn", s.cfg.DSN).Msg("SQLite sink connected.")
	return nil
}

// Dispatch inserts one message, ignoring the write when the (topic,
// partition, offset) triple is already present.
func (s *SQLiteSink) Dispatch(ctx context.Context, msg broker.Message) (Outcome, error) {
	if len(msg.Value) == 0 {
		return OutcomeError, &ParseError{Sink: "sqlite", Reason: "empty value"}
	}

	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return OutcomeError, &WriteError{Sink: "sqlite", Err: errors.New("sink is not connected")}
	}

	stmt := fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (topic, partition_id, record_offset, event_key, payload, event_time) VALUES (?, ?, ?, ?, ?, ?)`,
		s.cfg.Table,
	)
	res, err := db.ExecContext(ctx, stmt,
		msg.Topic, msg.Partition, msg.Offset, msg.Key, string(msg.Value), msg.Timestamp)
	if err != nil {
		return OutcomeError, &WriteError{Sink: "sqlite", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return OutcomeError, &WriteError{Sink: "sqlite", Err: err}
	}
	if affected == 0 {
		s.logger.Debug().Str("coordinates", msg.Coordinates()).Msg("Duplicate row ignored.")
		return OutcomeDuplicate, nil
	}
	return OutcomeStored, nil
}

// Status reports reachability and the current row count, bounded by a short
// timeout so a wedged database cannot stall the health collector.
func (s *SQLiteSink) Status(ctx context.Context) StatusDetails {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": "not connected"}}
	}

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var rows int64
	err := db.QueryRowContext(queryCtx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.cfg.Table)).Scan(&rows)
	if err != nil {
		return StatusDetails{Reachable: false, Info: map[string]interface{}{"diagnostic": err.Error()}}
	}
	return StatusDetails{
		Reachable: true,
		Info: map[string]interface{}{
			"table": s.cfg.Table,
			"rows":  rows,
		},
	}
}

// Close releases the database handle. Safe after a partial Init.
func (s *SQLiteSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.logger.Info().Msg("SQLite sink closed.")
	return err
}
