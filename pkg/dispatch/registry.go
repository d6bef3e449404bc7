package dispatch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-eventsink/pkg/sinks"
	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the handler registry: a closed enumeration of adapter kinds
// and the construction logic that turns a HandlerConfig into a configured, not
// yet initialized sink adapter. Misconfiguration fails here, before any broker
// subscription exists, so a bad handler name can never silently drop messages.
// ====================================================================================

// Kind enumerates the supported adapter kinds.
type Kind string

const (
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindElastic  Kind = "elasticsearch"
	KindRedis    Kind = "redis"
	KindJobQueue Kind = "jobqueue"
)

// kindAliases maps accepted configuration spellings onto the closed set.
var kindAliases = map[string]Kind{
	"file":          KindFile,
	"sql":           KindSQLite,
	"sqlite":        KindSQLite,
	"elastic":       KindElastic,
	"elasticsearch": KindElastic,
	"redis":         KindRedis,
	"cache":         KindRedis,
	"jobqueue":      KindJobQueue,
}

// ValidKinds returns the accepted handler type spellings, sorted, for use in
// configuration errors.
func ValidKinds() []string {
	names := make([]string, 0, len(kindAliases))
	for name := range kindAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownHandlerError reports a handler type the registry does not recognize.
// It is fatal at startup.
type UnknownHandlerError struct {
	Requested string
	Valid     []string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("unknown handler type %q (valid: %s)", e.Requested, strings.Join(e.Valid, ", "))
}

// ParseKind resolves a configured handler type onto the closed enumeration.
func ParseKind(s string) (Kind, error) {
	if kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return kind, nil
	}
	return "", &UnknownHandlerError{Requested: s, Valid: ValidKinds()}
}

// HandlerConfig is the per-handler configuration surface. It is read once at
// startup and immutable for the process lifetime.
type HandlerConfig struct {
	// Type selects the adapter kind (file|sql|sqlite|elastic|redis|jobqueue).
	Type string `koanf:"type"`
	// Enabled gates whether the worker wires this handler at all.
	Enabled bool `koanf:"enabled"`
	// Topic is the broker topic this handler subscribes to.
	Topic string `koanf:"topic"`
	// BatchSize is the number of messages per flush for batching adapters.
	BatchSize int `koanf:"batch_size"`
	// FlushInterval caps how long a partial batch may wait.
	FlushInterval time.Duration `koanf:"flush_interval"`
	// Options carries adapter-specific settings (path, dsn, index, ttl, ...).
	Options map[string]string `koanf:"options"`
}

// option returns an override, falling back to the adapter default.
func (c HandlerConfig) option(key, fallback string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// NewAdapter constructs a configured sink adapter for the requested type.
// Construction only: the adapter is not initialized, no connection is made.
// Configuration problems surface here as UnknownHandlerError or per-adapter
// validation errors.
func NewAdapter(cfg HandlerConfig, logger zerolog.Logger) (sinks.Adapter, error) {
	kind, err := ParseKind(cfg.Type)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindFile:
		return sinks.NewFileSink(sinks.FileConfig{
			Path:          cfg.option("path", "events.jsonl"),
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		}, logger)

	case KindSQLite:
		return sinks.NewSQLiteSink(sinks.SQLiteConfig{
			DSN:   cfg.option("dsn", "events.db"),
			Table: cfg.option("table", "events"),
		}, logger)

	case KindElastic:
		return sinks.NewElasticSink(sinks.ElasticConfig{
			Addresses: strings.Split(cfg.option("addresses", "http://localhost:9200"), ","),
			Index:     cfg.option("index", "events"),
			Username:  cfg.option("username", ""),
			Password:  cfg.option("password", ""),
		}, logger)

	case KindRedis:
		db := 0
		if raw := cfg.option("db", ""); raw != "" {
			db, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("redis sink: invalid db %q: %w", raw, err)
			}
		}
		ttl := time.Hour
		if raw := cfg.option("ttl", ""); raw != "" {
			ttl, err = time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("redis sink: invalid ttl %q: %w", raw, err)
			}
		}
		return sinks.NewRedisSink(sinks.RedisConfig{
			Addr:      cfg.option("addr", "localhost:6379"),
			Password:  cfg.option("password", ""),
			DB:        db,
			KeyPrefix: cfg.option("key_prefix", "eventsink:"),
			TTL:       ttl,
		}, logger)

	case KindJobQueue:
		return sinks.NewJobQueueSink(logger), nil

	default:
		// Unreachable: ParseKind is total over the enumeration.
		return nil, &UnknownHandlerError{Requested: cfg.Type, Valid: ValidKinds()}
	}
}
