package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/illmade-knight/go-eventsink/pkg/dispatch"
)

// EnvPrefix is the environment namespace for every recognized key, e.g.
// EVENTSINK__BROKERS, EVENTSINK__HANDLERS__ARCHIVE__TYPE.
const EnvPrefix = "EVENTSINK__"

// IngestConfig configures the HTTP ingestion process.
type IngestConfig struct {
	HTTPPort    string `koanf:"http_port"`
	LogTopic    string `koanf:"log_topic"`
	MetricTopic string `koanf:"metric_topic"`
}

// WorkerConfig configures the consumer process.
type WorkerConfig struct {
	HTTPPort  string        `koanf:"http_port"`
	GroupID   string        `koanf:"group_id"`
	StartFrom string        `koanf:"start_from"`
	StopGrace time.Duration `koanf:"stop_grace"`
}

// Config is the process-wide configuration, loaded once at startup and
// immutable afterwards.
type Config struct {
	LogLevel string   `koanf:"log_level"`
	Brokers  []string `koanf:"brokers"`

	Ingest IngestConfig `koanf:"ingest"`
	Worker WorkerConfig `koanf:"worker"`

	// Handlers maps a logical handler name to its configuration. Each enabled
	// handler becomes one dispatcher bound to one topic.
	Handlers map[string]dispatch.HandlerConfig `koanf:"handlers"`
}

// Load merges an optional YAML file with environment variables (environment
// wins) and validates the result. Validation is deliberately strict: an
// unknown handler type or a handler without a topic must fail here, before
// any broker subscription is attempted.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	envKey := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Ingest.HTTPPort == "" {
		c.Ingest.HTTPPort = ":8080"
	}
	if c.Ingest.LogTopic == "" {
		c.Ingest.LogTopic = "log-events"
	}
	if c.Ingest.MetricTopic == "" {
		c.Ingest.MetricTopic = "metric-events"
	}
	if c.Worker.HTTPPort == "" {
		c.Worker.HTTPPort = ":8081"
	}
	if c.Worker.GroupID == "" {
		c.Worker.GroupID = "eventsink-worker"
	}
	if c.Worker.StartFrom == "" {
		c.Worker.StartFrom = "oldest"
	}
	if c.Worker.StopGrace <= 0 {
		c.Worker.StopGrace = 30 * time.Second
	}
}

func validate(c *Config) error {
	for name, handler := range c.Handlers {
		if !handler.Enabled {
			continue
		}
		if handler.Topic == "" {
			return fmt.Errorf("handler %q: topic is required", name)
		}
		if _, err := dispatch.ParseKind(handler.Type); err != nil {
			return fmt.Errorf("handler %q: %w", name, err)
		}
	}
	return nil
}

// EnabledHandlers returns the handlers the worker should wire, keyed by name.
func (c *Config) EnabledHandlers() map[string]dispatch.HandlerConfig {
	enabled := make(map[string]dispatch.HandlerConfig)
	for name, handler := range c.Handlers {
		if handler.Enabled {
			enabled[name] = handler
		}
	}
	return enabled
}
