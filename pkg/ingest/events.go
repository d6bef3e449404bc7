package ingest

import "time"

// LogEvent is the payload accepted on /v1/logs and forwarded to the broker.
type LogEvent struct {
	ID        string                 `json:"id,omitempty"`
	Source    string                 `json:"source"`
	Level     string                 `json:"level,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// MetricEvent is the payload accepted on /v1/metrics.
type MetricEvent struct {
	ID        string            `json:"id,omitempty"`
	Source    string            `json:"source"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}
