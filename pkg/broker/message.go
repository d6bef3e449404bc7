package broker

import (
	"fmt"
	"time"
)

// Message is the canonical, immutable representation of one record delivered
// by the broker. It exists for the duration of a single dispatch call; sinks
// persist their own representation of it, never the Message itself.
type Message struct {
	// Topic is the broker topic the record was read from. Never empty.
	Topic string `json:"topic"`

	// Partition identifies the ordered subsequence of the topic this record
	// belongs to. Delivery within a partition is strictly offset-ordered.
	Partition int32 `json:"partition"`

	// Offset is the partition-local, monotonically increasing position of the
	// record. Sinks use it for deduplication and ordering diagnostics.
	Offset int64 `json:"offset"`

	// Key is the optional routing key the producer attached. It decided the
	// partition upstream; here it is informational only.
	Key string `json:"key,omitempty"`

	// Value is the raw record payload. It may or may not be valid JSON and
	// must be parsed independently by each sink.
	Value []byte `json:"value"`

	// Timestamp is the producer- or broker-assigned time of the record.
	Timestamp time.Time `json:"timestamp"`

	// Headers holds broker record headers. Insertion order is irrelevant.
	Headers map[string]string `json:"headers,omitempty"`
}

// Coordinates returns the "topic/partition@offset" triple used in logs and
// dedup keys. Every processed or failed message is reported with it.
func (m *Message) Coordinates() string {
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}
