package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-eventsink/pkg/ingest"
)

// recordingPublisher captures everything published through it.
type recordingPublisher struct {
	mu         sync.Mutex
	topics     []string
	keys       []string
	payloads   [][]byte
	publishErr error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, value)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestIngestServer(t *testing.T, publisher *recordingPublisher) *httptest.Server {
	t.Helper()
	svc := ingest.NewService(ingest.ServiceConfig{
		LogTopic:    "log-events",
		MetricTopic: "metric-events",
	}, publisher, zerolog.Nop())

	mux := http.NewServeMux()
	svc.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestIngest_LogEventIsForwarded(t *testing.T) {
	// Arrange
	publisher := &recordingPublisher{}
	server := newTestIngestServer(t, publisher)

	// Act
	resp, err := http.Post(server.URL+"/v1/logs", "application/json",
		strings.NewReader(`{"source":"auth-service","level":"info","message":"user logged in"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// Assert
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, publisher.topics, 1)
	assert.Equal(t, "log-events", publisher.topics[0])
	assert.Equal(t, "auth-service", publisher.keys[0], "the source is the partition key")

	var forwarded ingest.LogEvent
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &forwarded))
	assert.Equal(t, "user logged in", forwarded.Message)
	assert.NotEmpty(t, forwarded.ID, "an id is stamped when absent")
	assert.False(t, forwarded.Timestamp.IsZero(), "a timestamp is stamped when absent")

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, forwarded.ID, body["id"])
}

func TestIngest_MetricEventIsForwarded(t *testing.T) {
	// Arrange
	publisher := &recordingPublisher{}
	server := newTestIngestServer(t, publisher)

	// Act
	resp, err := http.Post(server.URL+"/v1/metrics", "application/json",
		strings.NewReader(`{"source":"host-1","name":"cpu_load","value":0.93}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// Assert
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, publisher.topics, 1)
	assert.Equal(t, "metric-events", publisher.topics[0])
	assert.Equal(t, "host-1", publisher.keys[0])
}

func TestIngest_ValidationRejectsBadRequests(t *testing.T) {
	testCases := []struct {
		name string
		path string
		body string
	}{
		{"invalid json", "/v1/logs", `{not json`},
		{"missing message", "/v1/logs", `{"source":"x"}`},
		{"missing metric name", "/v1/metrics", `{"source":"x","value":1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			publisher := &recordingPublisher{}
			server := newTestIngestServer(t, publisher)

			resp, err := http.Post(server.URL+tc.path, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, publisher.topics, "nothing may be forwarded on validation failure")
		})
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	publisher := &recordingPublisher{}
	server := newTestIngestServer(t, publisher)

	resp, err := http.Get(server.URL + "/v1/logs")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIngest_BrokerFailureIsServiceUnavailable(t *testing.T) {
	// Arrange
	publisher := &recordingPublisher{publishErr: errors.New("broker unreachable")}
	server := newTestIngestServer(t, publisher)

	// Act
	resp, err := http.Post(server.URL+"/v1/logs", "application/json",
		strings.NewReader(`{"source":"x","message":"hello"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
