package sinks_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/sinks"
)

// fakeESTransport answers every request like a healthy single-node cluster
// and records what was sent, so tests can assert on document ids and bodies.
type fakeESTransport struct {
	mu         sync.Mutex
	requests   []*http.Request
	bodies     []string
	statusCode int
}

func (f *fakeESTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := ""
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		body = string(raw)
	}
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, body)

	status := f.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(`{"version":{"number":"8.19.1"}}`)),
	}, nil
}

func (f *fakeESTransport) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeESTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestElasticSink(t *testing.T, transport *fakeESTransport) *sinks.ElasticSink {
	t.Helper()
	sink, err := sinks.NewElasticSink(sinks.ElasticConfig{
		Addresses: []string{"http://elastic.test:9200"},
		Index:     "events",
		Transport: transport,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, sink.Init(context.Background()))
	t.Cleanup(func() { _ = sink.Close(context.Background()) })
	return sink
}

func TestElasticSink_IndexesDocumentKeyedByCoordinates(t *testing.T) {
	// Arrange
	transport := &fakeESTransport{}
	sink := newTestElasticSink(t, transport)

	// Act
	outcome, err := sink.Dispatch(context.Background(), broker.Message{
		Topic:     "user-events",
		Partition: 0,
		Offset:    42,
		Value:     []byte(`{"userId":"u1","action":"login"}`),
	})

	// Assert: the document id is the broker coordinates, so redelivery
	// overwrites instead of duplicating.
	require.NoError(t, err)
	assert.Equal(t, sinks.OutcomeStored, outcome)

	req := transport.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "/events/_doc/user-events-0-42", req.URL.Path)
	assert.Contains(t, transport.bodies[len(transport.bodies)-1], `"userId":"u1"`)
}

func TestElasticSink_NonJSONPayloadIsAParseError(t *testing.T) {
	// Arrange
	transport := &fakeESTransport{}
	sink := newTestElasticSink(t, transport)
	before := transport.requestCount()

	// Act
	outcome, err := sink.Dispatch(context.Background(), broker.Message{
		Topic: "user-events", Offset: 1, Value: []byte("not json at all"),
	})

	// Assert: classified, counted upstream, and no index request was made.
	var parseErr *sinks.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, sinks.OutcomeError, outcome)
	assert.Equal(t, before, transport.requestCount())
}

func TestElasticSink_EmptyValueIsAParseError(t *testing.T) {
	transport := &fakeESTransport{}
	sink := newTestElasticSink(t, transport)

	_, err := sink.Dispatch(context.Background(), broker.Message{Topic: "t", Offset: 1})

	var parseErr *sinks.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestElasticSink_RejectedIndexRequestIsAWriteError(t *testing.T) {
	// Arrange
	transport := &fakeESTransport{}
	sink := newTestElasticSink(t, transport)
	transport.statusCode = http.StatusInternalServerError

	// Act
	outcome, err := sink.Dispatch(context.Background(), broker.Message{
		Topic: "t", Offset: 1, Value: []byte(`{"a":1}`),
	})

	// Assert
	var writeErr *sinks.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, sinks.OutcomeError, outcome)
}

func TestElasticSink_ConstructionValidation(t *testing.T) {
	_, err := sinks.NewElasticSink(sinks.ElasticConfig{Index: "events"}, zerolog.Nop())
	require.Error(t, err)

	_, err = sinks.NewElasticSink(sinks.ElasticConfig{Addresses: []string{"http://x:9200"}}, zerolog.Nop())
	require.Error(t, err)
}

func TestDocumentID_FallsBackToGeneratedID(t *testing.T) {
	// Arrange: a message without a broker offset.
	msg := broker.Message{Topic: "t", Partition: 0, Offset: -1}

	// Act
	first := sinks.DocumentID(msg)
	second := sinks.DocumentID(msg)

	// Assert: generated ids are random, coordinate-keyed ids are stable.
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	keyed := broker.Message{Topic: "t", Partition: 1, Offset: 9}
	assert.Equal(t, "t-1-9", sinks.DocumentID(keyed))
	assert.Equal(t, sinks.DocumentID(keyed), sinks.DocumentID(keyed))
}
