package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/domain"
	"github.com/phancao/Project-Management-Agent-sub011/internal/config"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
)

// stubRunner publishes a canned event sequence and records cancellation.
type stubRunner struct {
	mu        sync.Mutex
	started   chan struct{}
	cancelled bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{started: make(chan struct{})}
}

func (r *stubRunner) Run(ctx context.Context, threadID, query string, publisher domain.EventPublisher) (*domain.RunResult, error) {
	close(r.started)
	publisher.Publish(stream.Event{
		ThreadID: threadID,
		Kind:     stream.KindMessageChunk,
		MessageChunk: &stream.MessageChunk{
			MessageID: "m1", Role: "assistant", Content: "answer for " + query,
		},
	})
	publisher.Publish(stream.Event{
		ThreadID: threadID,
		Kind:     stream.KindMessageChunk,
		MessageChunk: &stream.MessageChunk{
			MessageID: "m1", Role: "assistant", Finish: true,
		},
	})
	<-ctx.Done()
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	return &domain.RunResult{ThreadID: threadID, StopReason: "cancelled"}, nil
}

func (r *stubRunner) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func newTestServer(runner WorkflowRunner) (*Server, *stream.Registry) {
	registry := stream.NewRegistry(16, stream.DefaultMetrics(), nil)
	srv := New(config.ServerConfig{EnableCORS: true}, registry, runner, nil)
	return srv, registry
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(newStubRunner())
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestQueryRequiresBody(t *testing.T) {
	srv, _ := newTestServer(newStubRunner())
	rec := httptest.NewRecorder()

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t1/query", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryStartsRunAndWebsocketStreamsFrames(t *testing.T) {
	runner := newStubRunner()
	srv, registry := newTestServer(runner)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/t1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	body := strings.NewReader(`{"query":"sprint status"}`)
	resp, err := http.Post(ts.URL+"/api/threads/t1/query", "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	var frames []stream.Frame
	for len(frames) < 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame stream.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
	}

	assert.Equal(t, "t1", frames[0].ThreadID)
	assert.Equal(t, stream.KindMessageChunk, frames[0].Kind)
	var first stream.MessageChunk
	require.NoError(t, json.Unmarshal(frames[0].Payload, &first))
	assert.Equal(t, "answer for sprint status", first.Content)

	var second stream.MessageChunk
	require.NoError(t, json.Unmarshal(frames[1].Payload, &second))
	assert.True(t, second.Finish)

	// Disconnect tears the thread down and cancels the workflow.
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return registry.Len() == 0 && runner.wasCancelled()
	}, 2*time.Second, 20*time.Millisecond)
}
