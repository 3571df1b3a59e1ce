package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
	"github.com/halcyon-sec/vigil/pkg/netcache"
	"github.com/halcyon-sec/vigil/pkg/orchestrator"
	"github.com/halcyon-sec/vigil/pkg/scriptqueue"
	"github.com/halcyon-sec/vigil/pkg/tools"
)

const testSecret = "gateway-secret"

// scriptedStream replays a fixed text turn.
type scriptedStream struct {
	events []modelclient.Event
	pos    int
}

func (s *scriptedStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}
func (s *scriptedStream) Current() modelclient.Event { return s.events[s.pos-1] }
func (s *scriptedStream) Err() error                 { return nil }
func (s *scriptedStream) Close() error               { return nil }

type scriptedModel struct{}

func (scriptedModel) Stream(ctx context.Context, req modelclient.Request) (orchestrator.ModelStream, error) {
	return &scriptedStream{events: []modelclient.Event{
		modelclient.UsageStart{InputTokens: 3},
		modelclient.TextDelta{Index: 0, Text: "done"},
		modelclient.Usage{OutputTokens: 2},
		modelclient.StopReason{Reason: "end_turn"},
		modelclient.MessageStop{},
	}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *scriptqueue.Queue, *netcache.MemoryCache) {
	t.Helper()
	store := conversation.NewStore(zerolog.Nop())
	executor := tools.NewExecutor(zerolog.Nop())
	orch, err := orchestrator.New(orchestrator.Config{
		Store:    store,
		Model:    scriptedModel{},
		Executor: executor,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	queue := scriptqueue.New(scriptqueue.Config{Timeout: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(queue.Close)
	cache := netcache.NewMemoryCache(50)

	srv, err := NewServer(Config{
		Addr:         "127.0.0.1:0",
		SharedSecret: testSecret,
		Orchestrator: orch,
		Queue:        queue,
		Cache:        cache,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, queue, cache
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set(SecretHeader, testSecret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUnauthorizedWithoutSecret(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/conversations", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzOpen(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestConversationLifecycle(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", map[string]interface{}{
		"targetId": "tab-1",
		"prompt":   "hello",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	id, _ := body["conversationId"].(string)
	require.NotEmpty(t, id)

	var updates map[string]interface{}
	require.Eventually(t, func() bool {
		resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/conversations/%s/updates", ts.URL, id), nil)
		body := decodeBody(t, resp)
		if body["status"] == string(conversation.StatusCompleted) {
			updates = body
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "done", updates["fullText"])

	// Drained; a second poll returns no chunks but keeps the status.
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/conversations/%s/updates", ts.URL, id), nil)
	body = decodeBody(t, resp)
	assert.Empty(t, body["chunks"])
	assert.Equal(t, string(conversation.StatusCompleted), body["status"])

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/v1/conversations/%s", ts.URL, id), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStartRejectsEmptyPrompt(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/conversations", map[string]interface{}{
		"targetId": "tab-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestAndTargetTeardown(t *testing.T) {
	ts, _, queue, cache := newTestServer(t)

	entries := []map[string]interface{}{
		{
			"id":       "req-1",
			"request":  map[string]interface{}{"url": "https://a.test/x", "method": "GET"},
			"response": map[string]interface{}{"status": 200},
		},
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/targets/tab-9/requests", entries)
	body := decodeBody(t, resp)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(1), body["ingested"])
	assert.Len(t, cache.EntriesForTarget("tab-9"), 1)

	pending := queue.Enqueue("tab-9", "1+1")

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/targets/tab-9", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err := pending.Wait(context.Background())
	assert.ErrorIs(t, err, scriptqueue.ErrTargetClosed)
	assert.Empty(t, cache.EntriesForTarget("tab-9"))
}

func dialRunner(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runner?secret=" + testSecret
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRunnerSocketJobFlow(t *testing.T) {
	ts, _, queue, _ := newTestServer(t)
	conn := dialRunner(t, ts)

	// Nothing queued yet.
	require.NoError(t, conn.WriteJSON(runnerMessage{Type: "dequeue", TargetID: "tab-1"}))
	var reply runnerMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "empty", reply.Type)

	pending := queue.Enqueue("tab-1", "document.title")

	require.NoError(t, conn.WriteJSON(runnerMessage{Type: "dequeue", TargetID: "tab-1"}))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "job", reply.Type)
	assert.Equal(t, pending.ID, reply.ID)
	assert.Equal(t, "document.title", reply.Code)

	require.NoError(t, conn.WriteJSON(runnerMessage{Type: "result", ID: reply.ID, Result: "Example Domain"}))

	result, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", result)
}

func TestRunnerSocketRejectsBadSecret(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runner?secret=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRunnerSocketErrorReply(t *testing.T) {
	ts, _, queue, _ := newTestServer(t)
	conn := dialRunner(t, ts)

	pending := queue.Enqueue("tab-1", "throw new Error('nope')")

	var reply runnerMessage
	require.NoError(t, conn.WriteJSON(runnerMessage{Type: "dequeue", TargetID: "tab-1"}))
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "job", reply.Type)

	require.NoError(t, conn.WriteJSON(runnerMessage{Type: "error", ID: reply.ID, Error: "Error: nope"}))

	_, err := pending.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}
