package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
	"github.com/halcyon-sec/vigil/pkg/tools"
)

// fakeStream replays a scripted event sequence.
type fakeStream struct {
	events []modelclient.Event
	pos    int
	err    error
	ctx    context.Context
	block  bool
}

func (s *fakeStream) Next() bool {
	if s.block {
		<-s.ctx.Done()
		return false
	}
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Current() modelclient.Event { return s.events[s.pos-1] }
func (s *fakeStream) Err() error                 { return s.err }
func (s *fakeStream) Close() error               { return nil }

// fakeModel serves one scripted stream per turn and records requests.
type fakeModel struct {
	mu       sync.Mutex
	turns    [][]modelclient.Event
	requests []modelclient.Request
	openErr  error
	blocking bool
}

func (m *fakeModel) Stream(ctx context.Context, req modelclient.Request) (ModelStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.blocking {
		return &fakeStream{ctx: ctx, block: true}, nil
	}
	if len(m.turns) == 0 {
		return &fakeStream{}, nil
	}
	events := m.turns[0]
	if len(m.turns) > 1 {
		m.turns = m.turns[1:]
	}
	return &fakeStream{events: events}, nil
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textTurn(deltas ...string) []modelclient.Event {
	events := []modelclient.Event{
		modelclient.UsageStart{InputTokens: 12},
		modelclient.BlockStart{Index: 0, Kind: modelclient.BlockText},
	}
	for _, d := range deltas {
		events = append(events, modelclient.TextDelta{Index: 0, Text: d})
	}
	events = append(events,
		modelclient.BlockStop{Index: 0},
		modelclient.Usage{OutputTokens: 7},
		modelclient.StopReason{Reason: "end_turn"},
		modelclient.MessageStop{},
	)
	return events
}

func toolTurn(id, name string, input map[string]interface{}) []modelclient.Event {
	return []modelclient.Event{
		modelclient.UsageStart{InputTokens: 12},
		modelclient.BlockStart{Index: 0, Kind: modelclient.BlockToolUse, ID: id, Name: name},
		modelclient.BlockStop{Index: 0, ToolUse: &modelclient.ToolUse{ID: id, Name: name, Input: input}},
		modelclient.Usage{OutputTokens: 7},
		modelclient.StopReason{Reason: "tool_use"},
		modelclient.MessageStop{},
	}
}

func newTestOrchestrator(t *testing.T, model ModelStreamer, register func(e *tools.Executor)) (*Orchestrator, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(zerolog.Nop())
	executor := tools.NewExecutor(zerolog.Nop())
	if register != nil {
		register(executor)
	}
	orch, err := New(Config{
		Store:    store,
		Model:    model,
		Executor: executor,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return orch, store
}

func waitTerminal(t *testing.T, orch *Orchestrator, id string) ([]conversation.Chunk, conversation.Status, string) {
	t.Helper()
	var (
		chunks []conversation.Chunk
		status conversation.Status
		text   string
	)
	require.Eventually(t, func() bool {
		drained, st, full := orch.Poll(id)
		chunks = append(chunks, drained...)
		status = st
		text = full
		return st.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return chunks, status, text
}

func chunkTypes(chunks []conversation.Chunk) []conversation.ChunkType {
	types := make([]conversation.ChunkType, 0, len(chunks))
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	return types
}

func TestSingleTurnNoTools(t *testing.T) {
	model := &fakeModel{turns: [][]modelclient.Event{textTurn("Hi", " there", "!")}}
	orch, store := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "Hello"))
	chunks, status, text := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusCompleted, status)
	assert.Equal(t, "Hi there!", text)
	require.Len(t, chunks, 4)
	assert.Equal(t, []conversation.ChunkType{
		conversation.ChunkTextDelta,
		conversation.ChunkTextDelta,
		conversation.ChunkTextDelta,
		conversation.ChunkFinish,
	}, chunkTypes(chunks))
	assert.Equal(t, "Hi", chunks[0].Text)

	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	messages := conv.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, conversation.RoleUser, messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, messages[1].Role)
	assert.Equal(t, conversation.TextPart{Text: "Hi there!"}, messages[1].Parts[0])
}

func TestSingleToolRoundTrip(t *testing.T) {
	model := &fakeModel{turns: [][]modelclient.Event{
		toolTurn("toolu_1", "get_cache_statistics", map[string]interface{}{}),
		textTurn("ok"),
	}}
	orch, store := newTestOrchestrator(t, model, func(e *tools.Executor) {
		require.NoError(t, e.Register(tools.Definition{
			Name:        "get_cache_statistics",
			Description: "stats",
			Handler: func(ctx context.Context, input map[string]interface{}, inv tools.Invocation) (interface{}, error) {
				return map[string]interface{}{"totalRequests": 3}, nil
			},
		}))
	})

	require.NoError(t, orch.Start("conv-1", "tab-1", "How many requests?"))
	chunks, status, text := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusCompleted, status)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []conversation.ChunkType{
		conversation.ChunkToolCall,
		conversation.ChunkToolResult,
		conversation.ChunkTextDelta,
		conversation.ChunkFinish,
	}, chunkTypes(chunks))
	assert.Equal(t, "get_cache_statistics", chunks[0].Name)
	assert.Equal(t, "toolu_1", chunks[1].ID)

	// The tool round trip lands in one assistant message before the
	// second model call.
	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	messages := conv.Messages()
	require.Len(t, messages, 3)
	toolMsg := messages[1]
	require.Len(t, toolMsg.Parts, 2)
	use, isUse := toolMsg.Parts[0].(conversation.ToolUsePart)
	require.True(t, isUse)
	res, isRes := toolMsg.Parts[1].(conversation.ToolResultPart)
	require.True(t, isRes)
	assert.Equal(t, use.ID, res.ToolUseID)
	assert.False(t, res.IsError)
	assert.Equal(t, `{"totalRequests":3}`, res.Content)

	assert.Equal(t, 2, model.callCount())
	model.mu.Lock()
	secondCall := model.requests[1]
	model.mu.Unlock()
	require.Len(t, secondCall.Messages, 2)
}

func TestEndTurnWithToolUseCompletes(t *testing.T) {
	// The model may call a tool and stop with end_turn in the same
	// turn. The tool still runs so the history stays paired, but no
	// second model call follows.
	turn := []modelclient.Event{
		modelclient.UsageStart{InputTokens: 12},
		modelclient.BlockStart{Index: 0, Kind: modelclient.BlockToolUse, ID: "toolu_1", Name: "get_cache_statistics"},
		modelclient.BlockStop{Index: 0, ToolUse: &modelclient.ToolUse{ID: "toolu_1", Name: "get_cache_statistics", Input: map[string]interface{}{}}},
		modelclient.Usage{OutputTokens: 7},
		modelclient.StopReason{Reason: "end_turn"},
		modelclient.MessageStop{},
	}
	model := &fakeModel{turns: [][]modelclient.Event{turn, textTurn("never")}}
	orch, store := newTestOrchestrator(t, model, func(e *tools.Executor) {
		require.NoError(t, e.Register(tools.Definition{
			Name:        "get_cache_statistics",
			Description: "stats",
			Handler: func(ctx context.Context, input map[string]interface{}, inv tools.Invocation) (interface{}, error) {
				return map[string]interface{}{"totalRequests": 0}, nil
			},
		}))
	})

	require.NoError(t, orch.Start("conv-1", "tab-1", "stats please"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusCompleted, status)
	assert.Equal(t, []conversation.ChunkType{
		conversation.ChunkToolCall,
		conversation.ChunkToolResult,
		conversation.ChunkFinish,
	}, chunkTypes(chunks))
	assert.Equal(t, 1, model.callCount())

	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	messages := conv.Messages()
	require.Len(t, messages, 2)
	toolMsg := messages[1]
	require.Len(t, toolMsg.Parts, 2)
	use, isUse := toolMsg.Parts[0].(conversation.ToolUsePart)
	require.True(t, isUse)
	res, isRes := toolMsg.Parts[1].(conversation.ToolResultPart)
	require.True(t, isRes)
	assert.Equal(t, use.ID, res.ToolUseID)
}

func TestToolArgsParseFailureCompletes(t *testing.T) {
	turn := []modelclient.Event{
		modelclient.UsageStart{InputTokens: 12},
		modelclient.BlockStart{Index: 0, Kind: modelclient.BlockToolUse, ID: "toolu_1", Name: "get_request_details"},
		modelclient.ToolArgsParseError{Index: 0, Name: "get_request_details", Err: context.DeadlineExceeded},
		modelclient.BlockStop{Index: 0},
		modelclient.Usage{OutputTokens: 7},
		modelclient.StopReason{Reason: "end_turn"},
		modelclient.MessageStop{},
	}
	model := &fakeModel{turns: [][]modelclient.Event{turn}}
	orch, _ := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "inspect"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusCompleted, status)
	require.Len(t, chunks, 2)
	assert.Equal(t, conversation.ChunkError, chunks[0].Type)
	assert.Contains(t, chunks[0].Error, "could not be parsed")
	assert.Equal(t, conversation.ChunkFinish, chunks[1].Type)
	assert.Equal(t, 1, model.callCount())
}

func TestLoopDetection(t *testing.T) {
	misuse := toolTurn("toolu_x", "get_request_details", map[string]interface{}{})
	model := &fakeModel{turns: [][]modelclient.Event{misuse, misuse, misuse, misuse}}
	orch, _ := newTestOrchestrator(t, model, func(e *tools.Executor) {
		require.NoError(t, e.Register(tools.Definition{
			Name:        "get_request_details",
			Description: "lookup",
			Handler: func(ctx context.Context, input map[string]interface{}, inv tools.Invocation) (interface{}, error) {
				return tools.Errorf("Request not found: "), nil
			},
		}))
	})

	require.NoError(t, orch.Start("conv-1", "tab-1", "inspect"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusError, status)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, conversation.ChunkError, last.Type)
	assert.Equal(t, "model is repeatedly misusing tool get_request_details", last.Error)
	assert.Equal(t, 3, model.callCount())
}

func TestAbortMidStream(t *testing.T) {
	model := &fakeModel{blocking: true}
	orch, store := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "Hello"))
	require.Eventually(t, func() bool { return model.callCount() == 1 }, time.Second, 5*time.Millisecond)

	orch.Abort("conv-1")
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusAborted, status)
	for _, c := range chunks {
		assert.NotEqual(t, conversation.ChunkFinish, c.Type)
		assert.NotEqual(t, conversation.ChunkError, c.Type)
	}

	// Abort is idempotent and appends nothing further.
	orch.Abort("conv-1")
	drained, status, _ := orch.Poll("conv-1")
	assert.Empty(t, drained)
	assert.Equal(t, conversation.StatusAborted, status)

	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, conversation.StatusAborted, conv.Status())
}

func TestModelOpenErrorFailsConversation(t *testing.T) {
	model := &fakeModel{openErr: &modelclient.HTTPError{Status: 429, Body: `{"type":"rate_limit_error"}`}}
	orch, store := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "Hello"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusError, status)
	require.Len(t, chunks, 1)
	assert.Equal(t, conversation.ChunkError, chunks[0].Type)
	assert.Contains(t, chunks[0].Error, "model request failed")

	// The unprocessed user message is rolled back.
	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	assert.Empty(t, conv.Messages())
}

func TestTurnCapExceeded(t *testing.T) {
	looping := toolTurn("toolu_x", "probe", map[string]interface{}{})
	model := &fakeModel{turns: [][]modelclient.Event{looping}}
	store := conversation.NewStore(zerolog.Nop())
	executor := tools.NewExecutor(zerolog.Nop())
	require.NoError(t, executor.Register(tools.Definition{
		Name:        "probe",
		Description: "always succeeds",
		Handler: func(ctx context.Context, input map[string]interface{}, inv tools.Invocation) (interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	}))
	orch, err := New(Config{
		Store:    store,
		Model:    model,
		Executor: executor,
		Logger:   zerolog.Nop(),
		MaxTurns: 4,
	})
	require.NoError(t, err)

	require.NoError(t, orch.Start("conv-1", "tab-1", "go"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusError, status)
	last := chunks[len(chunks)-1]
	assert.Equal(t, conversation.ChunkError, last.Type)
	assert.Contains(t, last.Error, "exceeded 4 turns")
	assert.Equal(t, 4, model.callCount())
}

func TestUnknownToolIsRecoverable(t *testing.T) {
	model := &fakeModel{turns: [][]modelclient.Event{
		toolTurn("toolu_1", "take_screenshot", map[string]interface{}{}),
		textTurn("understood"),
	}}
	orch, _ := newTestOrchestrator(t, model, func(e *tools.Executor) {
		require.NoError(t, e.Register(tools.Definition{
			Name:        "get_cache_statistics",
			Description: "stats",
			Handler: func(ctx context.Context, input map[string]interface{}, inv tools.Invocation) (interface{}, error) {
				return map[string]interface{}{}, nil
			},
		}))
	})

	require.NoError(t, orch.Start("conv-1", "tab-1", "screenshot please"))
	chunks, status, _ := waitTerminal(t, orch, "conv-1")

	assert.Equal(t, conversation.StatusCompleted, status)
	var resultChunk *conversation.Chunk
	for i := range chunks {
		if chunks[i].Type == conversation.ChunkToolResult {
			resultChunk = &chunks[i]
			break
		}
	}
	require.NotNil(t, resultChunk)
	errMap, ok := resultChunk.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, errMap["error"], "unknown tool")
	assert.Contains(t, errMap["error"], "get_cache_statistics")
}

func TestStartRefusedWhileStreaming(t *testing.T) {
	model := &fakeModel{blocking: true}
	orch, _ := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "first"))
	require.Eventually(t, func() bool { return model.callCount() == 1 }, time.Second, 5*time.Millisecond)

	err := orch.Start("conv-1", "tab-1", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still streaming")

	orch.Abort("conv-1")
	waitTerminal(t, orch, "conv-1")
}

func TestRestartAfterCompletion(t *testing.T) {
	model := &fakeModel{turns: [][]modelclient.Event{
		textTurn("first answer"),
		textTurn("second answer"),
	}}
	orch, store := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "one"))
	_, status, _ := waitTerminal(t, orch, "conv-1")
	require.Equal(t, conversation.StatusCompleted, status)

	require.NoError(t, orch.Start("conv-1", "tab-1", "two"))
	_, status, text := waitTerminal(t, orch, "conv-1")
	assert.Equal(t, conversation.StatusCompleted, status)
	assert.Equal(t, "second answer", text)

	conv, ok := store.Get("conv-1")
	require.True(t, ok)
	assert.Len(t, conv.Messages(), 4)
}

func TestCleanupIdempotent(t *testing.T) {
	model := &fakeModel{turns: [][]modelclient.Event{textTurn("hi")}}
	orch, store := newTestOrchestrator(t, model, nil)

	require.NoError(t, orch.Start("conv-1", "tab-1", "hello"))
	waitTerminal(t, orch, "conv-1")

	orch.Cleanup("conv-1")
	orch.Cleanup("conv-1")
	assert.Equal(t, 0, store.Len())

	_, status, _ := orch.Poll("conv-1")
	assert.Equal(t, conversation.StatusAborted, status)
}
