package conversation

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMaxHistoryMessages bounds the message history length.
const DefaultMaxHistoryMessages = 10

// Conversation is the exclusive record of one agent run. All methods are
// safe for concurrent use; the orchestrator mutates it from its loop task
// while consumers drain chunks from their own tasks.
type Conversation struct {
	ID       string
	TargetID string

	mu         sync.Mutex
	status     Status
	messages   []Message
	chunks     []Chunk
	fullText   strings.Builder
	cancel     context.CancelFunc
	tokensIn   int
	tokensOut  int
	lastTool   string
	toolFails  int
	createdAt  time.Time
	finishedAt time.Time
}

// New creates a conversation in the streaming state.
func New(id, targetID string) *Conversation {
	return &Conversation{
		ID:        id,
		TargetID:  targetID,
		status:    StatusStreaming,
		createdAt: time.Now(),
	}
}

// Status returns the current lifecycle state.
func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// BindCancel attaches the cancel handle for the current run. A fresh run
// through Restart replaces the handle.
func (c *Conversation) BindCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
}

// Abort triggers the conversation's cancel handle. Idempotent; the status
// transition happens when the running loop observes the cancellation.
func (c *Conversation) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Restart prepares a terminal conversation for resubmission: history and
// token counters are retained, status returns to streaming, loop-detection
// state, the chunk buffer, the assembled text, and the terminal timestamp
// are cleared. It reports false while a run is still streaming.
func (c *Conversation) Restart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusStreaming {
		return false
	}
	c.status = StatusStreaming
	c.lastTool = ""
	c.toolFails = 0
	c.chunks = nil
	c.fullText.Reset()
	c.finishedAt = time.Time{}
	return true
}

// AppendMessage appends one history entry.
func (c *Conversation) AppendMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Trim bounds the history to max messages, dropping oldest entries first.
// The retained suffix always starts at a user-message boundary so the
// history stays a valid alternation: tool_use and tool_result parts live
// inside one assistant message and are never split. It returns the
// trimmed view.
func (c *Conversation) Trim(max int) []Message {
	if max <= 0 {
		max = DefaultMaxHistoryMessages
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) > max {
		c.messages = c.messages[len(c.messages)-max:]
	}
	// Advance past any leading assistant messages left by the cut.
	start := 0
	for start < len(c.messages) && c.messages[start].Role != RoleUser {
		start++
	}
	if start > 0 {
		c.messages = c.messages[start:]
	}

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// AppendChunk buffers one outbound chunk. Chunks arriving after a terminal
// transition are dropped; the terminal finish/error chunk is emitted by the
// transition itself.
func (c *Conversation) AppendChunk(ch Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.appendChunkLocked(ch)
}

func (c *Conversation) appendChunkLocked(ch Chunk) {
	c.chunks = append(c.chunks, ch)
	if ch.Type == ChunkTextDelta {
		c.fullText.WriteString(ch.Text)
	}
}

// Drain atomically returns the buffered chunks, the status, and the
// accumulated assistant text, emptying the buffer.
func (c *Conversation) Drain() ([]Chunk, Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks := c.chunks
	c.chunks = nil
	return chunks, c.status, c.fullText.String()
}

// Complete transitions to completed and emits the finish chunk. A no-op if
// the conversation is already terminal.
func (c *Conversation) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.status = StatusCompleted
	c.finishedAt = time.Now()
	c.appendChunkLocked(FinishChunk())
}

// Fail transitions to error and emits one error chunk. A trailing user
// message is removed so resubmission does not double it. A no-op if the
// conversation is already terminal.
func (c *Conversation) Fail(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.status = StatusError
	c.finishedAt = time.Now()
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == RoleUser {
		c.messages = c.messages[:n-1]
	}
	c.appendChunkLocked(ErrorChunk(msg))
}

// MarkAborted transitions to aborted. Cancellation is not an error: no
// chunk is emitted. A no-op if the conversation is already terminal.
func (c *Conversation) MarkAborted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.status = StatusAborted
	c.finishedAt = time.Now()
}

// AddUsage accumulates token counters reported by the model.
func (c *Conversation) AddUsage(tokensIn, tokensOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokensIn += tokensIn
	c.tokensOut += tokensOut
}

// Usage returns the cumulative token counters.
func (c *Conversation) Usage() (tokensIn, tokensOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokensIn, c.tokensOut
}

// RecordToolFailure notes one failing tool execution and returns the
// consecutive-failure count for that tool.
func (c *Conversation) RecordToolFailure(tool string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTool == tool {
		c.toolFails++
	} else {
		c.lastTool = tool
		c.toolFails = 1
	}
	return c.toolFails
}

// RecordToolSuccess resets the loop-detection state.
func (c *Conversation) RecordToolSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTool = ""
	c.toolFails = 0
}

// FinishedAt returns when the conversation reached a terminal state, or the
// zero time while streaming.
func (c *Conversation) FinishedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishedAt
}
