package conversation

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAborted
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one typed element of a message's content.
type Part interface {
	part()
}

// TextPart is a plain text fragment.
type TextPart struct {
	Text string `json:"text"`
}

// ToolUsePart records a model-requested tool invocation.
type ToolUsePart struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResultPart records the outcome of a tool invocation. Content is the
// serialized result handed back to the model.
type ToolResultPart struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (TextPart) part()       {}
func (ToolUsePart) part()    {}
func (ToolResultPart) part() {}

// Message is one entry of the conversation history.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// ToolUses returns the tool_use parts of the message in order.
func (m Message) ToolUses() []ToolUsePart {
	var uses []ToolUsePart
	for _, p := range m.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// ChunkType tags an outbound stream chunk.
type ChunkType string

const (
	ChunkTextDelta  ChunkType = "text_delta"
	ChunkToolCall   ChunkType = "tool_call"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
	ChunkFinish     ChunkType = "finish"
)

// Chunk is a single outbound event buffered for consumer polling.
type Chunk struct {
	Type   ChunkType              `json:"type"`
	Text   string                 `json:"text,omitempty"`
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result interface{}            `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// TextDeltaChunk builds a text_delta chunk.
func TextDeltaChunk(text string) Chunk {
	return Chunk{Type: ChunkTextDelta, Text: text}
}

// ToolCallChunk builds a tool_call chunk.
func ToolCallChunk(id, name string, args map[string]interface{}) Chunk {
	return Chunk{Type: ChunkToolCall, ID: id, Name: name, Args: args}
}

// ToolResultChunk builds a tool_result chunk.
func ToolResultChunk(id, name string, result interface{}) Chunk {
	return Chunk{Type: ChunkToolResult, ID: id, Name: name, Result: result}
}

// ErrorChunk builds an error chunk.
func ErrorChunk(msg string) Chunk {
	return Chunk{Type: ChunkError, Error: msg}
}

// FinishChunk builds a finish chunk.
func FinishChunk() Chunk {
	return Chunk{Type: ChunkFinish}
}
