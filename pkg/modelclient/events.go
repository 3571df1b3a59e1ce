package modelclient

// BlockKind distinguishes content-block types within a model message.
type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// Event is one typed protocol event decoded from the model's SSE stream.
type Event interface {
	event()
}

// UsageStart reports the prompt token count at message start.
type UsageStart struct {
	InputTokens int
}

// BlockStart opens a content block at the given wire index.
type BlockStart struct {
	Index int
	Kind  BlockKind
	ID    string // tool_use only
	Name  string // tool_use only
}

// TextDelta carries a text fragment for a text block.
type TextDelta struct {
	Index int
	Text  string
}

// ToolArgsDelta carries a JSON fragment of a tool_use block's arguments.
type ToolArgsDelta struct {
	Index    int
	Fragment string
}

// ToolUse is a completed tool invocation assembled at block stop.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolArgsParseError reports that a tool_use block's accumulated argument
// JSON never parsed; no tool call is produced for the block.
type ToolArgsParseError struct {
	Index int
	Name  string
	Err   error
}

// BlockStop closes a content block. For tool_use blocks whose arguments
// parsed, ToolUse carries the completed invocation.
type BlockStop struct {
	Index   int
	ToolUse *ToolUse
}

// Usage reports the output token count from a message delta.
type Usage struct {
	OutputTokens int
}

// StopReason reports why the model stopped (end_turn, tool_use, ...).
type StopReason struct {
	Reason string
}

// MessageStop terminates the event sequence for one model call.
type MessageStop struct{}

func (UsageStart) event()         {}
func (BlockStart) event()         {}
func (TextDelta) event()          {}
func (ToolArgsDelta) event()      {}
func (ToolArgsParseError) event() {}
func (BlockStop) event()          {}
func (Usage) event()              {}
func (StopReason) event()         {}
func (MessageStop) event()        {}
