package modelclient

import (
	"github.com/halcyon-sec/vigil/pkg/conversation"
)

// ToolSchema is the JSON-schema form of a tool definition sent to the
// model.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request carries one model call.
type Request struct {
	System      string
	Messages    []conversation.Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
}

// encodeMessages maps the structured history to the vendor wire form. The
// internal model keeps tool_result parts inside the assistant message that
// requested them; the wire format wants them in a user message that
// follows, so assistant entries carrying results are split in two.
func encodeMessages(msgs []conversation.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			var blocks []map[string]interface{}
			for _, p := range m.Parts {
				if tp, ok := p.(conversation.TextPart); ok {
					blocks = append(blocks, map[string]interface{}{
						"type": "text",
						"text": tp.Text,
					})
				}
			}
			if len(blocks) > 0 {
				out = append(out, map[string]interface{}{"role": "user", "content": blocks})
			}

		case conversation.RoleAssistant:
			var blocks, results []map[string]interface{}
			for _, p := range m.Parts {
				switch part := p.(type) {
				case conversation.TextPart:
					blocks = append(blocks, map[string]interface{}{
						"type": "text",
						"text": part.Text,
					})
				case conversation.ToolUsePart:
					input := part.Input
					if input == nil {
						input = map[string]interface{}{}
					}
					blocks = append(blocks, map[string]interface{}{
						"type":  "tool_use",
						"id":    part.ID,
						"name":  part.Name,
						"input": input,
					})
				case conversation.ToolResultPart:
					block := map[string]interface{}{
						"type":        "tool_result",
						"tool_use_id": part.ToolUseID,
						"content":     part.Content,
					}
					if part.IsError {
						block["is_error"] = true
					}
					results = append(results, block)
				}
			}
			if len(blocks) > 0 {
				out = append(out, map[string]interface{}{"role": "assistant", "content": blocks})
			}
			if len(results) > 0 {
				out = append(out, map[string]interface{}{"role": "user", "content": results})
			}
		}
	}
	return out
}

// Inbound SSE payloads; only the fields the protocol subset uses.

type messageStartPayload struct {
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type blockStartPayload struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type blockDeltaPayload struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type blockStopPayload struct {
	Index int `json:"index"`
}

type messageDeltaPayload struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
