package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
	"github.com/halcyon-sec/vigil/pkg/tools"
)

// serializeResult renders a tool result as the string form history
// carries. Strings pass through; everything else is JSON.
func serializeResult(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

// turnResult is what one streamed model turn folds down to.
type turnResult struct {
	text       string
	toolUses   []modelclient.ToolUse
	stopReason string
	tokensIn   int
	tokensOut  int
}

// run is the conversation loop. It owns the conversation until a
// terminal transition.
func (o *Orchestrator) run(ctx context.Context, conv *conversation.Conversation) {
	logger := o.logger.With().
		Str("conversation_id", conv.ID).
		Str("target_id", conv.TargetID).
		Logger()
	start := time.Now()
	defer func() {
		status := conv.Status()
		observability.RecordConversationFinished(string(status), time.Since(start))
		observability.RecordConversationAudit("conversation_finished", conv.ID, conv.TargetID, string(status))
		logger.Info().
			Str("status", string(status)).
			Dur("elapsed", time.Since(start)).
			Msg("Conversation finished")
	}()

	for turn := 0; turn < o.maxTurns; turn++ {
		if ctx.Err() != nil {
			conv.MarkAborted()
			return
		}

		conv.Trim(o.maxHistory)
		observability.RecordTurn()

		result, ok := o.streamTurn(ctx, conv, logger)
		if !ok {
			return
		}
		conv.AddUsage(result.tokensIn, result.tokensOut)
		observability.AddModelTokens(result.tokensIn, result.tokensOut)

		parts := make([]conversation.Part, 0, 1+2*len(result.toolUses))
		if result.text != "" {
			parts = append(parts, conversation.TextPart{Text: result.text})
		}

		if len(result.toolUses) == 0 {
			// Either a natural end of turn, or every tool_use in the
			// turn failed to parse; both finish the conversation.
			if len(parts) > 0 {
				conv.AppendMessage(conversation.Message{Role: conversation.RoleAssistant, Parts: parts})
			}
			conv.Complete()
			return
		}

		loopTool := ""
		for _, use := range result.toolUses {
			parts = append(parts, conversation.ToolUsePart{ID: use.ID, Name: use.Name, Input: use.Input})

			value, err := o.executor.Execute(ctx, use.Name, use.Input, tools.Invocation{TargetID: conv.TargetID})
			if err != nil {
				if ctx.Err() != nil {
					conv.MarkAborted()
					return
				}
				// Unknown tool names come back as Go errors; the model
				// sees them as structured is_error results.
				value = tools.Errorf("%v", err)
			}

			isError := tools.IsErrorResult(value)
			parts = append(parts, conversation.ToolResultPart{
				ToolUseID: use.ID,
				Content:   serializeResult(value),
				IsError:   isError,
			})
			conv.AppendChunk(conversation.ToolResultChunk(use.ID, use.Name, value))

			if isError {
				if fails := conv.RecordToolFailure(use.Name); fails >= o.loopThreshold && loopTool == "" {
					loopTool = use.Name
				}
			} else {
				conv.RecordToolSuccess()
			}
		}

		conv.AppendMessage(conversation.Message{Role: conversation.RoleAssistant, Parts: parts})

		if loopTool != "" {
			logger.Warn().Str("tool", loopTool).Msg("Tool failure loop detected")
			conv.Fail(fmt.Sprintf("model is repeatedly misusing tool %s", loopTool))
			return
		}

		// A turn can carry tool calls and still stop with end_turn. The
		// tools run so the history stays paired, but the model does not
		// get another call.
		if result.stopReason == "end_turn" {
			conv.Complete()
			return
		}
	}

	logger.Warn().Int("max_turns", o.maxTurns).Msg("Turn cap exceeded")
	conv.Fail(fmt.Sprintf("conversation exceeded %d turns", o.maxTurns))
}

// streamTurn makes one model call and folds its event stream. It returns
// ok=false when the conversation reached a terminal state.
func (o *Orchestrator) streamTurn(ctx context.Context, conv *conversation.Conversation, logger zerolog.Logger) (turnResult, bool) {
	req := modelclient.Request{
		System:      o.systemPrompt,
		Messages:    conv.Messages(),
		Tools:       o.executor.Schemas(),
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	callStart := time.Now()
	stream, err := o.model.Stream(ctx, req)
	if err != nil {
		observability.RecordModelStream(time.Since(callStart), false)
		if ctx.Err() != nil {
			conv.MarkAborted()
			return turnResult{}, false
		}
		logger.Error().Err(err).Msg("Model call failed")
		conv.Fail(fmt.Sprintf("model request failed: %v", err))
		return turnResult{}, false
	}
	defer stream.Close()

	var (
		result  turnResult
		textBuf strings.Builder
	)
	for stream.Next() {
		switch ev := stream.Current().(type) {
		case modelclient.UsageStart:
			result.tokensIn = ev.InputTokens
		case modelclient.TextDelta:
			textBuf.WriteString(ev.Text)
			conv.AppendChunk(conversation.TextDeltaChunk(ev.Text))
		case modelclient.ToolArgsParseError:
			logger.Warn().Int("index", ev.Index).Str("tool", ev.Name).Err(ev.Err).Msg("Tool arguments unparsable")
			conv.AppendChunk(conversation.ErrorChunk(
				fmt.Sprintf("tool arguments for %s at block %d could not be parsed", ev.Name, ev.Index)))
		case modelclient.BlockStop:
			if ev.ToolUse != nil {
				use := *ev.ToolUse
				result.toolUses = append(result.toolUses, use)
				conv.AppendChunk(conversation.ToolCallChunk(use.ID, use.Name, use.Input))
			}
		case modelclient.Usage:
			result.tokensOut = ev.OutputTokens
		case modelclient.StopReason:
			result.stopReason = ev.Reason
		}
	}

	if err := stream.Err(); err != nil {
		observability.RecordModelStream(time.Since(callStart), false)
		logger.Error().Err(err).Msg("Model stream failed")
		conv.Fail(fmt.Sprintf("model stream failed: %v", err))
		return turnResult{}, false
	}
	if ctx.Err() != nil {
		observability.RecordModelStream(time.Since(callStart), false)
		conv.MarkAborted()
		return turnResult{}, false
	}
	observability.RecordModelStream(time.Since(callStart), true)

	result.text = textBuf.String()
	return result, true
}
