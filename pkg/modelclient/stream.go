package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/rs/zerolog"
)

// blockState buffers one in-flight content block keyed by wire index.
type blockState struct {
	kind BlockKind
	id   string
	name string
	args strings.Builder
}

// Stream is the typed event sequence of one model call. It is not safe
// for concurrent use; the orchestrator's loop is its only consumer.
type Stream struct {
	ctx     context.Context
	decoder ssestream.Decoder
	blocks  map[int]*blockState
	queue   []Event
	current Event
	err     error
	stopped bool
	logger  zerolog.Logger
}

func newStream(ctx context.Context, resp *http.Response, logger zerolog.Logger) *Stream {
	return &Stream{
		ctx:     ctx,
		decoder: ssestream.NewDecoder(resp),
		blocks:  make(map[int]*blockState),
		logger:  logger,
	}
}

// Next advances to the next protocol event.
func (s *Stream) Next() bool {
	if s.err != nil || s.stopped {
		return s.popQueued()
	}
	if s.popQueued() {
		return true
	}
	for s.decoder.Next() {
		frame := s.decoder.Event()
		s.handleFrame(frame.Type, []byte(frame.Data))
		if s.popQueued() {
			return true
		}
		if s.stopped {
			return false
		}
	}
	if err := s.decoder.Err(); err != nil && s.ctx.Err() == nil {
		s.err = &TransportError{Err: err}
	}
	return false
}

// Current returns the event Next advanced to.
func (s *Stream) Current() Event { return s.current }

// Err returns the stream failure, if any. Cancellation is a clean
// termination, not an error.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying response body.
func (s *Stream) Close() error { return s.decoder.Close() }

func (s *Stream) popQueued() bool {
	if len(s.queue) == 0 {
		return false
	}
	s.current = s.queue[0]
	s.queue = s.queue[1:]
	return true
}

func (s *Stream) emit(ev Event) {
	s.queue = append(s.queue, ev)
}

// handleFrame maps one completed SSE record to protocol events. Unknown
// event names are ignored; malformed payloads are logged and skipped so
// the stream survives them.
func (s *Stream) handleFrame(name string, data []byte) {
	switch name {
	case "message_start":
		var p messageStartPayload
		if !s.decode(name, data, &p) {
			return
		}
		s.emit(UsageStart{InputTokens: p.Message.Usage.InputTokens})

	case "content_block_start":
		var p blockStartPayload
		if !s.decode(name, data, &p) {
			return
		}
		switch p.ContentBlock.Type {
		case "tool_use":
			s.blocks[p.Index] = &blockState{kind: BlockToolUse, id: p.ContentBlock.ID, name: p.ContentBlock.Name}
			s.emit(BlockStart{Index: p.Index, Kind: BlockToolUse, ID: p.ContentBlock.ID, Name: p.ContentBlock.Name})
		default:
			s.blocks[p.Index] = &blockState{kind: BlockText}
			s.emit(BlockStart{Index: p.Index, Kind: BlockText})
		}

	case "content_block_delta":
		var p blockDeltaPayload
		if !s.decode(name, data, &p) {
			return
		}
		switch p.Delta.Type {
		case "text_delta":
			s.emit(TextDelta{Index: p.Index, Text: p.Delta.Text})
		case "input_json_delta":
			if b, ok := s.blocks[p.Index]; ok && b.kind == BlockToolUse {
				b.args.WriteString(p.Delta.PartialJSON)
			}
			s.emit(ToolArgsDelta{Index: p.Index, Fragment: p.Delta.PartialJSON})
		}

	case "content_block_stop":
		var p blockStopPayload
		if !s.decode(name, data, &p) {
			return
		}
		block := s.blocks[p.Index]
		delete(s.blocks, p.Index)
		if block == nil || block.kind != BlockToolUse {
			s.emit(BlockStop{Index: p.Index})
			return
		}
		raw := block.args.String()
		if raw == "" {
			raw = "{}"
		}
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			s.logger.Warn().
				Int("index", p.Index).
				Str("tool", block.name).
				Err(err).
				Msg("Tool arguments never parsed")
			s.emit(ToolArgsParseError{Index: p.Index, Name: block.name, Err: fmt.Errorf("tool arguments are not valid JSON: %w", err)})
			s.emit(BlockStop{Index: p.Index})
			return
		}
		s.emit(BlockStop{Index: p.Index, ToolUse: &ToolUse{ID: block.id, Name: block.name, Input: input}})

	case "message_delta":
		var p messageDeltaPayload
		if !s.decode(name, data, &p) {
			return
		}
		s.emit(Usage{OutputTokens: p.Usage.OutputTokens})
		if p.Delta.StopReason != "" {
			s.emit(StopReason{Reason: p.Delta.StopReason})
		}

	case "message_stop":
		s.emit(MessageStop{})
		s.stopped = true
	}
}

func (s *Stream) decode(name string, data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn().Str("event", name).Err(err).Msg("Skipping malformed SSE payload")
		return false
	}
	return true
}
