package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
	"github.com/halcyon-sec/vigil/pkg/tools"
)

const (
	// DefaultMaxTurns caps model round-trips per conversation.
	DefaultMaxTurns = 500
	// DefaultLoopThreshold is the consecutive same-tool failure count
	// that terminates a conversation.
	DefaultLoopThreshold = 3
	// DefaultMaxTokens is the per-turn completion budget.
	DefaultMaxTokens = 4096
)

// ModelStream is the event iterator a model call yields.
type ModelStream interface {
	Next() bool
	Current() modelclient.Event
	Err() error
	Close() error
}

// ModelStreamer opens streaming model calls.
type ModelStreamer interface {
	Stream(ctx context.Context, req modelclient.Request) (ModelStream, error)
}

type clientStreamer struct {
	client *modelclient.Client
}

func (s clientStreamer) Stream(ctx context.Context, req modelclient.Request) (ModelStream, error) {
	return s.client.Stream(ctx, req)
}

// NewModelStreamer adapts a model client to the ModelStreamer interface.
func NewModelStreamer(c *modelclient.Client) ModelStreamer {
	return clientStreamer{client: c}
}

// Config holds orchestrator configuration.
type Config struct {
	Store    *conversation.Store
	Model    ModelStreamer
	Executor *tools.Executor
	Logger   zerolog.Logger

	SystemPrompt  string
	MaxTurns      int
	MaxHistory    int
	MaxTokens     int
	LoopThreshold int
	Temperature   float64
}

// Orchestrator owns the conversation loops.
type Orchestrator struct {
	store    *conversation.Store
	model    ModelStreamer
	executor *tools.Executor
	logger   zerolog.Logger

	systemPrompt  string
	maxTurns      int
	maxHistory    int
	maxTokens     int
	loopThreshold int
	temperature   float64

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("model streamer is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = conversation.DefaultMaxHistoryMessages
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.LoopThreshold <= 0 {
		cfg.LoopThreshold = DefaultLoopThreshold
	}

	return &Orchestrator{
		store:         cfg.Store,
		model:         cfg.Model,
		executor:      cfg.Executor,
		logger:        cfg.Logger,
		systemPrompt:  cfg.SystemPrompt,
		maxTurns:      cfg.MaxTurns,
		maxHistory:    cfg.MaxHistory,
		maxTokens:     cfg.MaxTokens,
		loopThreshold: cfg.LoopThreshold,
		temperature:   cfg.Temperature,
	}, nil
}

// Start begins or restarts a conversation with a user prompt. A
// conversation that is still streaming refuses the new prompt.
func (o *Orchestrator) Start(conversationID, targetID, prompt string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	conv, created := o.store.Create(conversationID, targetID)
	if !created {
		if !conv.Restart() {
			return fmt.Errorf("conversation %s is still streaming", conversationID)
		}
		o.logger.Info().Str("conversation_id", conversationID).Msg("Conversation restarted")
	}

	conv.AppendMessage(conversation.Message{
		Role:  conversation.RoleUser,
		Parts: []conversation.Part{conversation.TextPart{Text: prompt}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	conv.BindCancel(cancel)
	observability.SetActiveConversations(o.store.Len())
	observability.RecordConversationAudit("conversation_started", conversationID, targetID, "pending")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(ctx, conv)
	}()

	return nil
}

// Poll drains and returns the buffered chunks with the current status
// and accumulated text. Unknown ids report an empty aborted view.
func (o *Orchestrator) Poll(conversationID string) ([]conversation.Chunk, conversation.Status, string) {
	conv, ok := o.store.Get(conversationID)
	if !ok {
		return nil, conversation.StatusAborted, ""
	}
	return conv.Drain()
}

// Abort cancels a running conversation. Idempotent; unknown ids are
// no-ops.
func (o *Orchestrator) Abort(conversationID string) {
	conv, ok := o.store.Get(conversationID)
	if !ok {
		o.logger.Debug().Str("conversation_id", conversationID).Msg("No conversation to abort")
		return
	}
	conv.Abort()
}

// Cleanup aborts and removes a conversation. Idempotent.
func (o *Orchestrator) Cleanup(conversationID string) {
	if conv, ok := o.store.Get(conversationID); ok {
		conv.Abort()
	}
	o.store.Delete(conversationID)
	observability.SetActiveConversations(o.store.Len())
}

// AbortAll cancels every registered conversation. Intended for shutdown
// paths, followed by Wait.
func (o *Orchestrator) AbortAll() {
	for _, id := range o.store.IDs() {
		o.Abort(id)
	}
}

// Wait blocks until every conversation loop has exited. Intended for
// shutdown paths.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
