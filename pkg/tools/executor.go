package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
)

// Invocation carries the per-conversation context every tool runs under.
type Invocation struct {
	TargetID string
}

// Handler executes one tool call. Recoverable failures are returned as
// Errorf results, not Go errors.
type Handler func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     Handler
}

// UnknownToolError means the model called a name that is not registered.
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q; available tools: %s", e.Name, strings.Join(e.Available, ", "))
}

// Errorf builds the structured error result handed back to the model.
func Errorf(format string, args ...interface{}) map[string]interface{} {
	return map[string]interface{}{"error": fmt.Sprintf(format, args...)}
}

// IsErrorResult reports whether a tool produced a structured error.
func IsErrorResult(result interface{}) bool {
	m, ok := result.(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = m["error"]
	return ok
}

// Executor is the registry and dispatcher of tools.
type Executor struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewExecutor creates an empty registry.
func NewExecutor(logger zerolog.Logger) *Executor {
	return &Executor{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool; its input schema is compiled once here.
func (e *Executor) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}
	if def.InputSchema == nil {
		def.InputSchema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.defs[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	e.defs[def.Name] = &def
	e.schemas[def.Name] = schema

	e.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Names returns the registered tool names, sorted.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.defs))
	for name := range e.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the JSON-schema forms sent to the model.
func (e *Executor) Schemas() []modelclient.ToolSchema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]modelclient.ToolSchema, 0, len(e.defs))
	for _, def := range e.defs {
		out = append(out, modelclient.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches one tool call. The returned value is always
// JSON-serializable; recoverable failures come back as {"error": ...}
// values. A Go error is returned only for an unknown tool name or when
// ctx was cancelled.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]interface{}, inv Invocation) (interface{}, error) {
	start := time.Now()

	e.mu.RLock()
	def := e.defs[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if def == nil {
		e.logger.Warn().Str("tool", name).Msg("Unknown tool requested")
		observability.RecordToolExecution(name, time.Since(start), false)
		return nil, &UnknownToolError{Name: name, Available: e.Names()}
	}

	if input == nil {
		input = map[string]interface{}{}
	}

	if result, err := schema.Validate(gojsonschema.NewGoLoader(input)); err != nil {
		observability.RecordToolExecution(name, time.Since(start), false)
		return Errorf("invalid input: %v", err), nil
	} else if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		e.logger.Debug().Str("tool", name).Strs("violations", details).Msg("Tool input rejected")
		observability.RecordToolExecution(name, time.Since(start), false)
		return Errorf("invalid input: %s", strings.Join(details, "; ")), nil
	}

	value, err := def.Handler(ctx, input, inv)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			observability.RecordToolExecution(name, elapsed, false)
			return nil, err
		}
		// Handler errors are recoverable from the model's point of view.
		e.logger.Debug().Str("tool", name).Err(err).Msg("Tool handler failed")
		observability.RecordToolExecution(name, elapsed, false)
		return Errorf("%v", err), nil
	}

	observability.RecordToolExecution(name, elapsed, !IsErrorResult(value))
	e.logger.Debug().
		Str("tool", name).
		Dur("duration", elapsed).
		Msg("Tool executed")
	return value, nil
}
