package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/netcache"
	"github.com/halcyon-sec/vigil/pkg/scriptqueue"
)

// PageNamespace is the window property all injected data lives under.
const PageNamespace = "__vigil"

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// RegisterScriptTools registers the in-page execution tools backed by the
// script queue.
func RegisterScriptTools(e *Executor, queue *scriptqueue.Queue, cache netcache.Cache) error {
	defs := []Definition{
		executeJavascriptTool(queue),
		exposeRequestDataTool(queue, cache),
	}
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// queueErrorName maps a queue sentinel to the short error token surfaced
// to the model.
func queueErrorName(err error) string {
	switch {
	case errors.Is(err, scriptqueue.ErrExecutionTimeout):
		return "ExecutionTimeout"
	case errors.Is(err, scriptqueue.ErrExecutionCancelled):
		return "ExecutionCancelled"
	case errors.Is(err, scriptqueue.ErrTargetClosed):
		return "TargetClosed"
	case errors.Is(err, scriptqueue.ErrQueueClosed):
		return "QueueClosed"
	default:
		return err.Error()
	}
}

func executeJavascriptTool(queue *scriptqueue.Queue) Definition {
	return Definition{
		Name:        "execute_javascript",
		Description: "Run JavaScript in the page and return the serialized result together with captured console output.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "JavaScript source to evaluate in the page",
				},
			},
			"required": []interface{}{"code"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			code := stringInput(input, "code")
			pending := queue.Enqueue(inv.TargetID, code)
			result, err := pending.Wait(ctx)
			if err != nil {
				observability.RecordScriptAudit(inv.TargetID, pending.ID, "failure", map[string]interface{}{
					"code_bytes": len(code),
					"error":      queueErrorName(err),
				})
				if errors.Is(err, scriptqueue.ErrExecutionCancelled) && ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return Errorf("%s", queueErrorName(err)), nil
			}
			observability.RecordScriptAudit(inv.TargetID, pending.ID, "success", map[string]interface{}{
				"code_bytes": len(code),
			})
			return result, nil
		},
	}
}

func exposeRequestDataTool(queue *scriptqueue.Queue, cache netcache.Cache) Definition {
	return Definition{
		Name:        "expose_request_data",
		Description: "Publish captured request records into the page as a window variable, so later scripts can work with them directly.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"requestIds": map[string]interface{}{
					"type":        "array",
					"description": "Ids of captured requests to expose",
					"items":       map[string]interface{}{"type": "string"},
				},
				"variableName": map[string]interface{}{
					"type":        "string",
					"description": "Name of the page variable (default data)",
				},
			},
			"required": []interface{}{"requestIds"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			rawIDs, _ := input["requestIds"].([]interface{})
			if len(rawIDs) == 0 {
				return Errorf("requestIds must be a non-empty array"), nil
			}

			variableName := stringInput(input, "variableName")
			if variableName == "" {
				variableName = "data"
			}
			if !identifierRe.MatchString(variableName) {
				return Errorf("invalid variableName: %s", variableName), nil
			}

			records := make([]map[string]interface{}, 0, len(rawIDs))
			for _, raw := range rawIDs {
				id, _ := raw.(string)
				entry, ok := cache.Entry(inv.TargetID, id)
				if !ok {
					continue
				}
				records = append(records, exposeRecord(entry))
			}
			if len(records) == 0 {
				return Errorf("none of the requested ids were found"), nil
			}

			payload, err := json.Marshal(records)
			if err != nil {
				return Errorf("failed to encode request data: %v", err), nil
			}

			code := fmt.Sprintf(
				"window.%s = window.%s || {}; window.%s.%s = %s; 'exposed';",
				PageNamespace, PageNamespace, PageNamespace, variableName, payload,
			)

			pending := queue.Enqueue(inv.TargetID, code)
			if _, err := pending.Wait(ctx); err != nil {
				if errors.Is(err, scriptqueue.ErrExecutionCancelled) && ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return Errorf("%s", queueErrorName(err)), nil
			}

			return map[string]interface{}{
				"exposedCount": len(records),
				"variableName": variableName,
				"accessPath":   fmt.Sprintf("window.%s.%s", PageNamespace, variableName),
			}, nil
		},
	}
}

// exposeRecord shapes an entry for in-page consumption. JSON response
// bodies are parsed so scripts can address fields without a second parse.
func exposeRecord(entry netcache.Entry) map[string]interface{} {
	var responseBody interface{} = entry.Response.Body
	if strings.Contains(strings.ToLower(entry.Response.ContentType), "json") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(entry.Response.Body), &parsed); err == nil {
			responseBody = parsed
		}
	}
	return map[string]interface{}{
		"id":     entry.ID,
		"url":    entry.Request.URL,
		"method": entry.Request.Method,
		"status": entry.Response.Status,
		"request": map[string]interface{}{
			"headers": entry.Request.Headers,
			"body":    entry.Request.Body,
		},
		"response": map[string]interface{}{
			"headers":     entry.Response.Headers,
			"contentType": entry.Response.ContentType,
			"body":        responseBody,
		},
	}
}
