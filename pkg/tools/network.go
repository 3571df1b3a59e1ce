package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/halcyon-sec/vigil/pkg/netcache"
)

// RegisterNetworkTools registers the capture-inspection tools over the
// read-only network cache.
func RegisterNetworkTools(e *Executor, cache netcache.Cache) error {
	defs := []Definition{
		getNetworkRequestsTool(cache),
		getRequestDetailsTool(cache),
		getRequestBodyChunkTool(cache),
		searchRequestsTool(cache),
		searchRequestContentTool(cache),
		getCacheStatisticsTool(cache),
	}
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// intInput reads a JSON number from tool input, falling back to def when
// the key is absent.
func intInput(input map[string]interface{}, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func stringInput(input map[string]interface{}, key string) string {
	s, _ := input[key].(string)
	return s
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func getNetworkRequestsTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "get_network_requests",
		Description: "List captured network requests for the current page, newest last. Paginate with limit and offset.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum requests to return (default 10, capped at 20)",
					"minimum":     0,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of requests to skip (default 0)",
					"minimum":     0,
				},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			limit := clamp(intInput(input, "limit", 10), 0, 20)
			offset := intInput(input, "offset", 0)

			entries := cache.EntriesForTarget(inv.TargetID)
			total := len(entries)

			if offset > total {
				offset = total
			}
			end := offset + limit
			if end > total {
				end = total
			}

			summaries := make([]netcache.Summary, 0, end-offset)
			for _, e := range entries[offset:end] {
				summaries = append(summaries, netcache.Summarize(e))
			}

			return map[string]interface{}{
				"total":    total,
				"returned": len(summaries),
				"offset":   offset,
				"hasMore":  offset+len(summaries) < total,
				"requests": summaries,
			}, nil
		},
	}
}

func getRequestDetailsTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "get_request_details",
		Description: "Fetch the full record of one captured request by id, with request and response bodies truncated to a preview.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"requestId": map[string]interface{}{
					"type":        "string",
					"description": "Id of the captured request",
				},
				"bodyPreviewSize": map[string]interface{}{
					"type":        "integer",
					"description": "Body preview length in bytes (default 500, max 1500)",
					"minimum":     0,
				},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			id := stringInput(input, "requestId")
			entry, ok := cache.Entry(inv.TargetID, id)
			if !ok {
				return Errorf("Request not found: %s", id), nil
			}

			preview := clamp(intInput(input, "bodyPreviewSize", 500), 0, 1500)

			return map[string]interface{}{
				"id": entry.ID,
				"request": map[string]interface{}{
					"url":       entry.Request.URL,
					"method":    entry.Request.Method,
					"headers":   entry.Request.Headers,
					"body":      truncate(entry.Request.Body, preview),
					"bodySize":  len(entry.Request.Body),
					"timestamp": entry.Request.Timestamp,
				},
				"response": map[string]interface{}{
					"status":      entry.Response.Status,
					"statusText":  entry.Response.StatusText,
					"headers":     entry.Response.Headers,
					"contentType": entry.Response.ContentType,
					"body":        truncate(entry.Response.Body, preview),
					"bodySize":    len(entry.Response.Body),
				},
				"timing":   entry.Timing,
				"metadata": entry.Metadata,
			}, nil
		},
	}
}

func getRequestBodyChunkTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "get_request_body_chunk",
		Description: "Read a slice of a captured request or response body, for bodies larger than the details preview.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"requestId": map[string]interface{}{
					"type":        "string",
					"description": "Id of the captured request",
				},
				"bodyType": map[string]interface{}{
					"type":        "string",
					"description": "Which body to read",
					"enum":        []interface{}{"request", "response"},
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Byte offset to start from (default 0)",
					"minimum":     0,
				},
				"length": map[string]interface{}{
					"type":        "integer",
					"description": "Bytes to return (default 2000, max 5000)",
					"minimum":     0,
				},
			},
			"required": []interface{}{"requestId", "bodyType"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			id := stringInput(input, "requestId")
			entry, ok := cache.Entry(inv.TargetID, id)
			if !ok {
				return Errorf("Request not found: %s", id), nil
			}

			bodyType := stringInput(input, "bodyType")
			body := entry.Request.Body
			if bodyType == "response" {
				body = entry.Response.Body
			}

			total := len(body)
			offset := intInput(input, "offset", 0)
			if offset > total {
				offset = total
			}
			length := clamp(intInput(input, "length", 2000), 0, 5000)
			end := offset + length
			if end > total {
				end = total
			}

			chunk := body[offset:end]
			hasMore := end < total
			var nextOffset interface{}
			if hasMore {
				nextOffset = end
			}

			return map[string]interface{}{
				"requestId":  id,
				"bodyType":   bodyType,
				"offset":     offset,
				"chunkSize":  len(chunk),
				"totalSize":  total,
				"hasMore":    hasMore,
				"nextOffset": nextOffset,
				"chunk":      chunk,
			}, nil
		},
	}
}

func searchRequestsTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "search_requests",
		Description: "Find captured requests by URL substring, HTTP method, and status range.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive URL substring",
				},
				"method": map[string]interface{}{
					"type":        "string",
					"description": "HTTP method to match",
				},
				"minStatus": map[string]interface{}{
					"type":        "integer",
					"description": "Lowest status code to match",
				},
				"maxStatus": map[string]interface{}{
					"type":        "integer",
					"description": "Highest status code to match",
				},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			urlSub := stringInput(input, "url")
			filter := netcache.Filter{
				Method:    stringInput(input, "method"),
				MinStatus: intInput(input, "minStatus", 0),
				MaxStatus: intInput(input, "maxStatus", 0),
			}

			var entries []netcache.Entry
			if urlSub == "" {
				entries = cache.FilterEntries(inv.TargetID, filter)
			} else {
				for _, e := range cache.SearchByURL(inv.TargetID, urlSub) {
					if filter.Method != "" && !strings.EqualFold(filter.Method, e.Request.Method) {
						continue
					}
					if filter.MinStatus > 0 && e.Response.Status < filter.MinStatus {
						continue
					}
					if filter.MaxStatus > 0 && e.Response.Status > filter.MaxStatus {
						continue
					}
					entries = append(entries, e)
				}
			}

			matched := make([]netcache.Summary, 0, len(entries))
			for _, e := range entries {
				matched = append(matched, netcache.Summarize(e))
			}

			found := len(matched)
			if len(matched) > 10 {
				matched = matched[:10]
			}

			return map[string]interface{}{
				"found": found,
				"filters": map[string]interface{}{
					"url":       urlSub,
					"method":    filter.Method,
					"minStatus": filter.MinStatus,
					"maxStatus": filter.MaxStatus,
				},
				"requests": matched,
			}, nil
		},
	}
}

func searchRequestContentTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "search_request_content",
		Description: "Search captured request URLs and bodies for a substring.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive substring to search for",
				},
				"searchIn": map[string]interface{}{
					"type":        "string",
					"description": "Where to search (default all)",
					"enum":        []interface{}{"all", "url", "request_body", "response_body"},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results (default 10, max 15)",
					"minimum":     0,
				},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			query := stringInput(input, "query")
			searchIn := stringInput(input, "searchIn")
			if searchIn == "" {
				searchIn = "all"
			}
			limit := clamp(intInput(input, "limit", 10), 0, 15)

			needle := strings.ToLower(query)
			var results []netcache.Summary
			for _, e := range cache.EntriesForTarget(inv.TargetID) {
				var matchedIn []string
				if searchIn == "all" || searchIn == "url" {
					if strings.Contains(strings.ToLower(e.Request.URL), needle) {
						matchedIn = append(matchedIn, "url")
					}
				}
				if searchIn == "all" || searchIn == "request_body" {
					if strings.Contains(strings.ToLower(e.Request.Body), needle) {
						matchedIn = append(matchedIn, "request_body")
					}
				}
				if searchIn == "all" || searchIn == "response_body" {
					if strings.Contains(strings.ToLower(e.Response.Body), needle) {
						matchedIn = append(matchedIn, "response_body")
					}
				}
				if len(matchedIn) == 0 {
					continue
				}
				summary := netcache.Summarize(e)
				summary.MatchedIn = strings.Join(matchedIn, ",")
				results = append(results, summary)
				if len(results) >= limit {
					break
				}
			}

			return map[string]interface{}{
				"query":    query,
				"searchIn": searchIn,
				"found":    len(results),
				"results":  results,
			}, nil
		},
	}
}

func getCacheStatisticsTool(cache netcache.Cache) Definition {
	return Definition{
		Name:        "get_cache_statistics",
		Description: "Summarize the captured traffic: totals by method, status, and request type, and the error count.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, input map[string]interface{}, inv Invocation) (interface{}, error) {
			stats := cache.Statistics(inv.TargetID)
			return map[string]interface{}{
				"totalRequests": stats.TotalEntries,
				"byMethod":      stats.ByMethod,
				"byStatus":      stats.ByStatus,
				"byType":        stats.ByType,
				"errorCount":    stats.ErrorCount,
			}, nil
		},
	}
}
