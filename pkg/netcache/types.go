package netcache

import "time"

// RequestInfo describes the outbound half of a captured exchange.
type RequestInfo struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ResponseInfo describes the inbound half of a captured exchange.
type ResponseInfo struct {
	Status      int               `json:"status"`
	StatusText  string            `json:"statusText,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
}

// Timing carries request latency data.
type Timing struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMs int64     `json:"durationMs"`
}

// Metadata carries capture-side classification of an entry.
type Metadata struct {
	RequestType  string            `json:"requestType,omitempty"` // xhr, fetch, document, script, ...
	HasError     bool              `json:"hasError"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Cookies      string            `json:"cookies,omitempty"`
	AuthHeaders  map[string]string `json:"authHeaders,omitempty"`
}

// Entry is one captured network exchange.
type Entry struct {
	ID       string       `json:"id"`
	Request  RequestInfo  `json:"request"`
	Response ResponseInfo `json:"response"`
	Timing   Timing       `json:"timing"`
	Metadata Metadata     `json:"metadata"`
}

// Summary is the compact projection returned by list and search tools.
type Summary struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Method     string `json:"method"`
	Status     int    `json:"status"`
	Type       string `json:"type,omitempty"`
	DurationMs int64  `json:"durationMs"`
	HasError   bool   `json:"hasError,omitempty"`
	MatchedIn  string `json:"matchedIn,omitempty"`
}

// Summarize projects an entry to its summary form.
func Summarize(e Entry) Summary {
	return Summary{
		ID:         e.ID,
		URL:        e.Request.URL,
		Method:     e.Request.Method,
		Status:     e.Response.Status,
		Type:       e.Metadata.RequestType,
		DurationMs: e.Timing.DurationMs,
		HasError:   e.Metadata.HasError,
	}
}

// Filter narrows entries by method and status range. Zero values match
// everything.
type Filter struct {
	Method    string
	MinStatus int
	MaxStatus int
}

// Stats aggregates a target's captured traffic.
type Stats struct {
	TotalEntries int            `json:"totalRequests"`
	ByMethod     map[string]int `json:"byMethod"`
	ByStatus     map[string]int `json:"byStatus"`
	ByType       map[string]int `json:"byType"`
	ErrorCount   int            `json:"errorCount"`
}

// Cache is the read-only query surface consumed by the tool layer.
type Cache interface {
	// EntriesForTarget returns the target's entries, oldest first. The
	// order is stable within a single call.
	EntriesForTarget(targetID string) []Entry
	// Entry looks up one entry by id.
	Entry(targetID, id string) (Entry, bool)
	// SearchByURL matches entries whose URL contains substr,
	// case-insensitively.
	SearchByURL(targetID, substr string) []Entry
	// FilterEntries narrows by method and status range.
	FilterEntries(targetID string, f Filter) []Entry
	// Statistics aggregates the target's traffic.
	Statistics(targetID string) Stats
}
