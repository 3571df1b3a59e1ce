// Package modelclient drives one streaming request against an
// Anthropic-style Messages endpoint and yields typed protocol events
// parsed from the SSE frames. Tool-use arguments arrive as incremental
// JSON fragments keyed by content-block index; the client buffers them and
// parses once at block stop.
//
// The event subset handled here is normative; unknown SSE event names are
// ignored and invalid JSON payloads are logged and skipped.
package modelclient
