// Package tools registers and executes the agent's investigation tools:
// network-request inspection over the read-only capture cache, in-page
// code execution and data injection through the script queue, and traffic
// statistics.
//
// Recoverable failures (bad input, unknown request id, execution timeout)
// are returned as structured {"error": ...} results so the model can
// self-correct; only an unknown tool name or caller cancellation surfaces
// as a Go error.
package tools
