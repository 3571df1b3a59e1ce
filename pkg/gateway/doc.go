// Package gateway binds the conversation API and the runner transport to
// HTTP. Consumers start, poll, abort, and clean up conversations over
// REST; the page-side runner speaks a small JSON protocol over a
// websocket to dequeue script jobs and push results back.
//
// Invariants:
// - Every route except /healthz and /metrics requires the shared secret.
// - A runner websocket serves at most one job per dequeue message.
// - Target teardown cancels that target's pending executions before the
//   capture buffer is dropped.
package gateway
