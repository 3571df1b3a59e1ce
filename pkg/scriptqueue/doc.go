// Package scriptqueue brokers code snippets between in-process tool
// handlers and the page-side runner without direct RPC.
//
// Invariants:
// - Executions for the same target are served in FIFO order; no ordering
//   exists across targets.
// - A pending execution resolves exactly once: first of runner result,
//   timeout, caller cancellation, or target teardown wins; late calls for
//   the same id are dropped.
// - Dequeue hands out the head of a target's queue without removing the
//   pending entry, so a runner crashing between dequeue and result still
//   surfaces as a timeout.
//
// Usage:
//
//	queue := scriptqueue.New(scriptqueue.Config{Logger: logger})
//	pending := queue.Enqueue("target-1", "1 + 1")
//	result, err := pending.Wait(ctx)
//	_, _ = result, err
package scriptqueue
