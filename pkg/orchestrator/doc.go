// Package orchestrator drives the conversation loop: it streams model
// turns, folds protocol events into consumer chunks and history
// messages, dispatches tool calls in wire order, and feeds the results
// back until the model ends its turn.
//
// Invariants:
// - Tool calls within one assistant turn run strictly in wire order.
// - A turn's tool_use and tool_result parts land in the same assistant
//   message before the loop continues.
// - Abort is observed at every suspension point; the loop then exits
//   without appending further messages and without an error chunk.
// - Three consecutive failures of the same tool, or exceeding the turn
//   cap, terminate the conversation with a single error chunk.
//
// Usage:
//
//	orch, _ := orchestrator.New(orchestrator.Config{Store: store, Model: streamer, Executor: exec})
//	_ = orch.Start("conv-1", "tab-1", "What API calls does this page make?")
//	chunks, status, text := orch.Poll("conv-1")
//	_, _, _ = chunks, status, text
package orchestrator
