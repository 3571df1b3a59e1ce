// Package conversation holds per-conversation agent state: structured
// message history, the outbound chunk buffer drained by consumer polls,
// cancellation, token counters, and loop-detection state.
//
// Invariants:
// - A tool_use part never appears in history without its matching
//   tool_result part in the same assistant message.
// - Status is monotone: streaming -> {completed, error, aborted}.
// - After a terminal transition no chunks are appended beyond the single
//   finish or error chunk emitted at transition time.
//
// Usage:
//
//	store := conversation.NewStore(logger)
//	conv, _ := store.Create("conv-1", "target-1")
//	conv.AppendMessage(conversation.Message{Role: conversation.RoleUser, Parts: ...})
//	chunks, status, text := conv.Drain()
//	_ = chunks
//	_, _ = status, text
package conversation
