package observability

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent is one record in the append-only audit trail. Script
// execution inside an inspected page is the sensitive action here, so
// every execution and conversation boundary gets a line.
type AuditEvent struct {
	Type           string                 `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	TargetID       string                 `json:"target_id,omitempty"`
	Action         string                 `json:"action"` // e.g. "script_executed", "conversation_started"
	Status         string                 `json:"status"` // "success", "failure", "pending"
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger records audit events to a dedicated sink.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		// Default to stderr if not initialized
		auditInst = &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	}
	return auditInst
}

// InitAuditLogger points the global audit logger at a file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditMu.Lock()
	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	auditMu.Unlock()
	return nil
}

// Record emits an audit event.
func (a *AuditLogger) Record(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("conversation_id", event.ConversationID).
		Str("target_id", event.TargetID).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// Helper functions for common events

// RecordScriptAudit records one in-page script execution.
func RecordScriptAudit(targetID, executionID, status string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["execution_id"] = executionID
	GetAuditLogger().Record(AuditEvent{
		Type:     "script",
		TargetID: targetID,
		Action:   "script_executed",
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConversationAudit records a conversation lifecycle boundary.
func RecordConversationAudit(action, conversationID, targetID, status string) {
	GetAuditLogger().Record(AuditEvent{
		Type:           "conversation",
		ConversationID: conversationID,
		TargetID:       targetID,
		Action:         action,
		Status:         status,
	})
}
