package conversation

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the process-wide conversation registry keyed by id.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]*Conversation
	logger zerolog.Logger
}

// NewStore creates an empty registry.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		convs:  make(map[string]*Conversation),
		logger: logger,
	}
}

// Create registers a new conversation. If the id already exists the
// existing record is returned together with created=false.
func (s *Store) Create(id, targetID string) (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[id]; ok {
		return conv, false
	}
	conv := New(id, targetID)
	s.convs[id] = conv
	s.logger.Debug().Str("conversation_id", id).Str("target_id", targetID).Msg("Conversation created")
	return conv, true
}

// Get returns the conversation for id, if registered.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	return conv, ok
}

// Delete removes the record. Idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; ok {
		delete(s.convs, id)
		s.logger.Debug().Str("conversation_id", id).Msg("Conversation removed")
	}
}

// Len returns the number of registered conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// IDs returns the ids of all registered conversations.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	return ids
}

// SweepTerminal removes conversations that reached a terminal state before
// the cutoff and returns how many were removed.
func (s *Store) SweepTerminal(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, conv := range s.convs {
		finished := conv.FinishedAt()
		if conv.Status().Terminal() && !finished.IsZero() && finished.Before(cutoff) {
			delete(s.convs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept terminal conversations")
	}
	return removed
}
