package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/netcache"
	"github.com/halcyon-sec/vigil/pkg/orchestrator"
	"github.com/halcyon-sec/vigil/pkg/scriptqueue"
)

// Server exposes the consumer API and the runner transport.
type Server struct {
	addr         string
	sharedSecret string
	orch         *orchestrator.Orchestrator
	queue        *scriptqueue.Queue
	cache        *netcache.MemoryCache
	logger       zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// Config holds server configuration.
type Config struct {
	Addr         string
	SharedSecret string
	Orchestrator *orchestrator.Orchestrator
	Queue        *scriptqueue.Queue
	Cache        *netcache.MemoryCache
	Logger       zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("script queue is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("network cache is required")
	}

	return &Server{
		addr:         cfg.Addr,
		sharedSecret: cfg.SharedSecret,
		orch:         cfg.Orchestrator,
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler builds the route table. Exposed for httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations", s.requireAuth(s.handleStart))
	mux.HandleFunc("GET /v1/conversations/{id}/updates", s.requireAuth(s.handleUpdates))
	mux.HandleFunc("POST /v1/conversations/{id}/abort", s.requireAuth(s.handleAbort))
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.requireAuth(s.handleCleanup))
	mux.HandleFunc("POST /v1/targets/{id}/requests", s.requireAuth(s.handleIngest))
	mux.HandleFunc("DELETE /v1/targets/{id}", s.requireAuth(s.handleTargetClosed))
	mux.HandleFunc("GET /ws/runner", s.requireAuth(s.handleRunnerSocket))
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	return mux
}

// Start begins serving. Non-blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop drains and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

type startRequest struct {
	ConversationID string `json:"conversationId"`
	TargetID       string `json:"targetId"`
	Prompt         string `json:"prompt"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON body"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	if err := s.orch.Start(req.ConversationID, req.TargetID, req.Prompt); err != nil {
		status := http.StatusBadRequest
		writeJSON(w, status, map[string]interface{}{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"conversationId": req.ConversationID,
	})
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunks, status, fullText := s.orch.Poll(id)
	if chunks == nil {
		chunks = []conversation.Chunk{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chunks":   chunks,
		"status":   status,
		"fullText": fullText,
	})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.orch.Abort(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.orch.Cleanup(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleIngest accepts captured network entries pushed by the capture
// side and appends them to the target's buffer.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("id")

	var entries []netcache.Entry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON body"})
		return
	}

	for _, e := range entries {
		s.cache.Add(targetID, e)
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ingested": len(entries)})
}

// handleTargetClosed tears down a target: pending executions reject with
// a target-closed error and the capture buffer is dropped.
func (s *Server) handleTargetClosed(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("id")
	s.queue.CancelTarget(targetID)
	s.cache.RemoveTarget(targetID)
	s.logger.Info().Str("target_id", targetID).Msg("Target closed")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
