package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// runnerMessage is one frame of the runner protocol, both directions.
// Inbound types: dequeue, result, error, target_closed. Outbound types:
// job, empty.
type runnerMessage struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId,omitempty"`
	ID       string `json:"id,omitempty"`
	Code     string `json:"code,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleRunnerSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade runner connection")
		return
	}

	runnerID, _ := gonanoid.New()
	logger := s.logger.With().Str("runner_id", runnerID).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Runner connected")

	go s.serveRunner(conn, logger)
}

func (s *Server) serveRunner(conn *websocket.Conn, logger zerolog.Logger) {
	defer func() {
		conn.Close()
		logger.Info().Msg("Runner disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Pings and dequeue replies come from different goroutines; the
	// connection tolerates only one writer at a time.
	var writeMu sync.Mutex

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg runnerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Runner read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "dequeue":
			reply := runnerMessage{Type: "empty"}
			if job, ok := s.queue.Dequeue(msg.TargetID); ok {
				reply = runnerMessage{Type: "job", ID: job.ID, Code: job.Code}
			}
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(reply)
			writeMu.Unlock()
			if err != nil {
				logger.Warn().Err(err).Msg("Runner write error")
				return
			}
		case "result":
			s.queue.Resolve(msg.ID, msg.Result)
		case "error":
			s.queue.Reject(msg.ID, msg.Error)
		case "target_closed":
			s.queue.CancelTarget(msg.TargetID)
			s.cache.RemoveTarget(msg.TargetID)
		default:
			logger.Debug().Str("type", msg.Type).Msg("Unknown runner message ignored")
		}
	}
}
