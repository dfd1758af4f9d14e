package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
	"github.com/ttm-labs/ttm-orchestrator/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to loopback; cross-origin dashboards are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamFrame is one websocket message with the current run state
type StreamFrame struct {
	ID      string  `json:"id"`
	Status  string  `json:"status"`
	Elapsed float64 `json:"elapsed"`
	Stdout  string  `json:"stdout"`
	Stderr  string  `json:"stderr"`
	Done    bool    `json:"done"`
}

// streamExperiment upgrades the connection and pushes run state once per
// second until the run reaches a terminal status or the client goes away.
func (s *Server) streamExperiment(w http.ResponseWriter, r *http.Request, id domain.ExperimentID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.tracker.Store().Get(id) == nil {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "experiment", id, "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		rec := s.tracker.Store().Get(id)
		if rec == nil {
			return
		}

		frame := StreamFrame{
			ID:      id.String(),
			Status:  string(rec.Status),
			Elapsed: rec.ElapsedSeconds,
			Stdout:  rec.Stdout,
			Stderr:  rec.Stderr,
			Done:    rec.Status.IsTerminal(),
		}

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
		if frame.Done {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(rec.Status)))
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
