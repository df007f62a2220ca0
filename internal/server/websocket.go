package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/kansa/internal/logging"
	"github.com/raysh454/kansa/internal/progress"
)

const wsWriteWait = 10 * time.Second

// handleRunWS streams progress events of one run until it turns terminal or
// the client goes away. The first message is the current snapshot.
func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, events, unsub, err := s.orchestrator.Watch(r.Context(), id)
	if err != nil {
		s.fail(w, "watching run", err, logging.Field{Key: "run_id", Value: id})
		return
	}
	defer unsub()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// drain client frames so close and ping control messages are handled
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(ev progress.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	if !write(progress.Event{RunID: id, Progress: snapshot}) {
		return
	}
	if snapshot.Status.IsTerminal() {
		s.closeWS(conn)
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.closeWS(conn)
				return
			}
			if !write(ev) {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) closeWS(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
