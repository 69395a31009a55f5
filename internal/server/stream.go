package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
)

// writeWait bounds every websocket write.
const writeWait = 5 * time.Second

// handleStream pushes each newly published snapshot of a job over a
// websocket and closes the connection once a terminal snapshot was sent.
// Jobs that are only known to the store get their stored snapshot and an
// immediate close.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, live := s.jobs.get(id)
	var stored dispatch.ProgressSnapshot
	if !live {
		snap, err := s.lookup(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, id, err)
			return
		}
		stored = snap
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("job_id", id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	streamClients.Inc()
	defer streamClients.Dec()

	s.logger.Debug().Str("job_id", id).Msg("Progress stream opened")

	// The read loop only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !live {
		if err := writeSnapshot(conn, stored); err == nil {
			closeStream(conn, stored.State)
		}
		return
	}

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	var last dispatch.ProgressSnapshot
	sent := false
	for {
		snap := entry.runner.Snapshot()
		if !sent || changed(last, snap) {
			if err := writeSnapshot(conn, snap); err != nil {
				s.logger.Debug().Err(err).Str("job_id", id).Msg("Progress stream write failed")
				return
			}
			last, sent = snap, true
		}

		if snap.State.Terminal() {
			closeStream(conn, snap.State)
			return
		}

		select {
		case <-gone:
			return
		case <-entry.done:
		case <-ticker.C:
		}
	}
}

func changed(prev, next dispatch.ProgressSnapshot) bool {
	return prev.State != next.State || !prev.UpdatedAt.Equal(next.UpdatedAt)
}

func writeSnapshot(conn *websocket.Conn, snap dispatch.ProgressSnapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(snap)
}

func closeStream(conn *websocket.Conn, state dispatch.State) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(state))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
