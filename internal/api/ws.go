package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/crucible/pkg/jobs"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleWatchJob upgrades to a websocket and streams status transitions
// for one job until it reaches a terminal state.
func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "job queue is not enabled")
		return
	}

	jobID := r.PathValue("id")
	job, err := s.queue.Get(jobID)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	// Subscribe before the initial snapshot so no transition between
	// the two is lost.
	events, cancel := s.queue.Subscribe(jobID)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the peer going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !s.writeJobEvent(conn, jobs.Event{Job: job}) {
		return
	}
	if terminal(job.Status) {
		s.closeWS(conn)
		return
	}

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				s.closeWS(conn)
				return
			}
			if !s.writeJobEvent(conn, event) {
				return
			}
			if terminal(event.Job.Status) {
				s.closeWS(conn)
				return
			}
		case <-pings.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeJobEvent sends one event, reporting whether the connection is
// still usable.
func (s *Server) writeJobEvent(conn *websocket.Conn, event jobs.Event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(event); err != nil {
		s.logger.Debug().Err(err).Str("job_id", event.Job.ID).Msg("Failed to send job event")
		return false
	}
	return true
}

// closeWS sends a normal close frame.
func (s *Server) closeWS(conn *websocket.Conn) {
	deadline := time.Now().Add(wsWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func terminal(status jobs.Status) bool {
	return status == jobs.StatusSucceeded || status == jobs.StatusFailed
}
