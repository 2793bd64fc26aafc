package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/audit"
	"github.com/Inouye165/React-Photo-App-sub008/internal/events"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a WebSocket connection to the broadcaster's Conn handle.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteFrame(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}

// handleSubscribe upgrades the request to a WebSocket push connection and
// registers it with the broadcaster.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	user := userID(r)

	// Kill switch: no connection is opened when real-time events are off.
	if !s.config.Events.Enabled {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"error":   "Real-time events disabled",
		})
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusUpgradeRequired, map[string]any{
			"success": false,
			"error":   "WebSocket upgrade required",
		})
		return
	}

	// Friendly rejection before the upgrade. Subscribe re-checks the cap
	// authoritatively below.
	if s.broadcaster.ConnCount(user) >= s.config.Events.MaxConnsPerUser {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"error":   "connection limit reached",
			"reason":  "connection_cap",
		})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	wc := &wsConn{conn: conn}
	if err := s.broadcaster.Subscribe(user, wc); err != nil {
		if errors.Is(err, events.ErrConnectionCap) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection_cap"),
				time.Now().Add(writeWait))
		}
		_ = conn.Close()
		return
	}

	s.logger.Info("push connection opened",
		zap.String("user", user),
		zap.String("remote_addr", r.RemoteAddr),
	)

	// Read pump: the client sends nothing meaningful, but reading drives
	// close detection so dead connections are unsubscribed promptly.
	go func() {
		defer s.broadcaster.Unsubscribe(user, wc)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error",
						zap.String("user", user),
						zap.Error(err),
					)
				}
				return
			}
		}
	}()
}

type createJobRequest struct {
	ID    string     `json:"id"`
	State jobs.State `json:"state"`
}

// handleCreateJob registers a new analysis job owned by the authenticated
// user. The pipeline reports subsequent transitions through handleJobState.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
		return
	}
	if req.State == "" {
		req.State = jobs.StatePending
	}
	job := jobs.Job{ID: req.ID, UserID: userID(r), State: req.State, UpdatedAt: time.Now()}
	if err := s.store.Put(r.Context(), job); err != nil {
		s.logger.Error("creating job failed", zap.String("job", req.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not create job"})
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

type jobStateRequest struct {
	State jobs.State `json:"state"`
}

// handleJobState is the analysis pipeline's intake: it records the new
// state and pushes the corresponding event to the owner's connections.
func (s *Server) handleJobState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req jobStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.State.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "valid state is required"})
		return
	}

	job, err := s.store.SetState(r.Context(), id, req.State)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found"})
			return
		}
		s.logger.Error("updating job state failed", zap.String("job", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not update job"})
		return
	}

	eventName := eventNameFor(job.State)
	receipt, err := s.broadcaster.Publish(job.UserID, eventName, map[string]any{
		"photoId": job.ID,
		"state":   job.State,
	})
	if err != nil {
		s.logger.Error("publishing event failed", zap.String("job", id), zap.Error(err))
	} else {
		s.trail.Append(audit.Entry{
			UserID:    job.UserID,
			Event:     eventName,
			EventID:   receipt.EventID,
			Delivered: receipt.Delivered,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        job.ID,
		"state":     job.State,
		"delivered": receipt.Delivered,
	})
}

func eventNameFor(state jobs.State) string {
	switch state {
	case jobs.StateComplete:
		return events.AnalysisComplete
	case jobs.StateFailed:
		return events.AnalysisFailed
	default:
		return events.AnalysisStarted
	}
}

// handleJobStatus answers the polling path's job-status query.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found"})
			return
		}
		s.logger.Error("job lookup failed", zap.String("job", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not load job"})
		return
	}

	writeJSON(w, http.StatusOK, jobs.Status{ID: job.ID, State: job.State})
}
