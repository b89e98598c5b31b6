package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mathduel/pkg/types"
)

// Sessions is the read/terminate surface the API exposes over the
// session store.
type Sessions interface {
	Get(id string) (*types.Session, error)
	List() []*types.Session
	End(id string) (*types.Session, error)
}

// RoomStats reports broadcaster occupancy.
type RoomStats interface {
	RoomSize(sessionID string) int
	Stats() map[string]int
}

// Archive serves history of evicted sessions.
type Archive interface {
	GetArchivedSession(ctx context.Context, id string) (*types.Session, error)
	ListArchivedSessions(ctx context.Context, limit int) ([]*types.Session, error)
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP diagnostics and administration surface. Gameplay
// never goes through it; that stays on the websocket path.
type Server struct {
	sessions Sessions
	rooms    RoomStats
	archive  Archive
	logger   *zap.Logger
}

func NewServer(sessions Sessions, rooms RoomStats, archive Archive, logger *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		rooms:    rooms,
		archive:  archive,
		logger:   logger,
	}
}

// Register attaches the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /api/archive", s.handleListArchive)
	mux.HandleFunc("GET /api/archive/{id}", s.handleGetArchived)
}

type sessionSummary struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Participants int    `json:"participants"`
	Connections  int    `json:"connections"`
	Version      uint64 `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := s.archive.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = err.Error()
		s.logger.Warn("health check failed", zap.Error(err))
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":    dbStatus,
		"sessions":  len(s.sessions.List()),
		"broadcast": s.rooms.Stats(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	live := s.sessions.List()
	out := make([]sessionSummary, 0, len(live))
	for _, sess := range live {
		out = append(out, sessionSummary{
			ID:           sess.ID,
			Status:       sess.Status,
			Participants: len(sess.Participants),
			Connections:  s.rooms.RoomSize(sess.ID),
			Version:      sess.Version,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !types.IsValidSessionID(id) {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !types.IsValidSessionID(id) {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	s.logger.Info("session ended via api", zap.String("session_id", id))
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	archived, err := s.archive.ListArchivedSessions(r.Context(), 50)
	if err != nil {
		s.logger.Error("archive listing failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": archived})
}

func (s *Server) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !types.IsValidSessionID(id) {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	sess, err := s.archive.GetArchivedSession(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "archived session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
