package progress

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

// ProgressResponse is the progress view returned to task pages
type ProgressResponse struct {
	PlayerName     string              `json:"player_name,omitempty"`
	Progress       models.TaskProgress `json:"progress"`
	Summary        Summary             `json:"summary"`
	AllCompleted   bool                `json:"all_completed"`
	TotalTimeMs    int64               `json:"total_time_ms"`
	TotalTime      string              `json:"total_time"`
	ElapsedMs      int64               `json:"elapsed_ms"`
	TaskTimes      map[string]int64    `json:"task_times"`
	ScoreSubmitted bool                `json:"score_submitted"`
}

// TaskResponse is returned after a task transition
type TaskResponse struct {
	TaskID     models.TaskID `json:"task_id"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	Duration   string        `json:"duration,omitempty"`
	ProgressResponse
}

// Service exposes session progress over HTTP
type Service struct {
	sessions *Manager
}

// NewService creates a new progress service
func NewService(sessions *Manager) *Service {
	return &Service{sessions: sessions}
}

// RegisterRoutes registers the progress HTTP routes. They expect
// SessionMiddleware in front of them.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/progress", s.HandleGetProgress)
	mux.HandleFunc("POST /api/session/new", s.HandleNewGame)
	mux.HandleFunc("POST /api/tasks/{id}/start", s.HandleStartTask)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.HandleCompleteTask)
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := SessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "session required", http.StatusUnauthorized)
		return nil, false
	}
	return s.sessions.Session(r.Context(), id), true
}

// View builds the progress response for a session
func View(r *http.Request, sess *Session) ProgressResponse {
	name, err := sess.PlayerName(r.Context())
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to read player name")
	}
	t := sess.Tracker
	total := t.TotalTime()
	return ProgressResponse{
		PlayerName:     name,
		Progress:       t.Progress(),
		Summary:        t.Summary(),
		AllCompleted:   t.IsAllTasksCompleted(),
		TotalTimeMs:    total.Milliseconds(),
		TotalTime:      FormatTime(total),
		ElapsedMs:      t.Elapsed().Milliseconds(),
		TaskTimes:      t.TaskTimes(),
		ScoreSubmitted: t.ScoreSubmitted(),
	}
}

// HandleGetProgress handles GET /api/progress
func (s *Service) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, View(r, sess))
}

// HandleNewGame handles POST /api/session/new
func (s *Service) HandleNewGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.StartNewGame(r.Context()); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to start new game")
		http.Error(w, "failed to start new game", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, View(r, sess))
}

// HandleStartTask handles POST /api/tasks/{id}/start
func (s *Service) HandleStartTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	if err := sess.Tracker.StartTask(r.Context(), id); err != nil {
		writeTaskError(w, err, sess.ID, id)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{TaskID: id, ProgressResponse: View(r, sess)})
}

// HandleCompleteTask handles POST /api/tasks/{id}/complete
func (s *Service) HandleCompleteTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	d, err := sess.Tracker.CompleteTask(r.Context(), id)
	if err != nil {
		writeTaskError(w, err, sess.ID, id)
		return
	}
	writeJSON(w, http.StatusOK, TaskResponse{
		TaskID:           id,
		DurationMs:       d.Milliseconds(),
		Duration:         FormatTime(d),
		ProgressResponse: View(r, sess),
	})
}

func taskIDFromPath(w http.ResponseWriter, r *http.Request) (models.TaskID, bool) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return 0, false
	}
	return models.TaskID(n), true
}

func writeTaskError(w http.ResponseWriter, err error, sessionID string, id models.TaskID) {
	if errors.Is(err, ErrInvalidTask) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	log.Error().Err(err).Str("session_id", sessionID).Int("task_id", int(id)).Msg("failed to persist progress")
	http.Error(w, "failed to save progress", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
