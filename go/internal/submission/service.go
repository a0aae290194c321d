package submission

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
	"github.com/mcdev12/escaperoom/go/internal/progress"
)

// NameRequest is the body of POST /api/session/name and /api/leaderboard/submit
type NameRequest struct {
	PlayerName string `json:"player_name"`
}

// SubmitResponse is returned after a recorded run
type SubmitResponse struct {
	Entry     *models.LeaderboardEntry `json:"entry"`
	TotalTime string                   `json:"total_time"`
}

// Service exposes the submission workflow over HTTP
type Service struct {
	workflow *Workflow
}

// NewService creates a new submission service
func NewService(workflow *Workflow) *Service {
	return &Service{workflow: workflow}
}

// RegisterRoutes registers the submission HTTP routes. They expect
// progress.SessionMiddleware in front of them.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/name", s.HandleBeginSession)
	mux.HandleFunc("POST /api/leaderboard/submit", s.HandleSubmitScore)
	mux.HandleFunc("GET /api/leaderboard/names/check", s.HandleCheckName)
}

// HandleBeginSession handles POST /api/session/name
func (s *Service) HandleBeginSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := progress.SessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.workflow.BeginSession(r.Context(), sessionID, req.PlayerName)
	if err != nil {
		writeError(w, err, sessionID)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleSubmitScore handles POST /api/leaderboard/submit. An empty body
// submits under the session's committed name.
func (s *Service) HandleSubmitScore(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := progress.SessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.workflow.SubmitScore(r.Context(), sessionID, req.PlayerName)
	if err != nil {
		writeError(w, err, sessionID)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{
		Entry:     entry,
		TotalTime: progress.FormatMillis(entry.TotalTime),
	})
}

// HandleCheckName handles GET /api/leaderboard/names/check?name=
func (s *Service) HandleCheckName(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workflow.CheckName(r.Context(), r.URL.Query().Get("name")))
}

func writeError(w http.ResponseWriter, err error, sessionID string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNameTooShort), errors.Is(err, ErrNameTooLong), errors.Is(err, ErrNoPlayerName):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNameTaken), errors.Is(err, ErrNameMismatch), errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrSubmitInFlight):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFinished):
		status = http.StatusPreconditionFailed
	case errors.Is(err, ErrSubmitFailed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("session_id", sessionID).Msg("submission request failed")
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
