package leaderboard

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

const maxImportBytes = 8 << 20

// LeaderboardResponse is the body of GET /api/leaderboard
type LeaderboardResponse struct {
	Configured bool                      `json:"configured"`
	Entries    []models.LeaderboardEntry `json:"entries"`
}

// Service exposes the leaderboard over HTTP
type Service struct {
	app *App
}

// NewService creates a new leaderboard service
func NewService(app *App) *Service {
	return &Service{app: app}
}

// RegisterRoutes registers the leaderboard HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/leaderboard", s.HandleGetLeaderboard)
	mux.HandleFunc("GET /api/leaderboard/export", s.HandleExport)
	mux.HandleFunc("POST /api/leaderboard/import", s.HandleImport)
	mux.HandleFunc("GET /api/leaderboard/completed", s.HandleHasCompleted)
	mux.HandleFunc("POST /api/leaderboard/cleanup/duplicates", s.HandleCleanupDuplicates)
}

// HandleGetLeaderboard handles GET /api/leaderboard
func (s *Service) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LeaderboardResponse{
		Configured: s.app.IsConfigured(),
		Entries:    s.app.GetLeaderboard(r.Context()),
	})
}

// HandleExport handles GET /api/leaderboard/export
func (s *Service) HandleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="leaderboard.json"`)
	if _, err := w.Write([]byte(s.app.ExportLeaderboard(r.Context()))); err != nil {
		log.Error().Err(err).Msg("failed to write leaderboard export")
	}
}

// HandleImport handles POST /api/leaderboard/import. The body replaces
// every row.
func (s *Service) HandleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		http.Error(w, "failed to read import body", http.StatusBadRequest)
		return
	}
	if !s.app.ImportLeaderboard(r.Context(), data) {
		http.Error(w, "failed to import leaderboard", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleHasCompleted handles GET /api/leaderboard/completed?name=
func (s *Service) HandleHasCompleted(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      name,
		"completed": s.app.CheckIfUserHasCompletedEntry(r.Context(), name),
	})
}

// HandleCleanupDuplicates handles POST /api/leaderboard/cleanup/duplicates
func (s *Service) HandleCleanupDuplicates(w http.ResponseWriter, r *http.Request) {
	if !s.app.CleanupDuplicates(r.Context()) {
		http.Error(w, "failed to cleanup duplicates", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
