// Package submission turns a finished session into exactly one completed
// leaderboard row and gates display names before a game starts.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard"
	"github.com/mcdev12/escaperoom/go/internal/models"
	"github.com/mcdev12/escaperoom/go/internal/progress"
)

var (
	ErrNameTooShort     = errors.New("player name is too short")
	ErrNameTooLong      = errors.New("player name is too long")
	ErrNameTaken        = errors.New("player name is already taken")
	ErrNoPlayerName     = errors.New("session has no player name")
	ErrNameMismatch     = errors.New("player name does not match the session")
	ErrNotFinished      = errors.New("not every task is completed")
	ErrAlreadySubmitted = errors.New("score already submitted for this session")
	ErrSubmitInFlight   = errors.New("score submission already in progress")
	ErrSubmitFailed     = errors.New("score could not be recorded")
)

// LeaderboardClient defines what the workflow needs from the leaderboard
type LeaderboardClient interface {
	CreateInProgressEntry(ctx context.Context, playerName string) *models.LeaderboardEntry
	FinalizeEntry(ctx context.Context, playerName string, result leaderboard.FinalResult) (*models.LeaderboardEntry, error)
	CheckIfUserHasCompletedEntry(ctx context.Context, playerName string) bool
	IsNameTaken(ctx context.Context, playerName string) bool
}

// SessionProvider hands out sessions by id
type SessionProvider interface {
	Session(ctx context.Context, id string) *progress.Session
}

// Config holds the display name rules
type Config struct {
	NameMinLength int
	NameMaxLength int
}

// DefaultConfig returns the default name rules
func DefaultConfig() Config {
	return Config{
		NameMinLength: 2,
		NameMaxLength: 20,
	}
}

// BeginResult describes a freshly started game
type BeginResult struct {
	PlayerName string                   `json:"player_name"`
	Entry      *models.LeaderboardEntry `json:"entry,omitempty"`
	FirstTask  models.TaskID            `json:"first_task"`
}

// NameCheck is the outcome of a name availability check
type NameCheck struct {
	Name      string `json:"name"`
	Valid     bool   `json:"valid"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Workflow coordinates session progress with the leaderboard
type Workflow struct {
	leaderboard LeaderboardClient
	sessions    SessionProvider
	config      Config

	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// NewWorkflow creates a submission workflow
func NewWorkflow(lb LeaderboardClient, sessions SessionProvider, config Config) *Workflow {
	return &Workflow{
		leaderboard: lb,
		sessions:    sessions,
		config:      config,
		inFlight:    make(map[string]bool),
	}
}

// NormalizeName trims surrounding whitespace
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateName checks the length rules on a normalized name
func (w *Workflow) ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < w.config.NameMinLength {
		return fmt.Errorf("%w: minimum %d characters", ErrNameTooShort, w.config.NameMinLength)
	}
	if w.config.NameMaxLength > 0 && n > w.config.NameMaxLength {
		return fmt.Errorf("%w: maximum %d characters", ErrNameTooLong, w.config.NameMaxLength)
	}
	return nil
}

// CheckName validates name and looks it up against every leaderboard row,
// ignoring case.
func (w *Workflow) CheckName(ctx context.Context, name string) NameCheck {
	name = NormalizeName(name)
	check := NameCheck{Name: name}
	if err := w.ValidateName(name); err != nil {
		check.Reason = err.Error()
		return check
	}
	check.Valid = true
	if w.leaderboard.IsNameTaken(ctx, name) {
		check.Reason = ErrNameTaken.Error()
		return check
	}
	check.Available = true
	return check
}

// BeginSession commits a display name to a session and starts a new game.
// The live leaderboard row is best effort; the game proceeds without it.
func (w *Workflow) BeginSession(ctx context.Context, sessionID, name string) (*BeginResult, error) {
	name = NormalizeName(name)
	if err := w.ValidateName(name); err != nil {
		return nil, err
	}
	if w.leaderboard.IsNameTaken(ctx, name) {
		return nil, ErrNameTaken
	}

	sess := w.sessions.Session(ctx, sessionID)
	if err := sess.StartNewGame(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}
	if err := sess.SetPlayerName(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to store player name: %w", err)
	}

	entry := w.leaderboard.CreateInProgressEntry(ctx, name)
	if entry == nil {
		log.Warn().Str("player_name", name).Msg("continuing without a live leaderboard entry")
	}

	first := sess.Tracker.ValidTasks()[0]
	if err := sess.Tracker.StartTask(ctx, first); err != nil {
		return nil, fmt.Errorf("failed to start first task: %w", err)
	}

	log.Info().Str("session_id", sessionID).Str("player_name", name).Msg("session started")
	return &BeginResult{PlayerName: name, Entry: entry, FirstTask: first}, nil
}

func (w *Workflow) acquire(sessionID string) bool {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()
	if w.inFlight[sessionID] {
		return false
	}
	w.inFlight[sessionID] = true
	return true
}

func (w *Workflow) release(sessionID string) {
	w.inFlightMu.Lock()
	delete(w.inFlight, sessionID)
	w.inFlightMu.Unlock()
}

// InFlight reports whether a score submission for sessionID is running
func (w *Workflow) InFlight(sessionID string) bool {
	w.inFlightMu.Lock()
	defer w.inFlightMu.Unlock()
	return w.inFlight[sessionID]
}

// submitName picks the name a score is recorded under. A name committed by
// BeginSession always wins and a different requested name is refused. The
// requested name is used only when nothing was committed, in which case
// uncommitted is true.
func (w *Workflow) submitName(ctx context.Context, sess *progress.Session, requested string) (name string, uncommitted bool, err error) {
	stored, err := sess.PlayerName(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to read player name: %w", err)
	}
	committed := NormalizeName(stored)
	requested = NormalizeName(requested)

	switch {
	case committed != "":
		if requested != "" && !strings.EqualFold(requested, committed) {
			return "", false, fmt.Errorf("%w: session plays as %q", ErrNameMismatch, committed)
		}
		return committed, false, nil
	case requested == "":
		return "", false, ErrNoPlayerName
	}
	if err := w.ValidateName(requested); err != nil {
		return "", false, err
	}
	return requested, true, nil
}

// SubmitScore records the session's finished run on the leaderboard under
// the name committed by BeginSession. Overlapping calls for one session
// collapse into the first; the session is flagged as submitted only after
// the leaderboard write is confirmed.
func (w *Workflow) SubmitScore(ctx context.Context, sessionID, name string) (*models.LeaderboardEntry, error) {
	if !w.acquire(sessionID) {
		log.Info().Str("session_id", sessionID).Msg("score submission already in progress")
		return nil, ErrSubmitInFlight
	}
	defer w.release(sessionID)

	sess := w.sessions.Session(ctx, sessionID)
	name, uncommitted, err := w.submitName(ctx, sess, name)
	if err != nil {
		return nil, err
	}

	tracker := sess.Tracker
	if !tracker.IsAllTasksCompleted() {
		return nil, ErrNotFinished
	}
	if tracker.ScoreSubmitted() {
		return nil, ErrAlreadySubmitted
	}

	if uncommitted && w.leaderboard.IsNameTaken(ctx, name) {
		log.Warn().Str("session_id", sessionID).Str("player_name", name).Msg("uncommitted submit name already in use")
		return nil, ErrNameTaken
	}

	if w.leaderboard.CheckIfUserHasCompletedEntry(ctx, name) {
		log.Warn().Str("session_id", sessionID).Str("player_name", name).Msg("completed entry already exists for name")
		return nil, ErrNameTaken
	}

	entry, err := w.leaderboard.FinalizeEntry(ctx, name, leaderboard.FinalResult{
		TotalTime: tracker.TotalTime().Milliseconds(),
		TaskTimes: tracker.TaskTimes(),
	})
	if errors.Is(err, leaderboard.ErrDuplicateCompletedEntry) {
		return nil, ErrNameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	if err := tracker.MarkScoreSubmitted(ctx); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("score recorded but failed to persist submitted flag")
	}
	return entry, nil
}
