package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard/events"
	"github.com/mcdev12/escaperoom/go/internal/models"
)

// ErrNotConfigured is returned when no leaderboard store was set up.
var ErrNotConfigured = errors.New("leaderboard store is not configured")

// DateLayout renders the display date column.
const DateLayout = "1/2/2006"

// LeaderboardRepository defines what the app layer needs from the repository
type LeaderboardRepository interface {
	ProbeSchema(ctx context.Context) (bool, error)
	CreateEntry(ctx context.Context, req CreateEntryRequest) (*models.LeaderboardEntry, error)
	ListEntries(ctx context.Context, tracked bool) ([]models.LeaderboardEntry, error)
	GetInProgressEntry(ctx context.Context, playerName string) (*models.LeaderboardEntry, error)
	CompleteEntry(ctx context.Context, id uuid.UUID, req CompleteEntryRequest) (*models.LeaderboardEntry, UpdateOutcome, error)
	ReplaceEntry(ctx context.Context, id uuid.UUID, req CreateEntryRequest) (*models.LeaderboardEntry, error)
	HasCompletedEntry(ctx context.Context, playerName string) (bool, error)
	ListAbandonedEntryIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error)
	ReplaceAll(ctx context.Context, entries []models.LeaderboardEntry) error
}

// Config holds leaderboard app settings
type Config struct {
	AbandonedMaxAge time.Duration
	CleanupTimeout  time.Duration
}

// DefaultConfig returns the default leaderboard settings
func DefaultConfig() Config {
	return Config{
		AbandonedMaxAge: 24 * time.Hour,
		CleanupTimeout:  30 * time.Second,
	}
}

// FinalResult carries the timings of a finished run
type FinalResult struct {
	TotalTime int64
	TaskTimes map[string]int64
}

// App is the remote leaderboard client. Every operation fails soft: store
// errors are logged and surface as nil, false or an empty slice.
type App struct {
	repo      LeaderboardRepository
	publisher events.Publisher
	clock     clockwork.Clock
	config    Config

	schemaHasStatusColumn bool

	cleanupRunning atomic.Bool
	wg             sync.WaitGroup
}

// NewApp creates a leaderboard App. A nil repo yields an unconfigured App
// whose operations all return empty results. The schema is probed once here.
func NewApp(ctx context.Context, repo LeaderboardRepository, publisher events.Publisher, clock clockwork.Clock, config Config) *App {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	a := &App{
		repo:                  repo,
		publisher:             publisher,
		clock:                 clock,
		config:                config,
		schemaHasStatusColumn: true,
	}
	if repo == nil {
		log.Warn().Msg("leaderboard store not configured, leaderboard functionality will be limited")
		return a
	}

	hasStatus, err := repo.ProbeSchema(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to probe leaderboard schema, assuming status columns exist")
		return a
	}
	a.schemaHasStatusColumn = hasStatus
	if !hasStatus {
		log.Warn().Msg("leaderboard schema lacks status columns, running in legacy mode")
	}
	return a
}

// IsConfigured reports whether a backing store is available
func (a *App) IsConfigured() bool {
	return a.repo != nil
}

// SchemaHasStatusColumn reports whether entries are tracked through their lifecycle
func (a *App) SchemaHasStatusColumn() bool {
	return a.schemaHasStatusColumn
}

// CreateInProgressEntry inserts a live row for a player who just started.
// A nil result means the game proceeds without a live row.
func (a *App) CreateInProgressEntry(ctx context.Context, playerName string) *models.LeaderboardEntry {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot create in-progress entry")
		return nil
	}
	if !a.schemaHasStatusColumn {
		log.Warn().Str("player_name", playerName).Msg("in-progress entries not supported by legacy schema")
		return nil
	}

	now := a.clock.Now().UTC()
	entry, err := a.repo.CreateEntry(ctx, CreateEntryRequest{
		PlayerName:  playerName,
		TotalTime:   0,
		TaskTimes:   map[string]int64{},
		CompletedAt: now,
		Date:        now.Format(DateLayout),
		Tracking: &models.Tracking{
			Status:    models.EntryStatusInProgress,
			StartedAt: &now,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("player_name", playerName).Msg("error creating in-progress entry")
		return nil
	}

	log.Info().Str("player_name", playerName).Str("entry_id", entry.ID.String()).Msg("in-progress entry created")
	a.publish(ctx, models.EventEntryStarted, playerName, entry.ID)
	return entry
}

// FinalizeEntry records a finished run. An existing in-progress row is
// completed in place; when the store's row policy filters the update out the
// row is deleted and reinserted as completed. Without an in-progress row a
// completed row is inserted directly. A nil error means the write is durable.
func (a *App) FinalizeEntry(ctx context.Context, playerName string, result FinalResult) (*models.LeaderboardEntry, error) {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot submit score")
		return nil, ErrNotConfigured
	}

	now := a.clock.Now().UTC()
	logger := log.With().Str("player_name", playerName).Int64("total_time", result.TotalTime).Logger()

	var existing *models.LeaderboardEntry
	if a.schemaHasStatusColumn {
		found, err := a.repo.GetInProgressEntry(ctx, playerName)
		if err != nil {
			logger.Warn().Err(err).Msg("in-progress lookup failed, inserting a new entry")
		}
		existing = found
	}

	var (
		entry *models.LeaderboardEntry
		err   error
	)
	if existing != nil {
		entry, err = a.completeExisting(ctx, *existing, result, now)
	} else {
		entry, err = a.repo.CreateEntry(ctx, a.completedRequest(playerName, result, now, nil))
	}
	if err != nil {
		logger.Error().Err(err).Msg("error submitting score")
		return nil, err
	}

	logger.Info().Str("entry_id", entry.ID.String()).Msg("score submitted")
	a.publish(ctx, models.EventEntryCompleted, playerName, entry.ID)
	return entry, nil
}

func (a *App) completeExisting(ctx context.Context, existing models.LeaderboardEntry, result FinalResult, now time.Time) (*models.LeaderboardEntry, error) {
	entry, outcome, err := a.repo.CompleteEntry(ctx, existing.ID, CompleteEntryRequest{
		TotalTime:   result.TotalTime,
		TaskTimes:   result.TaskTimes,
		CompletedAt: now,
		Date:        now.Format(DateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update existing entry: %w", err)
	}

	switch outcome {
	case UpdateApplied:
		return entry, nil
	case UpdateNoRowsAffected:
		log.Warn().
			Str("player_name", existing.PlayerName).
			Str("entry_id", existing.ID.String()).
			Msg("update affected no rows, replacing entry")
		var startedAt *time.Time
		if existing.Tracking != nil {
			startedAt = existing.Tracking.StartedAt
		}
		return a.repo.ReplaceEntry(ctx, existing.ID, a.completedRequest(existing.PlayerName, result, now, startedAt))
	default:
		return nil, fmt.Errorf("unexpected update outcome %s", outcome)
	}
}

func (a *App) completedRequest(playerName string, result FinalResult, now time.Time, startedAt *time.Time) CreateEntryRequest {
	req := CreateEntryRequest{
		PlayerName:  playerName,
		TotalTime:   result.TotalTime,
		TaskTimes:   result.TaskTimes,
		CompletedAt: now,
		Date:        now.Format(DateLayout),
	}
	if a.schemaHasStatusColumn {
		req.Tracking = &models.Tracking{
			Status:    models.EntryStatusCompleted,
			StartedAt: startedAt,
		}
	}
	return req
}

// CheckIfUserHasCompletedEntry reports whether playerName already finished a
// run, ignoring case.
func (a *App) CheckIfUserHasCompletedEntry(ctx context.Context, playerName string) bool {
	if a.repo == nil {
		return false
	}

	if !a.schemaHasStatusColumn {
		entries, err := a.repo.ListEntries(ctx, false)
		if err != nil {
			log.Error().Err(err).Str("player_name", playerName).Msg("error checking for completed entry")
			return false
		}
		return containsName(entries, playerName, true)
	}

	ok, err := a.repo.HasCompletedEntry(ctx, playerName)
	if err != nil {
		log.Error().Err(err).Str("player_name", playerName).Msg("error checking for completed entry")
		return false
	}
	return ok
}

// IsNameTaken reports whether any row, live or finished, uses playerName in
// any letter case.
func (a *App) IsNameTaken(ctx context.Context, playerName string) bool {
	if a.repo == nil {
		return false
	}
	entries, err := a.repo.ListEntries(ctx, a.schemaHasStatusColumn)
	if err != nil {
		log.Error().Err(err).Str("player_name", playerName).Msg("error checking name availability")
		return false
	}
	return containsName(entries, playerName, false)
}

func containsName(entries []models.LeaderboardEntry, playerName string, completedOnly bool) bool {
	want := strings.TrimSpace(playerName)
	for _, e := range entries {
		if completedOnly && e.Status() != models.EntryStatusCompleted {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(e.PlayerName), want) {
			return true
		}
	}
	return false
}

// GetLeaderboard returns every row in display order. It also kicks off an
// abandoned-entry cleanup in the background.
func (a *App) GetLeaderboard(ctx context.Context) []models.LeaderboardEntry {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot fetch leaderboard")
		return []models.LeaderboardEntry{}
	}

	a.cleanupInBackground(ctx)

	entries, err := a.repo.ListEntries(ctx, a.schemaHasStatusColumn)
	if err != nil {
		log.Error().Err(err).Msg("error fetching leaderboard")
		return []models.LeaderboardEntry{}
	}
	SortEntries(entries)
	return entries
}

func (a *App) cleanupInBackground(ctx context.Context) {
	if !a.schemaHasStatusColumn || !a.cleanupRunning.CompareAndSwap(false, true) {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.CleanupTimeout)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cleanupRunning.Store(false)
		defer cancel()
		if !a.CleanupAbandonedEntries(cleanupCtx, a.config.AbandonedMaxAge) {
			log.Warn().Msg("background cleanup failed")
		}
	}()
}

// Wait blocks until background cleanups have finished
func (a *App) Wait() {
	a.wg.Wait()
}

// CleanupAbandonedEntries deletes in-progress rows started more than maxAge
// ago. Legacy schemas have nothing to clean and report success.
func (a *App) CleanupAbandonedEntries(ctx context.Context, maxAge time.Duration) bool {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot cleanup abandoned entries")
		return false
	}
	if !a.schemaHasStatusColumn {
		log.Debug().Msg("abandoned cleanup not available on legacy schema")
		return true
	}

	cutoff := a.clock.Now().UTC().Add(-maxAge)
	ids, err := a.repo.ListAbandonedEntryIDs(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("error listing abandoned entries")
		return false
	}
	if len(ids) == 0 {
		log.Debug().Msg("no abandoned entries found")
		return true
	}

	removed, err := a.repo.DeleteEntries(ctx, ids)
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("error removing abandoned entries")
		return false
	}

	log.Info().Int64("removed", removed).Msg("removed abandoned in-progress entries")
	a.publish(ctx, models.EventEntriesRemoved, "", ids...)
	return true
}

type duplicateKey struct {
	playerName string
	totalTime  int64
}

// CleanupDuplicates keeps the earliest row for every (player name, total
// time) pair and deletes the rest.
func (a *App) CleanupDuplicates(ctx context.Context) bool {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot cleanup duplicates")
		return false
	}

	entries, err := a.repo.ListEntries(ctx, a.schemaHasStatusColumn)
	if err != nil {
		log.Error().Err(err).Msg("error fetching entries for cleanup")
		return false
	}

	ids := DuplicateIDs(entries)
	if len(ids) == 0 {
		log.Debug().Msg("no duplicates found")
		return true
	}

	removed, err := a.repo.DeleteEntries(ctx, ids)
	if err != nil {
		log.Error().Err(err).Int("count", len(ids)).Msg("error removing duplicates")
		return false
	}

	log.Info().Int64("removed", removed).Msg("removed duplicate entries")
	a.publish(ctx, models.EventEntriesRemoved, "", ids...)
	return true
}

// DuplicateIDs returns the ids of every row that repeats an earlier row's
// player name and total time. entries must be ordered oldest first.
func DuplicateIDs(entries []models.LeaderboardEntry) []uuid.UUID {
	seen := make(map[duplicateKey]struct{}, len(entries))
	var ids []uuid.UUID
	for _, e := range entries {
		k := duplicateKey{playerName: e.PlayerName, totalTime: e.TotalTime}
		if _, ok := seen[k]; ok {
			ids = append(ids, e.ID)
			continue
		}
		seen[k] = struct{}{}
	}
	return ids
}

// ExportLeaderboard returns the sorted leaderboard as indented JSON
func (a *App) ExportLeaderboard(ctx context.Context) string {
	data, err := json.MarshalIndent(a.GetLeaderboard(ctx), "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("error exporting leaderboard")
		return "[]"
	}
	return string(data)
}

// ImportLeaderboard replaces every row with the entries encoded in data
func (a *App) ImportLeaderboard(ctx context.Context, data []byte) bool {
	if a.repo == nil {
		log.Error().Msg("leaderboard store not configured, cannot import leaderboard")
		return false
	}

	if !a.schemaHasStatusColumn {
		log.Error().Msg("leaderboard import requires the status columns")
		return false
	}

	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Error().Err(err).Msg("error parsing leaderboard import")
		return false
	}
	now := a.clock.Now().UTC()
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	if err := a.repo.ReplaceAll(ctx, entries); err != nil {
		log.Error().Err(err).Msg("error importing leaderboard")
		return false
	}

	log.Info().Int("count", len(entries)).Msg("leaderboard imported")
	a.publish(ctx, models.EventLeaderboardSync, "")
	return true
}

func (a *App) publish(ctx context.Context, eventType models.LeaderboardEventType, playerName string, ids ...uuid.UUID) {
	event := models.LeaderboardEvent{
		ID:         uuid.New(),
		Type:       eventType,
		PlayerName: playerName,
		EntryIDs:   ids,
		OccurredAt: a.clock.Now().UTC(),
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish leaderboard event")
	}
}
