package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard/db"
	"github.com/mcdev12/escaperoom/go/internal/models"
	"github.com/mcdev12/escaperoom/go/internal/sqlutil"
)

// ErrDuplicateCompletedEntry means the store already holds a completed run
// for the same display name.
var ErrDuplicateCompletedEntry = errors.New("a completed entry already exists for this player")

const uniqueViolation = "23505"

// Querier defines what the repository needs from the database layer
type Querier interface {
	ListLeaderboardColumns(ctx context.Context) ([]string, error)
	InsertEntry(ctx context.Context, arg db.InsertEntryParams) (db.Leaderboard, error)
	InsertLegacyEntry(ctx context.Context, arg db.InsertLegacyEntryParams) (db.Leaderboard, error)
	RestoreEntry(ctx context.Context, arg db.RestoreEntryParams) error
	ListEntries(ctx context.Context) ([]db.Leaderboard, error)
	ListLegacyEntries(ctx context.Context) ([]db.Leaderboard, error)
	GetInProgressEntryByName(ctx context.Context, playerName string) (db.Leaderboard, error)
	CompleteEntry(ctx context.Context, arg db.CompleteEntryParams) ([]db.Leaderboard, error)
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteAllEntries(ctx context.Context) (int64, error)
	HasCompletedEntry(ctx context.Context, playerName string) (bool, error)
	ListAbandonedEntryIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// UpdateOutcome distinguishes a real update from one the store's row-level
// policy silently filtered out.
type UpdateOutcome int

const (
	UpdateApplied UpdateOutcome = iota
	UpdateNoRowsAffected
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateApplied:
		return "applied"
	case UpdateNoRowsAffected:
		return "no_rows_affected"
	default:
		return fmt.Sprintf("UpdateOutcome(%d)", int(o))
	}
}

// CreateEntryRequest represents the data needed to insert a leaderboard row.
// A nil Tracking writes a legacy row without status columns.
type CreateEntryRequest struct {
	PlayerName  string
	TotalTime   int64
	TaskTimes   map[string]int64
	CompletedAt time.Time
	Date        string
	Tracking    *models.Tracking
}

// CompleteEntryRequest carries the final timings of a run
type CompleteEntryRequest struct {
	TotalTime   int64
	TaskTimes   map[string]int64
	CompletedAt time.Time
	Date        string
}

// Repository implements leaderboard data access operations
type Repository struct {
	queries Querier
	db      *sql.DB
}

// NewRepository creates a leaderboard repository. database may be nil, in
// which case multi-statement operations run without a transaction.
func NewRepository(querier Querier, database *sql.DB) *Repository {
	return &Repository{
		queries: querier,
		db:      database,
	}
}

func (r *Repository) withTx(ctx context.Context, fn func(q Querier) error) error {
	if r.db == nil {
		return fn(r.queries)
	}
	return sqlutil.InTx(ctx, r.db,
		func(tx *sql.Tx) Querier { return db.New(tx) },
		fn,
	)
}

// ProbeSchema reports whether the table has the status and started_at columns
func (r *Repository) ProbeSchema(ctx context.Context) (bool, error) {
	cols, err := r.queries.ListLeaderboardColumns(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list leaderboard columns: %w", err)
	}
	var hasStatus, hasStartedAt bool
	for _, c := range cols {
		switch c {
		case "status":
			hasStatus = true
		case "started_at":
			hasStartedAt = true
		}
	}
	return hasStatus && hasStartedAt, nil
}

// CreateEntry inserts a new row
func (r *Repository) CreateEntry(ctx context.Context, req CreateEntryRequest) (*models.LeaderboardEntry, error) {
	return r.createEntry(ctx, r.queries, req)
}

func (r *Repository) createEntry(ctx context.Context, q Querier, req CreateEntryRequest) (*models.LeaderboardEntry, error) {
	taskTimes, err := sqlutil.ToNullRawMessage(nonNilTaskTimes(req.TaskTimes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode task times: %w", err)
	}

	if req.Tracking == nil {
		row, err := q.InsertLegacyEntry(ctx, db.InsertLegacyEntryParams{
			PlayerName:  req.PlayerName,
			TotalTime:   req.TotalTime,
			TaskTimes:   taskTimes,
			CompletedAt: req.CompletedAt,
			Date:        req.Date,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create entry: %w", translate(err))
		}
		return dbEntryToModel(row)
	}

	row, err := q.InsertEntry(ctx, db.InsertEntryParams{
		PlayerName:  req.PlayerName,
		TotalTime:   req.TotalTime,
		TaskTimes:   taskTimes,
		CompletedAt: req.CompletedAt,
		Date:        req.Date,
		Status:      sqlutil.ToSqlString(string(req.Tracking.Status)),
		StartedAt:   sqlutil.ToSqlTime(req.Tracking.StartedAt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", translate(err))
	}
	return dbEntryToModel(row)
}

// ListEntries returns every row ordered by creation time. tracked selects
// the status columns, which older schemas do not have.
func (r *Repository) ListEntries(ctx context.Context, tracked bool) ([]models.LeaderboardEntry, error) {
	var (
		rows []db.Leaderboard
		err  error
	)
	if tracked {
		rows, err = r.queries.ListEntries(ctx)
	} else {
		rows, err = r.queries.ListLegacyEntries(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		e, err := dbEntryToModel(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// GetInProgressEntry returns the newest in-progress row for playerName, or
// nil when there is none.
func (r *Repository) GetInProgressEntry(ctx context.Context, playerName string) (*models.LeaderboardEntry, error) {
	row, err := r.queries.GetInProgressEntryByName(ctx, playerName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get in-progress entry: %w", err)
	}
	return dbEntryToModel(row)
}

// CompleteEntry marks id completed with final timings
func (r *Repository) CompleteEntry(ctx context.Context, id uuid.UUID, req CompleteEntryRequest) (*models.LeaderboardEntry, UpdateOutcome, error) {
	taskTimes, err := sqlutil.ToNullRawMessage(nonNilTaskTimes(req.TaskTimes))
	if err != nil {
		return nil, UpdateApplied, fmt.Errorf("failed to encode task times: %w", err)
	}

	rows, err := r.queries.CompleteEntry(ctx, db.CompleteEntryParams{
		ID:          id,
		TotalTime:   req.TotalTime,
		TaskTimes:   taskTimes,
		CompletedAt: req.CompletedAt,
		Date:        req.Date,
	})
	if err != nil {
		return nil, UpdateApplied, fmt.Errorf("failed to complete entry: %w", translate(err))
	}
	if len(rows) == 0 {
		return nil, UpdateNoRowsAffected, nil
	}

	entry, err := dbEntryToModel(rows[0])
	if err != nil {
		return nil, UpdateApplied, err
	}
	return entry, UpdateApplied, nil
}

// ReplaceEntry deletes id and inserts req in its place, atomically when a
// database handle is available.
func (r *Repository) ReplaceEntry(ctx context.Context, id uuid.UUID, req CreateEntryRequest) (*models.LeaderboardEntry, error) {
	var entry *models.LeaderboardEntry
	err := r.withTx(ctx, func(q Querier) error {
		if err := q.DeleteEntry(ctx, id); err != nil {
			return fmt.Errorf("failed to delete entry %s: %w", id, err)
		}
		e, err := r.createEntry(ctx, q, req)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// HasCompletedEntry reports whether playerName already finished a run
func (r *Repository) HasCompletedEntry(ctx context.Context, playerName string) (bool, error) {
	ok, err := r.queries.HasCompletedEntry(ctx, playerName)
	if err != nil {
		return false, fmt.Errorf("failed to check completed entry: %w", err)
	}
	return ok, nil
}

// ListAbandonedEntryIDs returns in-progress rows started before cutoff
func (r *Repository) ListAbandonedEntryIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	ids, err := r.queries.ListAbandonedEntryIDs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned entries: %w", err)
	}
	return ids, nil
}

// DeleteEntries removes ids and returns how many rows went away
func (r *Repository) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.queries.DeleteEntries(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	return n, nil
}

// ReplaceAll clears the table and restores entries with their original ids
func (r *Repository) ReplaceAll(ctx context.Context, entries []models.LeaderboardEntry) error {
	return r.withTx(ctx, func(q Querier) error {
		if _, err := q.DeleteAllEntries(ctx); err != nil {
			return fmt.Errorf("failed to clear leaderboard: %w", err)
		}
		for _, e := range entries {
			params, err := modelToRestoreParams(e)
			if err != nil {
				return err
			}
			if err := q.RestoreEntry(ctx, params); err != nil {
				return fmt.Errorf("failed to restore entry %s: %w", e.ID, translate(err))
			}
		}
		return nil
	})
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateCompletedEntry, pqErr.Message)
	}
	return err
}

func nonNilTaskTimes(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

// dbEntryToModel converts a database row to the domain model. Rows without a
// status value are legacy rows and read as completed.
func dbEntryToModel(row db.Leaderboard) (*models.LeaderboardEntry, error) {
	taskTimes := map[string]int64{}
	if err := sqlutil.FromNullRawMessage(row.TaskTimes, &taskTimes); err != nil {
		return nil, fmt.Errorf("failed to decode task times for %s: %w", row.ID, err)
	}

	entry := &models.LeaderboardEntry{
		ID:          row.ID,
		PlayerName:  row.PlayerName,
		TotalTime:   row.TotalTime,
		TaskTimes:   taskTimes,
		CompletedAt: row.CompletedAt,
		Date:        row.Date,
		CreatedAt:   row.CreatedAt,
	}
	if row.Status.Valid {
		entry.Tracking = &models.Tracking{
			Status:    models.EntryStatus(row.Status.String),
			StartedAt: sqlutil.FromSqlTime(row.StartedAt),
		}
	}
	return entry, nil
}

func modelToRestoreParams(e models.LeaderboardEntry) (db.RestoreEntryParams, error) {
	taskTimes, err := sqlutil.ToNullRawMessage(nonNilTaskTimes(e.TaskTimes))
	if err != nil {
		return db.RestoreEntryParams{}, fmt.Errorf("failed to encode task times: %w", err)
	}
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	params := db.RestoreEntryParams{
		ID:          id,
		PlayerName:  e.PlayerName,
		TotalTime:   e.TotalTime,
		TaskTimes:   taskTimes,
		CompletedAt: e.CompletedAt,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
	if e.Tracking != nil {
		params.Status = sqlutil.ToSqlString(string(e.Tracking.Status))
		params.StartedAt = sqlutil.ToSqlTime(e.Tracking.StartedAt)
	}
	return params, nil
}
