package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const trackedColumns = `id, player_name, total_time, task_times, completed_at, date, created_at, status, started_at`

const legacyColumns = `id, player_name, total_time, task_times, completed_at, date, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTracked(row rowScanner) (Leaderboard, error) {
	var i Leaderboard
	err := row.Scan(
		&i.ID,
		&i.PlayerName,
		&i.TotalTime,
		&i.TaskTimes,
		&i.CompletedAt,
		&i.Date,
		&i.CreatedAt,
		&i.Status,
		&i.StartedAt,
	)
	return i, err
}

func scanLegacy(row rowScanner) (Leaderboard, error) {
	var i Leaderboard
	err := row.Scan(
		&i.ID,
		&i.PlayerName,
		&i.TotalTime,
		&i.TaskTimes,
		&i.CompletedAt,
		&i.Date,
		&i.CreatedAt,
	)
	return i, err
}

func collect(rows *sql.Rows, scan func(rowScanner) (Leaderboard, error)) ([]Leaderboard, error) {
	defer rows.Close()
	var items []Leaderboard
	for rows.Next() {
		i, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listLeaderboardColumns = `-- name: ListLeaderboardColumns :many
SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = 'leaderboard'
`

func (q *Queries) ListLeaderboardColumns(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listLeaderboardColumns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertEntry = `-- name: InsertEntry :one
INSERT INTO leaderboard (player_name, total_time, task_times, completed_at, date, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + trackedColumns

type InsertEntryParams struct {
	PlayerName  string                `json:"player_name"`
	TotalTime   int64                 `json:"total_time"`
	TaskTimes   pqtype.NullRawMessage `json:"task_times"`
	CompletedAt time.Time             `json:"completed_at"`
	Date        string                `json:"date"`
	Status      sql.NullString        `json:"status"`
	StartedAt   sql.NullTime          `json:"started_at"`
}

func (q *Queries) InsertEntry(ctx context.Context, arg InsertEntryParams) (Leaderboard, error) {
	row := q.db.QueryRowContext(ctx, insertEntry,
		arg.PlayerName,
		arg.TotalTime,
		arg.TaskTimes,
		arg.CompletedAt,
		arg.Date,
		arg.Status,
		arg.StartedAt,
	)
	return scanTracked(row)
}

const insertLegacyEntry = `-- name: InsertLegacyEntry :one
INSERT INTO leaderboard (player_name, total_time, task_times, completed_at, date)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + legacyColumns

type InsertLegacyEntryParams struct {
	PlayerName  string                `json:"player_name"`
	TotalTime   int64                 `json:"total_time"`
	TaskTimes   pqtype.NullRawMessage `json:"task_times"`
	CompletedAt time.Time             `json:"completed_at"`
	Date        string                `json:"date"`
}

func (q *Queries) InsertLegacyEntry(ctx context.Context, arg InsertLegacyEntryParams) (Leaderboard, error) {
	row := q.db.QueryRowContext(ctx, insertLegacyEntry,
		arg.PlayerName,
		arg.TotalTime,
		arg.TaskTimes,
		arg.CompletedAt,
		arg.Date,
	)
	return scanLegacy(row)
}

const restoreEntry = `-- name: RestoreEntry :exec
INSERT INTO leaderboard (id, player_name, total_time, task_times, completed_at, date, created_at, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

type RestoreEntryParams struct {
	ID          uuid.UUID             `json:"id"`
	PlayerName  string                `json:"player_name"`
	TotalTime   int64                 `json:"total_time"`
	TaskTimes   pqtype.NullRawMessage `json:"task_times"`
	CompletedAt time.Time             `json:"completed_at"`
	Date        string                `json:"date"`
	CreatedAt   time.Time             `json:"created_at"`
	Status      sql.NullString        `json:"status"`
	StartedAt   sql.NullTime          `json:"started_at"`
}

func (q *Queries) RestoreEntry(ctx context.Context, arg RestoreEntryParams) error {
	_, err := q.db.ExecContext(ctx, restoreEntry,
		arg.ID,
		arg.PlayerName,
		arg.TotalTime,
		arg.TaskTimes,
		arg.CompletedAt,
		arg.Date,
		arg.CreatedAt,
		arg.Status,
		arg.StartedAt,
	)
	return err
}

const listEntries = `-- name: ListEntries :many
SELECT ` + trackedColumns + ` FROM leaderboard
ORDER BY created_at ASC
`

func (q *Queries) ListEntries(ctx context.Context) ([]Leaderboard, error) {
	rows, err := q.db.QueryContext(ctx, listEntries)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTracked)
}

const listLegacyEntries = `-- name: ListLegacyEntries :many
SELECT ` + legacyColumns + ` FROM leaderboard
ORDER BY created_at ASC
`

func (q *Queries) ListLegacyEntries(ctx context.Context) ([]Leaderboard, error) {
	rows, err := q.db.QueryContext(ctx, listLegacyEntries)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLegacy)
}

const getInProgressEntryByName = `-- name: GetInProgressEntryByName :one
SELECT ` + trackedColumns + ` FROM leaderboard
WHERE player_name = $1 AND status = 'in_progress'
ORDER BY started_at DESC NULLS LAST
LIMIT 1
`

func (q *Queries) GetInProgressEntryByName(ctx context.Context, playerName string) (Leaderboard, error) {
	row := q.db.QueryRowContext(ctx, getInProgressEntryByName, playerName)
	return scanTracked(row)
}

const completeEntry = `-- name: CompleteEntry :many
UPDATE leaderboard
SET total_time = $2, task_times = $3, completed_at = $4, date = $5, status = 'completed'
WHERE id = $1
RETURNING ` + trackedColumns

type CompleteEntryParams struct {
	ID          uuid.UUID             `json:"id"`
	TotalTime   int64                 `json:"total_time"`
	TaskTimes   pqtype.NullRawMessage `json:"task_times"`
	CompletedAt time.Time             `json:"completed_at"`
	Date        string                `json:"date"`
}

// CompleteEntry returns the updated rows. Row-level security can filter the
// target out, in which case the slice is empty and no error is reported.
func (q *Queries) CompleteEntry(ctx context.Context, arg CompleteEntryParams) ([]Leaderboard, error) {
	rows, err := q.db.QueryContext(ctx, completeEntry,
		arg.ID,
		arg.TotalTime,
		arg.TaskTimes,
		arg.CompletedAt,
		arg.Date,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTracked)
}

const deleteEntry = `-- name: DeleteEntry :exec
DELETE FROM leaderboard WHERE id = $1
`

func (q *Queries) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, deleteEntry, id)
	return err
}

const deleteEntries = `-- name: DeleteEntries :execrows
DELETE FROM leaderboard WHERE id = ANY($1::uuid[])
`

func (q *Queries) DeleteEntries(ctx context.Context, ids []uuid.UUID) (int64, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	result, err := q.db.ExecContext(ctx, deleteEntries, pq.Array(strs))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteAllEntries = `-- name: DeleteAllEntries :execrows
DELETE FROM leaderboard
`

func (q *Queries) DeleteAllEntries(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteAllEntries)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const hasCompletedEntry = `-- name: HasCompletedEntry :one
SELECT EXISTS (
    SELECT 1 FROM leaderboard
    WHERE lower(player_name) = lower($1) AND status = 'completed'
)
`

func (q *Queries) HasCompletedEntry(ctx context.Context, playerName string) (bool, error) {
	row := q.db.QueryRowContext(ctx, hasCompletedEntry, playerName)
	var exists bool
	err := row.Scan(&exists)
	return exists, err
}

const listAbandonedEntryIDs = `-- name: ListAbandonedEntryIDs :many
SELECT id FROM leaderboard
WHERE status = 'in_progress' AND started_at < $1
`

func (q *Queries) ListAbandonedEntryIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listAbandonedEntryIDs, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
