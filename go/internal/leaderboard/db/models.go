package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Leaderboard struct {
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
