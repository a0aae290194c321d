package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the lifecycle state of a leaderboard row
type EntryStatus string

const (
	EntryStatusInProgress EntryStatus = "in_progress"
	EntryStatusCompleted  EntryStatus = "completed"
)

// Tracking carries the lifecycle columns that older rows do not have
type Tracking struct {
	Status    EntryStatus
	StartedAt *time.Time
}

// LeaderboardEntry represents one player run on the leaderboard.
// A nil Tracking marks a legacy row, which always reads as completed.
type LeaderboardEntry struct {
	ID          uuid.UUID
	PlayerName  string
	TotalTime   int64 // milliseconds
	TaskTimes   map[string]int64
	CompletedAt time.Time
	Date        string
	CreatedAt   time.Time
	Tracking    *Tracking
}

// IsLegacy reports whether the row predates status tracking
func (e LeaderboardEntry) IsLegacy() bool {
	return e.Tracking == nil
}

// Status returns the normalized status; legacy rows are completed
func (e LeaderboardEntry) Status() EntryStatus {
	if e.Tracking == nil || e.Tracking.Status == "" {
		return EntryStatusCompleted
	}
	return e.Tracking.Status
}

// StartedAtOrCreated falls back to the store-assigned creation time
func (e LeaderboardEntry) StartedAtOrCreated() time.Time {
	if e.Tracking != nil && e.Tracking.StartedAt != nil {
		return *e.Tracking.StartedAt
	}
	return e.CreatedAt
}

type entryJSON struct {
	ID          uuid.UUID        `json:"id"`
	PlayerName  string           `json:"player_name"`
	TotalTime   int64            `json:"total_time"`
	TaskTimes   map[string]int64 `json:"task_times"`
	CompletedAt time.Time        `json:"completed_at"`
	Date        string           `json:"date"`
	CreatedAt   time.Time        `json:"created_at"`
	Status      EntryStatus      `json:"status,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
}

// MarshalJSON always emits the normalized status
func (e LeaderboardEntry) MarshalJSON() ([]byte, error) {
	taskTimes := e.TaskTimes
	if taskTimes == nil {
		taskTimes = map[string]int64{}
	}
	j := entryJSON{
		ID:          e.ID,
		PlayerName:  e.PlayerName,
		TotalTime:   e.TotalTime,
		TaskTimes:   taskTimes,
		CompletedAt: e.CompletedAt,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
		Status:      e.Status(),
	}
	if e.Tracking != nil {
		j.StartedAt = e.Tracking.StartedAt
	}
	return json.Marshal(j)
}

// UnmarshalJSON reads exported rows; a missing status yields a legacy entry
func (e *LeaderboardEntry) UnmarshalJSON(data []byte) error {
	var j entryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*e = LeaderboardEntry{
		ID:          j.ID,
		PlayerName:  j.PlayerName,
		TotalTime:   j.TotalTime,
		TaskTimes:   j.TaskTimes,
		CompletedAt: j.CompletedAt,
		Date:        j.Date,
		CreatedAt:   j.CreatedAt,
	}
	if j.Status != "" {
		e.Tracking = &Tracking{Status: j.Status, StartedAt: j.StartedAt}
	}
	return nil
}
