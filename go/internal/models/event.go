package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardEventType names a change to the leaderboard table
type LeaderboardEventType string

const (
	EventEntryStarted    LeaderboardEventType = "entry.started"
	EventEntryCompleted  LeaderboardEventType = "entry.completed"
	EventEntriesRemoved  LeaderboardEventType = "entries.removed"
	EventLeaderboardSync LeaderboardEventType = "leaderboard.sync"
)

// LeaderboardEvent is emitted after a successful leaderboard write
type LeaderboardEvent struct {
	ID         uuid.UUID            `json:"id"`
	Type       LeaderboardEventType `json:"type"`
	PlayerName string               `json:"player_name,omitempty"`
	EntryIDs   []uuid.UUID          `json:"entry_ids,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}
