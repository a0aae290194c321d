package leaderboard

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

func TestDuplicateIDs(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	entries := []models.LeaderboardEntry{
		{ID: a, PlayerName: "alice", TotalTime: 10},
		{ID: b, PlayerName: "alice", TotalTime: 10},
		{ID: c, PlayerName: "Alice", TotalTime: 10},
		{ID: d, PlayerName: "alice", TotalTime: 10},
	}
	assert.Equal(t, []uuid.UUID{b, d}, DuplicateIDs(entries))
	assert.Empty(t, DuplicateIDs(nil))
}

func TestSortEntriesFallsBackToCreatedAt(t *testing.T) {
	base := time.Date(2026, 3, 20, 19, 0, 0, 0, time.UTC)
	entries := []models.LeaderboardEntry{
		{PlayerName: "early", CreatedAt: base, Tracking: &models.Tracking{Status: models.EntryStatusInProgress}},
		{PlayerName: "late", CreatedAt: base.Add(time.Minute), Tracking: &models.Tracking{Status: models.EntryStatusInProgress}},
		{PlayerName: "done", TotalTime: 1},
	}
	SortEntries(entries)
	assert.Equal(t, "late", entries[0].PlayerName)
	assert.Equal(t, "early", entries[1].PlayerName)
	assert.Equal(t, "done", entries[2].PlayerName)
}
