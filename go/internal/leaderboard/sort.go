package leaderboard

import (
	"sort"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

// SortEntries orders entries for display: in-progress runs first with the
// most recently started on top, then completed runs fastest first.
func SortEntries(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b models.LeaderboardEntry) bool {
	aStatus, bStatus := a.Status(), b.Status()
	if aStatus != bStatus {
		return aStatus == models.EntryStatusInProgress
	}
	if aStatus == models.EntryStatusInProgress {
		return a.StartedAtOrCreated().After(b.StartedAtOrCreated())
	}
	return a.TotalTime < b.TotalTime
}
