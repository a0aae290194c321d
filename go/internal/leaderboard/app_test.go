package leaderboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard"
	"github.com/mcdev12/escaperoom/go/internal/leaderboard/leaderboardtest"
	"github.com/mcdev12/escaperoom/go/internal/models"
)

var epoch = time.Date(2026, 3, 20, 19, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LeaderboardEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e models.LeaderboardEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []models.LeaderboardEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.LeaderboardEventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestApp(t *testing.T) (*leaderboard.App, *leaderboardtest.MemoryRepository, *clockwork.FakeClock, *recordingPublisher) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	repo := leaderboardtest.NewMemoryRepository(clock)
	pub := &recordingPublisher{}
	app := leaderboard.NewApp(context.Background(), repo, pub, clock, leaderboard.DefaultConfig())
	t.Cleanup(app.Wait)
	return app, repo, clock, pub
}

func inProgress(name string, startedAt time.Time) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		PlayerName: name,
		TaskTimes:  map[string]int64{},
		CreatedAt:  startedAt,
		Tracking:   &models.Tracking{Status: models.EntryStatusInProgress, StartedAt: &startedAt},
	}
}

func completed(name string, total int64, createdAt time.Time) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		PlayerName: name,
		TotalTime:  total,
		TaskTimes:  map[string]int64{"1": total},
		CreatedAt:  createdAt,
		Tracking:   &models.Tracking{Status: models.EntryStatusCompleted},
	}
}

func TestAppNotConfigured(t *testing.T) {
	ctx := context.Background()
	app := leaderboard.NewApp(ctx, nil, nil, clockwork.NewFakeClockAt(epoch), leaderboard.DefaultConfig())

	assert.False(t, app.IsConfigured())
	assert.Nil(t, app.CreateInProgressEntry(ctx, "alice"))
	assert.Empty(t, app.GetLeaderboard(ctx))
	assert.NotNil(t, app.GetLeaderboard(ctx))
	assert.False(t, app.CheckIfUserHasCompletedEntry(ctx, "alice"))
	assert.False(t, app.IsNameTaken(ctx, "alice"))
	assert.False(t, app.CleanupAbandonedEntries(ctx, 24*time.Hour))
	assert.False(t, app.CleanupDuplicates(ctx))
	assert.False(t, app.ImportLeaderboard(ctx, []byte("[]")))

	entry, err := app.FinalizeEntry(ctx, "alice", leaderboard.FinalResult{TotalTime: 10})
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, leaderboard.ErrNotConfigured)
}

func TestCreateInProgressEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("it inserts an in-progress row stamped with now", func(t *testing.T) {
		app, repo, _, pub := newTestApp(t)

		entry := app.CreateInProgressEntry(ctx, "alice")
		require.NotNil(t, entry)
		assert.Equal(t, models.EntryStatusInProgress, entry.Status())
		assert.Equal(t, int64(0), entry.TotalTime)
		require.NotNil(t, entry.Tracking.StartedAt)
		assert.True(t, entry.Tracking.StartedAt.Equal(epoch))
		assert.Equal(t, "3/20/2026", entry.Date)
		assert.Len(t, repo.Entries(), 1)
		assert.Equal(t, []models.LeaderboardEventType{models.EventEntryStarted}, pub.types())
	})

	t.Run("it returns nil when the insert fails", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		repo.Err = errors.New("connection refused")

		assert.Nil(t, app.CreateInProgressEntry(ctx, "alice"))
	})

	t.Run("it skips the live row on a legacy schema", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		repo := leaderboardtest.NewMemoryRepository(clock)
		repo.Legacy = true
		app := leaderboard.NewApp(ctx, repo, nil, clock, leaderboard.DefaultConfig())

		assert.False(t, app.SchemaHasStatusColumn())
		assert.Nil(t, app.CreateInProgressEntry(ctx, "alice"))
		assert.Empty(t, repo.Entries())
	})
}

func TestFinalizeEntry(t *testing.T) {
	ctx := context.Background()
	result := leaderboard.FinalResult{TotalTime: 120000, TaskTimes: map[string]int64{"1": 30000}}

	t.Run("it completes the in-progress row in place", func(t *testing.T) {
		app, repo, clock, _ := newTestApp(t)
		started := app.CreateInProgressEntry(ctx, "alice")
		require.NotNil(t, started)
		clock.Advance(2 * time.Minute)

		entry, err := app.FinalizeEntry(ctx, "alice", result)
		require.NoError(t, err)
		assert.Equal(t, started.ID, entry.ID)
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())
		assert.Equal(t, int64(120000), entry.TotalTime)
		assert.Equal(t, 1, repo.Updates)
		assert.Zero(t, repo.Replaces)
		assert.Len(t, repo.Entries(), 1)
	})

	t.Run("it replaces the row when the update affects no rows", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		started := app.CreateInProgressEntry(ctx, "alice")
		require.NotNil(t, started)
		repo.BlockUpdates = true

		entry, err := app.FinalizeEntry(ctx, "alice", result)
		require.NoError(t, err)
		assert.NotEqual(t, started.ID, entry.ID)
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())
		assert.Equal(t, started.Tracking.StartedAt, entry.Tracking.StartedAt)
		assert.Equal(t, 1, repo.Replaces)

		rows := repo.Entries()
		require.Len(t, rows, 1)
		assert.Equal(t, entry.ID, rows[0].ID)
	})

	t.Run("it inserts a completed row without an in-progress row", func(t *testing.T) {
		app, repo, _, pub := newTestApp(t)

		entry, err := app.FinalizeEntry(ctx, "bob", result)
		require.NoError(t, err)
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())
		assert.Len(t, repo.Entries(), 1)
		assert.Equal(t, []models.LeaderboardEventType{models.EventEntryCompleted}, pub.types())
	})

	t.Run("it reports the storage unique index", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		repo.Seed(completed("Alice", 5000, epoch))

		entry, err := app.FinalizeEntry(ctx, "alice", result)
		assert.Nil(t, entry)
		assert.ErrorIs(t, err, leaderboard.ErrDuplicateCompletedEntry)
	})

	t.Run("it writes legacy rows on a legacy schema", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		repo := leaderboardtest.NewMemoryRepository(clock)
		repo.Legacy = true
		app := leaderboard.NewApp(ctx, repo, nil, clock, leaderboard.DefaultConfig())

		entry, err := app.FinalizeEntry(ctx, "alice", result)
		require.NoError(t, err)
		assert.True(t, entry.IsLegacy())
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())
	})
}

func TestCheckIfUserHasCompletedEntry(t *testing.T) {
	ctx := context.Background()
	app, repo, _, _ := newTestApp(t)
	repo.Seed(completed("Alice", 1000, epoch), inProgress("Bob", epoch))

	assert.True(t, app.CheckIfUserHasCompletedEntry(ctx, "alice"))
	assert.False(t, app.CheckIfUserHasCompletedEntry(ctx, "bob"))
	assert.False(t, app.CheckIfUserHasCompletedEntry(ctx, "carol"))

	repo.Err = errors.New("timeout")
	assert.False(t, app.CheckIfUserHasCompletedEntry(ctx, "alice"))
}

func TestIsNameTaken(t *testing.T) {
	ctx := context.Background()
	app, repo, _, _ := newTestApp(t)
	repo.Seed(completed("Alice", 1000, epoch), inProgress("Bob", epoch))

	assert.True(t, app.IsNameTaken(ctx, "ALICE"))
	assert.True(t, app.IsNameTaken(ctx, " bob "))
	assert.False(t, app.IsNameTaken(ctx, "carol"))
}

func TestGetLeaderboard(t *testing.T) {
	ctx := context.Background()

	t.Run("it sorts in-progress first then completed by time", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		legacy := completed("legacy", 3000, epoch)
		legacy.Tracking = nil
		repo.Seed(
			completed("slow", 9000, epoch),
			inProgress("older", epoch.Add(-2*time.Hour)),
			legacy,
			completed("fast", 1000, epoch),
			inProgress("newer", epoch.Add(-time.Hour)),
		)

		var names []string
		for _, e := range app.GetLeaderboard(ctx) {
			names = append(names, e.PlayerName)
		}
		assert.Equal(t, []string{"newer", "older", "fast", "legacy", "slow"}, names)
	})

	t.Run("it purges abandoned rows in the background", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		stale := inProgress("stale", epoch.Add(-25*time.Hour))
		fresh := inProgress("fresh", epoch.Add(-time.Hour))
		repo.Seed(stale, fresh)

		app.GetLeaderboard(ctx)
		app.Wait()

		rows := repo.Entries()
		require.Len(t, rows, 1)
		assert.Equal(t, "fresh", rows[0].PlayerName)
	})

	t.Run("it returns an empty list when the store fails", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		repo.Err = errors.New("boom")

		entries := app.GetLeaderboard(ctx)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})
}

func TestCleanupAbandonedEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("it removes rows older than the max age only", func(t *testing.T) {
		app, repo, _, pub := newTestApp(t)
		repo.Seed(
			inProgress("stale", epoch.Add(-25*time.Hour)),
			inProgress("fresh", epoch.Add(-time.Hour)),
			completed("done", 1000, epoch.Add(-48*time.Hour)),
		)

		assert.True(t, app.CleanupAbandonedEntries(ctx, 24*time.Hour))

		var names []string
		for _, e := range repo.Entries() {
			names = append(names, e.PlayerName)
		}
		assert.ElementsMatch(t, []string{"fresh", "done"}, names)
		assert.Contains(t, pub.types(), models.EventEntriesRemoved)
	})

	t.Run("it is a successful no-op on a legacy schema", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		repo := leaderboardtest.NewMemoryRepository(clock)
		repo.Legacy = true
		app := leaderboard.NewApp(ctx, repo, nil, clock, leaderboard.DefaultConfig())

		assert.True(t, app.CleanupAbandonedEntries(ctx, 24*time.Hour))
		assert.Empty(t, repo.Deleted)
	})

	t.Run("it reports store failures", func(t *testing.T) {
		app, repo, _, _ := newTestApp(t)
		repo.Err = errors.New("boom")
		assert.False(t, app.CleanupAbandonedEntries(ctx, 24*time.Hour))
	})
}

func TestCleanupDuplicates(t *testing.T) {
	ctx := context.Background()
	app, repo, _, _ := newTestApp(t)

	first := completed("alice", 1000, epoch)
	first.Tracking = nil
	dup := completed("alice", 1000, epoch.Add(time.Minute))
	dup.Tracking = nil
	other := completed("alice", 2000, epoch.Add(2*time.Minute))
	other.Tracking = nil
	repo.Seed(first, dup, other)
	firstID := repo.Entries()[0].ID

	assert.True(t, app.CleanupDuplicates(ctx))

	rows := repo.Entries()
	require.Len(t, rows, 2)
	assert.Equal(t, firstID, rows[0].ID)
	assert.Equal(t, int64(2000), rows[1].TotalTime)

	assert.True(t, app.CleanupDuplicates(ctx))
	assert.Len(t, repo.Entries(), 2)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	app, repo, _, _ := newTestApp(t)
	repo.Seed(completed("alice", 1000, epoch), inProgress("bob", epoch))

	exported := app.ExportLeaderboard(ctx)

	var decoded []models.LeaderboardEntry
	require.NoError(t, json.Unmarshal([]byte(exported), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "bob", decoded[0].PlayerName)

	other, otherRepo, _, pub := newTestApp(t)
	otherRepo.Seed(completed("zed", 5, epoch))
	assert.True(t, other.ImportLeaderboard(ctx, []byte(exported)))

	rows := otherRepo.Entries()
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string{rows[0].PlayerName, rows[1].PlayerName})
	assert.Contains(t, pub.types(), models.EventLeaderboardSync)

	assert.False(t, other.ImportLeaderboard(ctx, []byte("not json")))
}
