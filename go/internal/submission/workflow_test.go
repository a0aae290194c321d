package submission

import (
	"context"
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
	"github.com/mcdev12/escaperoom/go/internal/progress"
)

var epoch = time.Date(2026, 3, 20, 19, 0, 0, 0, time.UTC)

type harness struct {
	clock    *clockwork.FakeClock
	repo     *leaderboardtest.MemoryRepository
	app      *leaderboard.App
	sessions *progress.Manager
	workflow *Workflow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	repo := leaderboardtest.NewMemoryRepository(clock)
	app := leaderboard.NewApp(context.Background(), repo, nil, clock, leaderboard.DefaultConfig())
	t.Cleanup(app.Wait)
	sessions := progress.NewManager(progress.NewMemoryStore(), clock)
	return &harness{
		clock:    clock,
		repo:     repo,
		app:      app,
		sessions: sessions,
		workflow: NewWorkflow(app, sessions, DefaultConfig()),
	}
}

func (h *harness) finish(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	tr := h.sessions.Session(ctx, sessionID).Tracker
	for _, id := range tr.ValidTasks() {
		require.NoError(t, tr.StartTask(ctx, id))
		h.clock.Advance(45 * time.Second)
		_, err := tr.CompleteTask(ctx, id)
		require.NoError(t, err)
	}
}

func completedRows(entries []models.LeaderboardEntry) int {
	n := 0
	for _, e := range entries {
		if e.Status() == models.EntryStatusCompleted {
			n++
		}
	}
	return n
}

func TestBeginSession(t *testing.T) {
	ctx := context.Background()

	t.Run("it commits the name and opens a live row", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.workflow.BeginSession(ctx, "s1", "  Alice ")
		require.NoError(t, err)
		assert.Equal(t, "Alice", res.PlayerName)
		require.NotNil(t, res.Entry)
		assert.Equal(t, models.EntryStatusInProgress, res.Entry.Status())
		assert.Equal(t, models.TaskID(1), res.FirstTask)

		sess := h.sessions.Session(ctx, "s1")
		name, err := sess.PlayerName(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
		assert.Equal(t, epoch.UnixMilli(), sess.Tracker.Progress().StartTime)
	})

	t.Run("it enforces name length", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.workflow.BeginSession(ctx, "s1", "a")
		assert.ErrorIs(t, err, ErrNameTooShort)
		_, err = h.workflow.BeginSession(ctx, "s1", "abcdefghijklmnopqrstuvwxyz")
		assert.ErrorIs(t, err, ErrNameTooLong)
		assert.Empty(t, h.repo.Entries())
	})

	t.Run("it rejects a name in use in any case", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)

		_, err = h.workflow.BeginSession(ctx, "s2", "ALICE")
		assert.ErrorIs(t, err, ErrNameTaken)
		assert.Len(t, h.repo.Entries(), 1)
	})

	t.Run("it proceeds without a live row when the store is down", func(t *testing.T) {
		h := newHarness(t)
		h.repo.Err = errors.New("connection refused")

		res, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)
		assert.Nil(t, res.Entry)
	})
}

func TestSubmitScore(t *testing.T) {
	ctx := context.Background()

	t.Run("it refuses unfinished sessions", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)

		_, err = h.workflow.SubmitScore(ctx, "s1", "")
		assert.ErrorIs(t, err, ErrNotFinished)
		assert.False(t, h.sessions.Session(ctx, "s1").Tracker.ScoreSubmitted())
	})

	t.Run("it requires a name", func(t *testing.T) {
		h := newHarness(t)
		h.finish(t, "s1")

		_, err := h.workflow.SubmitScore(ctx, "s1", " ")
		assert.ErrorIs(t, err, ErrNoPlayerName)
	})

	t.Run("it completes the live row and marks the session", func(t *testing.T) {
		h := newHarness(t)
		begin, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)
		h.finish(t, "s1")

		entry, err := h.workflow.SubmitScore(ctx, "s1", "")
		require.NoError(t, err)
		assert.Equal(t, begin.Entry.ID, entry.ID)
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())

		tr := h.sessions.Session(ctx, "s1").Tracker
		assert.Equal(t, tr.TotalTime().Milliseconds(), entry.TotalTime)
		assert.Equal(t, tr.TaskTimes(), entry.TaskTimes)
		assert.True(t, tr.ScoreSubmitted())

		_, err = h.workflow.SubmitScore(ctx, "s1", "")
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
		assert.Equal(t, 1, completedRows(h.repo.Entries()))
	})

	t.Run("it falls back to replace when updates are filtered", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)
		h.finish(t, "s1")
		h.repo.BlockUpdates = true

		entry, err := h.workflow.SubmitScore(ctx, "s1", "")
		require.NoError(t, err)
		assert.Equal(t, models.EntryStatusCompleted, entry.Status())
		assert.Equal(t, 1, h.repo.Replaces)
		assert.True(t, h.sessions.Session(ctx, "s1").Tracker.ScoreSubmitted())

		rows := h.repo.Entries()
		require.Len(t, rows, 1)
		assert.Equal(t, entry.ID, rows[0].ID)
	})

	t.Run("it rejects a name already completed in another case before writing", func(t *testing.T) {
		h := newHarness(t)
		h.repo.Seed(models.LeaderboardEntry{
			PlayerName: "Alice",
			TotalTime:  90000,
			Tracking:   &models.Tracking{Status: models.EntryStatusCompleted},
		})
		h.finish(t, "s1")

		_, err := h.workflow.SubmitScore(ctx, "s1", "alice")
		assert.ErrorIs(t, err, ErrNameTaken)
		assert.Len(t, h.repo.Entries(), 1)
		assert.Zero(t, h.repo.Updates)
		assert.False(t, h.sessions.Session(ctx, "s1").Tracker.ScoreSubmitted())
	})

	t.Run("it leaves the session unsubmitted when the write fails", func(t *testing.T) {
		h := newHarness(t)
		h.finish(t, "s1")
		h.repo.Err = errors.New("connection reset")

		_, err := h.workflow.SubmitScore(ctx, "s1", "Alice")
		assert.ErrorIs(t, err, ErrSubmitFailed)
		assert.False(t, h.sessions.Session(ctx, "s1").Tracker.ScoreSubmitted())
	})

	t.Run("it records one completed row for concurrent calls", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)
		h.finish(t, "s1")

		const callers = 8
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = h.workflow.SubmitScore(ctx, "s1", "")
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, ErrSubmitInFlight) || errors.Is(err, ErrAlreadySubmitted), err.Error())
		}
		assert.Equal(t, 1, succeeded)
		assert.Len(t, h.repo.CompletedFor("alice"), 1)
	})

	t.Run("it admits one completed row across sessions sharing a name", func(t *testing.T) {
		h := newHarness(t)
		h.finish(t, "s1")
		h.finish(t, "s2")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, id := range []string{"s1", "s2"} {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				_, errs[i] = h.workflow.SubmitScore(ctx, id, "Alice")
			}(i, id)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrNameTaken)
		}
		assert.Equal(t, 1, succeeded)
		assert.Len(t, h.repo.CompletedFor("alice"), 1)
	})
}

func TestSubmitScoreName(t *testing.T) {
	ctx := context.Background()

	t.Run("it refuses to submit under another session's name", func(t *testing.T) {
		h := newHarness(t)
		alice, err := h.workflow.BeginSession(ctx, "s1", "Alice")
		require.NoError(t, err)
		bob, err := h.workflow.BeginSession(ctx, "s2", "Bob")
		require.NoError(t, err)
		h.finish(t, "s1")

		_, err = h.workflow.SubmitScore(ctx, "s1", "Bob")
		assert.ErrorIs(t, err, ErrNameMismatch)
		assert.False(t, h.sessions.Session(ctx, "s1").Tracker.ScoreSubmitted())
		assert.Zero(t, h.repo.Updates)
		assert.Empty(t, h.repo.CompletedFor("bob"))

		entry, err := h.workflow.SubmitScore(ctx, "s1", "alice")
		require.NoError(t, err)
		assert.Equal(t, alice.Entry.ID, entry.ID)
		assert.Equal(t, "Alice", entry.PlayerName)

		h.finish(t, "s2")
		entry, err = h.workflow.SubmitScore(ctx, "s2", "")
		require.NoError(t, err)
		assert.Equal(t, bob.Entry.ID, entry.ID)
		assert.Len(t, h.repo.CompletedFor("bob"), 1)
	})

	t.Run("it gates a requested name when none was committed", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.workflow.BeginSession(ctx, "s1", "Carol")
		require.NoError(t, err)
		h.finish(t, "s2")

		_, err = h.workflow.SubmitScore(ctx, "s2", "carol")
		assert.ErrorIs(t, err, ErrNameTaken)
		assert.Zero(t, h.repo.Updates)
		assert.Empty(t, h.repo.CompletedFor("carol"))
		assert.False(t, h.sessions.Session(ctx, "s2").Tracker.ScoreSubmitted())
	})

	t.Run("it validates a requested name when none was committed", func(t *testing.T) {
		h := newHarness(t)
		h.finish(t, "s1")

		_, err := h.workflow.SubmitScore(ctx, "s1", "x")
		assert.ErrorIs(t, err, ErrNameTooShort)
	})
}

func TestCheckName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.workflow.BeginSession(ctx, "s1", "Alice")
	require.NoError(t, err)

	check := h.workflow.CheckName(ctx, "a")
	assert.False(t, check.Valid)
	assert.False(t, check.Available)

	check = h.workflow.CheckName(ctx, "aLiCe")
	assert.True(t, check.Valid)
	assert.False(t, check.Available)
	assert.NotEmpty(t, check.Reason)

	check = h.workflow.CheckName(ctx, " Bob ")
	assert.Equal(t, "Bob", check.Name)
	assert.True(t, check.Available)
}

func TestInFlight(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.workflow.InFlight("s1"))

	require.True(t, h.workflow.acquire("s1"))
	assert.True(t, h.workflow.InFlight("s1"))
	assert.False(t, h.workflow.InFlight("s2"))

	h.workflow.release("s1")
	assert.False(t, h.workflow.InFlight("s1"))
}
