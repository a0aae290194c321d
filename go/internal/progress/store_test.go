package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "abc:playerName")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.Set(ctx, "abc:playerName", []byte("Alice")))
	v, err := store.Get(ctx, "abc:playerName")
	require.NoError(t, err)
	assert.Equal(t, "Alice", string(v))

	require.NoError(t, store.Set(ctx, "abc:playerName", []byte("Bob")))
	v, err = store.Get(ctx, "abc:playerName")
	require.NoError(t, err)
	assert.Equal(t, "Bob", string(v))

	require.NoError(t, store.Delete(ctx, "abc:playerName"))
	_, err = store.Get(ctx, "abc:playerName")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, store.Delete(ctx, "never-set"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	t.Run("it implements the store contract", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
		require.NoError(t, err)
		exerciseStore(t, store)
	})

	t.Run("it leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.Set(context.Background(), "k", []byte("v")))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp")
		}
	})

	t.Run("it survives a tracker restart", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()
		clock := clockwork.NewFakeClockAt(epoch)

		store, err := NewFileStore(dir)
		require.NoError(t, err)
		tr := NewTracker(ctx, store, "tab", WithClock(clock))
		require.NoError(t, tr.StartTask(ctx, 1))
		clock.Advance(time.Minute)
		_, err = tr.CompleteTask(ctx, 1)
		require.NoError(t, err)

		reopened, err := NewFileStore(dir, WithLockTimeout(time.Second))
		require.NoError(t, err)
		again := NewTracker(ctx, reopened, "tab", WithClock(clock))
		assert.Equal(t, map[string]int64{"1": 60000}, again.TaskTimes())
	})
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := clockwork.NewFakeClockAt(epoch)
	m := NewManager(store, clock)

	s := m.Session(ctx, "abc")
	assert.Same(t, s, m.Session(ctx, "abc"))

	require.NoError(t, s.SetPlayerName(ctx, "Alice"))
	require.NoError(t, s.SetPinAccepted(ctx, true))
	require.NoError(t, s.Tracker.StartTask(ctx, 1))

	name, err := s.PlayerName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	pin, err := s.PinAccepted(ctx)
	require.NoError(t, err)
	assert.True(t, pin)

	require.NoError(t, s.StartNewGame(ctx))

	name, err = s.PlayerName(ctx)
	require.NoError(t, err)
	assert.Empty(t, name)
	pin, err = s.PinAccepted(ctx)
	require.NoError(t, err)
	assert.False(t, pin)
	assert.Equal(t, time.Duration(0), s.Tracker.TotalTime())

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.PruneIdle(time.Hour, nil))
	assert.NotSame(t, s, m.Session(ctx, "abc"))
}

func TestPruneIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("it keeps busy sessions", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		m := NewManager(NewMemoryStore(), clock)
		idle := m.Session(ctx, "idle")
		busy := m.Session(ctx, "busy")

		clock.Advance(2 * time.Hour)
		assert.Equal(t, 1, m.PruneIdle(time.Hour, func(id string) bool { return id == "busy" }))
		assert.Same(t, busy, m.Session(ctx, "busy"))
		assert.NotSame(t, idle, m.Session(ctx, "idle"))
	})

	t.Run("it keeps recently used sessions", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		m := NewManager(NewMemoryStore(), clock)
		s := m.Session(ctx, "abc")

		clock.Advance(30 * time.Minute)
		assert.Zero(t, m.PruneIdle(time.Hour, nil))
		assert.Same(t, s, m.Session(ctx, "abc"))
	})

	t.Run("it prunes on the clock until cancelled", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(epoch)
		m := NewManager(NewMemoryStore(), clock)
		idle := m.Session(ctx, "idle")
		busy := m.Session(ctx, "busy")

		checked := make(chan string, 4)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			m.RunPruner(runCtx, time.Hour, func(id string) bool {
				checked <- id
				return id == "busy"
			})
		}()

		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		defer waitCancel()
		require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
		clock.Advance(90 * time.Minute)

		for i := 0; i < 2; i++ {
			select {
			case <-checked:
			case <-time.After(5 * time.Second):
				t.Fatal("pruner did not run")
			}
		}
		assert.Same(t, busy, m.Session(ctx, "busy"))
		assert.NotSame(t, idle, m.Session(ctx, "idle"))

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("pruner did not stop")
		}
	})
}
