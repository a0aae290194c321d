// Package leaderboardtest provides an in-memory leaderboard repository that
// mimics the Postgres table, including its row-level update policy and the
// unique index on completed player names.
package leaderboardtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard"
	"github.com/mcdev12/escaperoom/go/internal/models"
)

// MemoryRepository implements leaderboard.LeaderboardRepository in memory
type MemoryRepository struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries []models.LeaderboardEntry

	// BlockUpdates makes CompleteEntry report no affected rows.
	BlockUpdates bool
	// Legacy makes ProbeSchema report missing status columns.
	Legacy bool
	// Err, when set, is returned by every operation.
	Err error

	Deleted  []uuid.UUID
	Updates  int
	Replaces int
}

var _ leaderboard.LeaderboardRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository stamping rows with clock
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	return &MemoryRepository{clock: clock}
}

// Seed appends rows as if they were already stored
func (m *MemoryRepository) Seed(entries ...models.LeaderboardEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.clock.Now().UTC()
		}
		m.entries = append(m.entries, e)
	}
}

// Entries returns a copy of the stored rows in creation order
func (m *MemoryRepository) Entries() []models.LeaderboardEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LeaderboardEntry(nil), m.entries...)
}

// CompletedFor returns the completed rows whose name matches in any case
func (m *MemoryRepository) CompletedFor(playerName string) []models.LeaderboardEntry {
	var out []models.LeaderboardEntry
	for _, e := range m.Entries() {
		if e.Status() == models.EntryStatusCompleted && strings.EqualFold(e.PlayerName, playerName) {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryRepository) ProbeSchema(context.Context) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return !m.Legacy, nil
}

func (m *MemoryRepository) CreateEntry(_ context.Context, req leaderboard.CreateEntryRequest) (*models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.insertLocked(req)
}

func (m *MemoryRepository) insertLocked(req leaderboard.CreateEntryRequest) (*models.LeaderboardEntry, error) {
	e := models.LeaderboardEntry{
		ID:          uuid.New(),
		PlayerName:  req.PlayerName,
		TotalTime:   req.TotalTime,
		TaskTimes:   copyTimes(req.TaskTimes),
		CompletedAt: req.CompletedAt,
		Date:        req.Date,
		CreatedAt:   m.clock.Now().UTC(),
	}
	if req.Tracking != nil {
		t := *req.Tracking
		e.Tracking = &t
	}
	if err := m.checkUniqueLocked(e, uuid.Nil); err != nil {
		return nil, err
	}
	m.entries = append(m.entries, e)
	return &e, nil
}

func (m *MemoryRepository) checkUniqueLocked(e models.LeaderboardEntry, ignore uuid.UUID) error {
	if e.Tracking == nil || e.Status() != models.EntryStatusCompleted {
		return nil
	}
	for _, other := range m.entries {
		if other.ID == ignore || other.Tracking == nil {
			continue
		}
		if other.Status() == models.EntryStatusCompleted && strings.EqualFold(other.PlayerName, e.PlayerName) {
			return fmt.Errorf("%w: %s", leaderboard.ErrDuplicateCompletedEntry, e.PlayerName)
		}
	}
	return nil
}

func (m *MemoryRepository) ListEntries(context.Context, bool) ([]models.LeaderboardEntry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Entries(), nil
}

func (m *MemoryRepository) GetInProgressEntry(_ context.Context, playerName string) (*models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var found *models.LeaderboardEntry
	for i := range m.entries {
		e := m.entries[i]
		if e.PlayerName != playerName || e.Status() != models.EntryStatusInProgress {
			continue
		}
		if found == nil || e.StartedAtOrCreated().After(found.StartedAtOrCreated()) {
			found = &e
		}
	}
	return found, nil
}

func (m *MemoryRepository) CompleteEntry(_ context.Context, id uuid.UUID, req leaderboard.CompleteEntryRequest) (*models.LeaderboardEntry, leaderboard.UpdateOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, leaderboard.UpdateApplied, m.Err
	}
	if m.BlockUpdates {
		return nil, leaderboard.UpdateNoRowsAffected, nil
	}
	for i := range m.entries {
		if m.entries[i].ID != id {
			continue
		}
		updated := m.entries[i]
		updated.TotalTime = req.TotalTime
		updated.TaskTimes = copyTimes(req.TaskTimes)
		updated.CompletedAt = req.CompletedAt
		updated.Date = req.Date
		tracking := models.Tracking{Status: models.EntryStatusCompleted}
		if updated.Tracking != nil {
			tracking.StartedAt = updated.Tracking.StartedAt
		}
		updated.Tracking = &tracking
		if err := m.checkUniqueLocked(updated, id); err != nil {
			return nil, leaderboard.UpdateApplied, err
		}
		m.entries[i] = updated
		m.Updates++
		return &updated, leaderboard.UpdateApplied, nil
	}
	return nil, leaderboard.UpdateNoRowsAffected, nil
}

func (m *MemoryRepository) ReplaceEntry(_ context.Context, id uuid.UUID, req leaderboard.CreateEntryRequest) (*models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	before := append([]models.LeaderboardEntry(nil), m.entries...)
	m.deleteLocked([]uuid.UUID{id})
	e, err := m.insertLocked(req)
	if err != nil {
		m.entries = before
		return nil, err
	}
	m.Replaces++
	return e, nil
}

func (m *MemoryRepository) HasCompletedEntry(ctx context.Context, playerName string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	return len(m.CompletedFor(playerName)) > 0, nil
}

func (m *MemoryRepository) ListAbandonedEntryIDs(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var ids []uuid.UUID
	for _, e := range m.entries {
		if e.Status() != models.EntryStatusInProgress || e.Tracking.StartedAt == nil {
			continue
		}
		if e.Tracking.StartedAt.Before(cutoff) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

func (m *MemoryRepository) DeleteEntries(_ context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.deleteLocked(ids), nil
}

func (m *MemoryRepository) deleteLocked(ids []uuid.UUID) int64 {
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := m.entries[:0:0]
	var n int64
	for _, e := range m.entries {
		if _, ok := drop[e.ID]; ok {
			n++
			m.Deleted = append(m.Deleted, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n
}

func (m *MemoryRepository) ReplaceAll(_ context.Context, entries []models.LeaderboardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append([]models.LeaderboardEntry(nil), entries...)
	return nil
}

func copyTimes(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
