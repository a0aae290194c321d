package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Ephemeral per-session keys, cleared by StartNewGame.
const (
	PlayerNameKey  = "playerName"
	PinAcceptedKey = "hasEnteredPin"
)

// Session bundles a session's tracker with its ephemeral keys.
type Session struct {
	ID      string
	Tracker *Tracker

	store Store
}

func (s *Session) getString(ctx context.Context, key string) (string, error) {
	v, err := s.store.Get(ctx, sessionKey(s.ID, key))
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// PlayerName returns the committed display name, or "" if none.
func (s *Session) PlayerName(ctx context.Context) (string, error) {
	return s.getString(ctx, PlayerNameKey)
}

// SetPlayerName commits the display name for this session.
func (s *Session) SetPlayerName(ctx context.Context, name string) error {
	return s.store.Set(ctx, sessionKey(s.ID, PlayerNameKey), []byte(name))
}

// PinAccepted reports whether the entry PIN was accepted in this session.
func (s *Session) PinAccepted(ctx context.Context) (bool, error) {
	v, err := s.getString(ctx, PinAcceptedKey)
	return v == "true", err
}

// SetPinAccepted records the entry PIN result.
func (s *Session) SetPinAccepted(ctx context.Context, accepted bool) error {
	if !accepted {
		return s.store.Delete(ctx, sessionKey(s.ID, PinAcceptedKey))
	}
	return s.store.Set(ctx, sessionKey(s.ID, PinAcceptedKey), []byte("true"))
}

// StartNewGame clears the persisted record and the ephemeral keys, then
// resets the tracker.
func (s *Session) StartNewGame(ctx context.Context) error {
	for _, key := range []string{ProgressKey, PlayerNameKey, PinAcceptedKey} {
		if err := s.store.Delete(ctx, sessionKey(s.ID, key)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return s.Tracker.ResetProgress(ctx)
}

// Manager hands out one Session per session id for the life of the process.
type Manager struct {
	store Store
	clock clockwork.Clock
	opts  []TrackerOption

	mu       sync.Mutex
	sessions map[string]*Session
	lastSeen map[string]time.Time
}

// NewManager creates a Manager; opts are applied to every tracker it builds.
func NewManager(store Store, clock clockwork.Clock, opts ...TrackerOption) *Manager {
	return &Manager{
		store:    store,
		clock:    clock,
		opts:     append([]TrackerOption{WithClock(clock)}, opts...),
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
	}
}

// Session returns the session for id, rehydrating it from the store on first use.
func (m *Manager) Session(ctx context.Context, id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen[id] = m.clock.Now()
	if s, ok := m.sessions[id]; ok {
		return s
	}

	s := &Session{
		ID:      id,
		Tracker: NewTracker(ctx, m.store, id, m.opts...),
		store:   m.store,
	}
	m.sessions[id] = s
	return s
}

// PruneIdle drops in-memory sessions unused for maxIdle. Sessions for which
// busy reports true are kept; a nil busy keeps none. Pruned sessions stay
// in the store and are rehydrated on the next request.
func (m *Manager) PruneIdle(maxIdle time.Duration, busy func(id string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-maxIdle)
	pruned := 0
	for id, seen := range m.lastSeen {
		if !seen.Before(cutoff) {
			continue
		}
		if busy != nil && busy(id) {
			continue
		}
		delete(m.sessions, id)
		delete(m.lastSeen, id)
		pruned++
	}
	if pruned > 0 {
		log.Debug().Int("pruned", pruned).Msg("pruned idle sessions")
	}
	return pruned
}

// RunPruner prunes idle sessions every maxIdle/2 until ctx is done. busy is
// called with the manager locked and must not call back into it.
func (m *Manager) RunPruner(ctx context.Context, maxIdle time.Duration, busy func(id string) bool) {
	if maxIdle <= 0 {
		return
	}
	ticker := m.clock.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.PruneIdle(maxIdle, busy)
		}
	}
}
