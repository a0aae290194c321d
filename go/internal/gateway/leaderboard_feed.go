package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
	"github.com/mcdev12/escaperoom/go/internal/progress"
)

// ErrFeedFull is returned when the feed cannot keep up with events
var ErrFeedFull = errors.New("leaderboard feed is full")

// SnapshotFunc returns the leaderboard in display order
type SnapshotFunc func(ctx context.Context) []models.LeaderboardEntry

// LeaderboardFeed pushes leaderboard changes to spectators. It implements
// events.Publisher so the leaderboard app can publish to it directly.
type LeaderboardFeed struct {
	cm       *ConnectionManager
	snapshot SnapshotFunc
	clock    clockwork.Clock
	events   chan models.LeaderboardEvent
}

// NewLeaderboardFeed creates a feed broadcasting on TopicLeaderboard
func NewLeaderboardFeed(cm *ConnectionManager, snapshot SnapshotFunc, clock clockwork.Clock) *LeaderboardFeed {
	return &LeaderboardFeed{
		cm:       cm,
		snapshot: snapshot,
		clock:    clock,
		events:   make(chan models.LeaderboardEvent, 64),
	}
}

func (f *LeaderboardFeed) Publish(_ context.Context, event models.LeaderboardEvent) error {
	select {
	case f.events <- event:
		return nil
	default:
		return ErrFeedFull
	}
}

// Deliver adapts the feed to events.HandlerFunc
func (f *LeaderboardFeed) Deliver(ctx context.Context, event models.LeaderboardEvent) {
	if err := f.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("dropping leaderboard event")
	}
}

// Run broadcasts each event followed by a fresh snapshot until ctx is done
func (f *LeaderboardFeed) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.events:
			f.cm.Broadcast(TopicLeaderboard, f.message(MessageLeaderboardEvent, event))
			if f.cm.ConnectionCount(TopicLeaderboard) == 0 {
				continue
			}
			f.cm.Broadcast(TopicLeaderboard, f.message(MessageLeaderboardSnapshot, f.fetch(ctx)))
		}
	}
}

func (f *LeaderboardFeed) fetch(ctx context.Context) []models.LeaderboardEntry {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return f.snapshot(ctx)
}

func (f *LeaderboardFeed) message(t MessageType, data interface{}) Message {
	return Message{Type: t, Data: data, Timestamp: f.clock.Now().UTC()}
}

// HandleConnection handles GET /ws/leaderboard. New spectators get a
// snapshot straight away.
func (f *LeaderboardFeed) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := progress.SessionIDFromContext(r.Context())
	_, err := f.cm.Upgrade(w, r, TopicLeaderboard, sessionID, ConnectionHandlers{
		OnOpen: func(c *Connection) {
			if err := c.Send(f.message(MessageLeaderboardSnapshot, f.fetch(r.Context()))); err != nil {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("failed to send initial snapshot")
			}
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade leaderboard connection")
	}
}
