package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

type recordingPublisher struct {
	got []models.LeaderboardEvent
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, e models.LeaderboardEvent) error {
	r.got = append(r.got, e)
	return r.err
}

func TestFanOut(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("nats down")}
	fan := FanOut{ok, nil, failing, NopPublisher{}}

	err := fan.Publish(context.Background(), models.LeaderboardEvent{Type: models.EventEntryCompleted})

	assert.ErrorContains(t, err, "nats down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
}

func TestSubject(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	assert.Equal(t, "leaderboard.events.entry.started", p.Subject(models.EventEntryStarted))
}

func TestDecode(t *testing.T) {
	event, err := Decode([]byte(`{"id":"7f0c8a5e-2a57-4c1e-9a53-3f1c2b8f6d10","type":"entry.completed","player_name":"alice","occurred_at":"2026-03-20T19:00:00Z"}`))
	assert.NoError(t, err)
	assert.Equal(t, models.EventEntryCompleted, event.Type)
	assert.Equal(t, "alice", event.PlayerName)

	_, err = Decode([]byte(`{"id":"7f0c8a5e-2a57-4c1e-9a53-3f1c2b8f6d10"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`nope`))
	assert.Error(t, err)
}
