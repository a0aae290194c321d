package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/models"
)

// HandlerFunc receives decoded leaderboard events.
type HandlerFunc func(ctx context.Context, event models.LeaderboardEvent)

// JetStreamSubscriber follows the leaderboard stream from the newest message
// on. Every instance gets its own ordered consumer so each one sees every
// event.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamSubscriber(cfg JetStreamConfig) (*JetStreamSubscriber, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &JetStreamSubscriber{nc: nc, js: js, config: cfg}, nil
}

// Run delivers events to handle until ctx is cancelled.
func (s *JetStreamSubscriber) Run(ctx context.Context, handle HandlerFunc) error {
	consumer, err := s.js.OrderedConsumer(ctx, s.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fmt.Sprintf("%s.>", s.config.SubjectPrefix)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := Decode(msg.Data())
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode leaderboard event")
			return
		}
		handle(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().Str("stream", s.config.StreamName).Msg("following leaderboard events")
	<-ctx.Done()
	return nil
}

// Decode parses a published event
func Decode(data []byte) (models.LeaderboardEvent, error) {
	var event models.LeaderboardEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return models.LeaderboardEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.Type == "" {
		return models.LeaderboardEvent{}, fmt.Errorf("event %s has no type", event.ID)
	}
	return event, nil
}

func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
