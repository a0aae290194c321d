package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/leaderboard/events"
)

// Service is the realtime gateway: spectator leaderboard pushes and the
// name availability channel.
type Service struct {
	connectionManager *ConnectionManager
	feed              *LeaderboardFeed
	names             *NamesHandler
	subscriber        *events.JetStreamSubscriber
}

// NewService creates a gateway service. subscriber may be nil, in which case
// the feed only sees events published in this process.
func NewService(cm *ConnectionManager, feed *LeaderboardFeed, names *NamesHandler, subscriber *events.JetStreamSubscriber) *Service {
	return &Service{
		connectionManager: cm,
		feed:              feed,
		names:             names,
		subscriber:        subscriber,
	}
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting gateway service")

	go s.connectionManager.Start(ctx)
	go s.feed.Run(ctx)
	if s.subscriber != nil {
		go func() {
			if err := s.subscriber.Run(ctx, s.feed.Deliver); err != nil {
				log.Error().Err(err).Msg("leaderboard event subscriber failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("gateway service shutting down")
	if s.subscriber != nil {
		if err := s.subscriber.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event subscriber")
		}
	}
}

// RegisterRoutes registers the WebSocket routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/leaderboard", s.feed.HandleConnection)
	mux.HandleFunc("GET /ws/names", s.names.HandleConnection)
	mux.HandleFunc("GET /ws/stats", s.HandleStats)
}

// HandleStats handles GET /ws/stats
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
