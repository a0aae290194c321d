package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/config"
	"github.com/mcdev12/escaperoom/go/internal/gateway"
	"github.com/mcdev12/escaperoom/go/internal/leaderboard"
	leaderboarddb "github.com/mcdev12/escaperoom/go/internal/leaderboard/db"
	"github.com/mcdev12/escaperoom/go/internal/leaderboard/events"
	"github.com/mcdev12/escaperoom/go/internal/models"
	"github.com/mcdev12/escaperoom/go/internal/progress"
	"github.com/mcdev12/escaperoom/go/internal/submission"
)

type Services struct {
	Progress    *progress.Service
	Leaderboard *leaderboard.Service
	Submission  *submission.Service
	Gateway     *gateway.Service

	Sessions       *progress.Manager
	Workflow       *submission.Workflow
	LeaderboardApp *leaderboard.App

	closers []io.Closer
}

// Close releases the progress store and event connections.
func (s *Services) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
}

func setupServices(ctx context.Context, cfg *config.Config, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()
	services := &Services{}

	// Progress
	store, err := setupProgressStore(ctx, cfg, services)
	if err != nil {
		return nil, err
	}
	sessions := progress.NewManager(store, clock, progress.WithValidTasks(validTasks(cfg)))
	services.Sessions = sessions
	services.Progress = progress.NewService(sessions)

	// Gateway feed. The snapshot closure is bound once the app exists.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	var lbApp *leaderboard.App
	feed := gateway.NewLeaderboardFeed(cm, func(ctx context.Context) []models.LeaderboardEntry {
		return lbApp.GetLeaderboard(ctx)
	}, clock)

	// Events go to NATS when configured and come back through the
	// subscriber, otherwise straight to the feed.
	var publisher events.Publisher = feed
	var subscriber *events.JetStreamSubscriber
	if cfg.NATS.URL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.StreamName
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		jsPublisher, err := events.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		services.closers = append(services.closers, jsPublisher)

		subscriber, err = events.NewJetStreamSubscriber(jsCfg)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create event subscriber: %w", err)
		}
		publisher = jsPublisher
	}

	// Leaderboard
	var lbRepo leaderboard.LeaderboardRepository
	if database != nil && !cfg.Leaderboard.Disabled {
		queries := leaderboarddb.New(database)
		lbRepo = leaderboard.NewRepository(queries, database)
	}
	lbApp = leaderboard.NewApp(ctx, lbRepo, publisher, clock, leaderboard.Config{
		AbandonedMaxAge: cfg.Leaderboard.AbandonedMaxAge.Std(),
		CleanupTimeout:  cfg.Leaderboard.CleanupTimeout.Std(),
	})
	services.LeaderboardApp = lbApp
	services.Leaderboard = leaderboard.NewService(lbApp)

	// Submission
	workflow := submission.NewWorkflow(lbApp, sessions, submission.Config{
		NameMinLength: cfg.Names.MinLength,
		NameMaxLength: cfg.Names.MaxLength,
	})
	services.Workflow = workflow
	services.Submission = submission.NewService(workflow)

	// Gateway
	names := gateway.NewNamesHandler(cm, workflow, clock, gateway.NamesConfig{
		Debounce:     cfg.Names.Debounce.Std(),
		MinLength:    cfg.Names.MinLength,
		CheckTimeout: cfg.Names.CheckTimeout.Std(),
	})
	services.Gateway = gateway.NewService(cm, feed, names, subscriber)

	return services, nil
}

func setupProgressStore(ctx context.Context, cfg *config.Config, services *Services) (progress.Store, error) {
	switch cfg.Progress.Backend {
	case config.BackendFile:
		store, err := progress.NewFileStore(cfg.Progress.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open progress directory: %w", err)
		}
		log.Info().Str("dir", cfg.Progress.Dir).Msg("using file progress store")
		return store, nil
	case config.BackendRedis:
		store, err := progress.NewRedisStore(ctx, cfg.Progress.RedisAddr, cfg.Progress.RedisPrefix, cfg.Progress.SessionTTL.Std())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		services.closers = append(services.closers, store)
		log.Info().Str("addr", cfg.Progress.RedisAddr).Msg("using redis progress store")
		return store, nil
	default:
		log.Info().Msg("using in-memory progress store")
		return progress.NewMemoryStore(), nil
	}
}
