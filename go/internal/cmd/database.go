package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/dbconfig"
	leaderboarddb "github.com/mcdev12/escaperoom/go/internal/leaderboard/db"
)

// setupDatabase connects to Postgres when DATABASE_URL or DB_HOST is set.
// A nil database with a nil error means the leaderboard runs unconfigured.
func setupDatabase(ctx context.Context, migrate bool) (*sql.DB, error) {
	dbCfg, ok := dbconfig.LookupConfigFromEnv()
	if !ok {
		log.Warn().Msg("no database configured, leaderboard disabled")
		return nil, nil
	}

	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if migrate {
		if _, err := database.ExecContext(ctx, leaderboarddb.Schema); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to apply leaderboard schema: %w", err)
		}
		log.Info().Msg("leaderboard schema applied")
	}

	log.Info().Str("database", dbCfg.Redacted()).Msg("connected to database")
	return database, nil
}
