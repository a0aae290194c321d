package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/escaperoom/go/internal/config"
	"github.com/mcdev12/escaperoom/go/internal/models"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Str("port", cfg.Server.Port).
		Str("progress_backend", cfg.Progress.Backend).
		Ints("tasks", cfg.Tasks.Valid).
		Bool("leaderboard_disabled", cfg.Leaderboard.Disabled).
		Msg("configuration loaded")
	return cfg, nil
}

func validTasks(cfg *config.Config) []models.TaskID {
	ids := make([]models.TaskID, 0, len(cfg.Tasks.Valid))
	for _, id := range cfg.Tasks.Valid {
		ids = append(ids, models.TaskID(id))
	}
	return ids
}
