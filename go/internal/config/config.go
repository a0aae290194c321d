// Package config loads server settings from a yaml file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Progress store backends
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Duration is a time.Duration written as "24h" or "300ms" in yaml
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Tasks struct {
		Valid []int `yaml:"valid"`
	} `yaml:"tasks"`

	Leaderboard struct {
		Disabled        bool     `yaml:"disabled"`
		AbandonedMaxAge Duration `yaml:"abandoned_max_age"`
		CleanupTimeout  Duration `yaml:"cleanup_timeout"`
	} `yaml:"leaderboard"`

	Names struct {
		MinLength    int      `yaml:"min_length"`
		MaxLength    int      `yaml:"max_length"`
		Debounce     Duration `yaml:"debounce"`
		CheckTimeout Duration `yaml:"check_timeout"`
	} `yaml:"names"`

	Progress struct {
		Backend     string   `yaml:"backend"`
		Dir         string   `yaml:"dir"`
		RedisAddr   string   `yaml:"redis_addr"`
		RedisPrefix string   `yaml:"redis_prefix"`
		SessionTTL  Duration `yaml:"session_ttl"`
		IdleTimeout Duration `yaml:"idle_timeout"`
	} `yaml:"progress"`

	NATS struct {
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Default returns the built-in configuration
func Default() *Config {
	c := &Config{}
	c.Server.Port = "8080"
	c.Server.AllowedOrigins = []string{"*"}
	c.Tasks.Valid = []int{1, 2, 3, 8}
	c.Leaderboard.AbandonedMaxAge = Duration(24 * time.Hour)
	c.Leaderboard.CleanupTimeout = Duration(30 * time.Second)
	c.Names.MinLength = 2
	c.Names.MaxLength = 20
	c.Names.Debounce = Duration(500 * time.Millisecond)
	c.Names.CheckTimeout = Duration(5 * time.Second)
	c.Progress.Backend = BackendFile
	c.Progress.Dir = "data/progress"
	c.Progress.RedisAddr = "localhost:6379"
	c.Progress.RedisPrefix = "escaperoom"
	c.Progress.SessionTTL = Duration(24 * time.Hour)
	c.Progress.IdleTimeout = Duration(30 * time.Minute)
	c.NATS.StreamName = "LEADERBOARD_EVENTS"
	c.NATS.SubjectPrefix = "leaderboard.events"
	return c
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Progress.Backend = strings.ToLower(getEnv("PROGRESS_BACKEND", c.Progress.Backend))
	c.Progress.Dir = getEnv("PROGRESS_DIR", c.Progress.Dir)
	c.Progress.RedisAddr = getEnv("REDIS_ADDR", c.Progress.RedisAddr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Leaderboard.Disabled = getEnvAsBool("LEADERBOARD_DISABLED", c.Leaderboard.Disabled)
}

// Validate checks the settings for consistency
func (c *Config) Validate() error {
	if len(c.Tasks.Valid) == 0 {
		return errors.New("tasks.valid must list at least one task")
	}
	seen := make(map[int]bool, len(c.Tasks.Valid))
	for _, id := range c.Tasks.Valid {
		if id <= 0 {
			return fmt.Errorf("task id %d must be positive", id)
		}
		if seen[id] {
			return fmt.Errorf("task id %d listed twice", id)
		}
		seen[id] = true
	}
	if c.Names.MinLength < 1 {
		return errors.New("names.min_length must be at least 1")
	}
	if c.Names.MaxLength != 0 && c.Names.MaxLength < c.Names.MinLength {
		return errors.New("names.max_length must not be below names.min_length")
	}
	switch c.Progress.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown progress backend %q", c.Progress.Backend)
	}
	if c.Leaderboard.AbandonedMaxAge <= 0 {
		return errors.New("leaderboard.abandoned_max_age must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
