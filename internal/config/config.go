package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values load from an optional
// YAML file and environment variables overlay the result, so deployments
// can run file-less with env vars alone.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	NATS        NATSConfig        `yaml:"nats"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Ranking     RankingConfig     `yaml:"ranking"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Required  bool   `yaml:"required"`
}

type NATSConfig struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	PublishRetries int           `yaml:"publish_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type LeaderboardConfig struct {
	FullSnapshotThreshold int `yaml:"full_snapshot_threshold"`
}

type RankingConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns the configuration used when neither file nor environment
// override a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Auth: AuthConfig{
			Required: false,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			SubjectPrefix:  "rankstream",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			PublishRetries: 3,
			RetryBackoff:   100 * time.Millisecond,
		},
		Leaderboard: LeaderboardConfig{
			FullSnapshotThreshold: 10,
		},
		Ranking: RankingConfig{
			BaseURL: "http://localhost:9090",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds configuration from defaults and environment only.
func FromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = splitAndTrim(origins)
	}

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Required = getEnvAsBool("AUTH_REQUIRED", c.Auth.Required)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.MaxReconnects = getEnvAsInt("NATS_MAX_RECONNECTS", c.NATS.MaxReconnects)
	c.NATS.ReconnectWait = getEnvAsDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)
	c.NATS.PublishRetries = getEnvAsInt("NATS_PUBLISH_RETRIES", c.NATS.PublishRetries)
	c.NATS.RetryBackoff = getEnvAsDuration("NATS_RETRY_BACKOFF", c.NATS.RetryBackoff)

	c.Leaderboard.FullSnapshotThreshold = getEnvAsInt("FULL_SNAPSHOT_THRESHOLD", c.Leaderboard.FullSnapshotThreshold)

	c.Ranking.BaseURL = getEnv("RANKING_BASE_URL", c.Ranking.BaseURL)
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.required is set")
	}
	if c.Leaderboard.FullSnapshotThreshold < 1 {
		return fmt.Errorf("leaderboard.full_snapshot_threshold must be at least 1")
	}
	if c.NATS.PublishRetries < 0 {
		return fmt.Errorf("nats.publish_retries must not be negative")
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
