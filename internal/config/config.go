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

// ColorPolicy selects how the second player's color is assigned.
// Both policies existed in earlier revisions of the service, so the choice
// is explicit configuration rather than a hardcoded default.
type ColorPolicy string

const (
	// ColorPolicySticky: first identity to connect plays white, the second
	// distinct identity plays black. Reconnects never reassign.
	ColorPolicySticky ColorPolicy = "sticky"
	// ColorPolicyRandom: colors are flipped by coin toss when the second
	// distinct identity connects.
	ColorPolicyRandom ColorPolicy = "random"
)

type AppConfig struct {
	Addr string `yaml:"addr"`

	AuthSecret string        `yaml:"auth_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	EngineURL     string        `yaml:"engine_url"`
	EngineTimeout time.Duration `yaml:"engine_timeout"`
	DefaultDepth  int           `yaml:"default_depth"`

	GameTTL     time.Duration `yaml:"game_ttl"`
	ColorPolicy ColorPolicy   `yaml:"color_policy"`
}

// Load builds the configuration from an optional YAML file (CHESSLINK_CONFIG)
// overridden by environment variables.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Addr:          ":8080",
		TokenTTL:      30 * time.Minute,
		EngineURL:     "https://stockfish.online/api/s/v2.php",
		EngineTimeout: 15 * time.Second,
		DefaultDepth:  10,
		GameTTL:       7 * 24 * time.Hour,
		ColorPolicy:   ColorPolicySticky,
	}

	if path := strings.TrimSpace(os.Getenv("CHESSLINK_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.AuthSecret == "" {
		return nil, errors.New("AUTH_SECRET is required")
	}
	if cfg.ColorPolicy != ColorPolicySticky && cfg.ColorPolicy != ColorPolicyRandom {
		return nil, fmt.Errorf("unknown color policy %q", cfg.ColorPolicy)
	}
	if cfg.DefaultDepth < 1 || cfg.DefaultDepth > 15 {
		return nil, fmt.Errorf("default depth %d out of range [1,15]", cfg.DefaultDepth)
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.Addr, "ADDR")
	setString(&cfg.AuthSecret, "AUTH_SECRET")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.EngineURL, "ENGINE_URL")
	setDuration(&cfg.TokenTTL, "TOKEN_TTL")
	setDuration(&cfg.EngineTimeout, "ENGINE_TIMEOUT")
	setDuration(&cfg.GameTTL, "GAME_TTL")
	setInt(&cfg.DefaultDepth, "ENGINE_DEFAULT_DEPTH")
	if v := strings.TrimSpace(os.Getenv("COLOR_POLICY")); v != "" {
		cfg.ColorPolicy = ColorPolicy(strings.ToLower(v))
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
