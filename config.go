package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is read from the environment (and an optional .env file).
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"development"`
	GinMode  string `env:"GIN_MODE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SessionTimeout time.Duration `env:"SESSION_TIMEOUT" envDefault:"2h"`
	CookieMaxAge   time.Duration `env:"COOKIE_MAX_AGE" envDefault:"2h"`
	StaticCacheAge time.Duration `env:"STATIC_CACHE_AGE" envDefault:"5m"`
	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// ImageTimeout of 0 shows the emoji fallback without waiting for the image.
	ImageTimeout       time.Duration `env:"IMAGE_TIMEOUT" envDefault:"5s"`
	PreloadDelay       time.Duration `env:"PRELOAD_DELAY" envDefault:"1s"`
	PreloadConcurrency int           `env:"PRELOAD_CONCURRENCY" envDefault:"4"`
	AssetDir           string        `env:"ASSET_DIR" envDefault:"static"`
	AssetBaseURL       string        `env:"ASSET_BASE_URL"`
}

// loadConfig reads .env if present, then parses the environment.
func loadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ImageTimeout < 0 {
		return cfg, fmt.Errorf("IMAGE_TIMEOUT must not be negative, got %v", cfg.ImageTimeout)
	}
	return cfg, nil
}

// IsProduction reports whether release-mode behavior is wanted.
func (c Config) IsProduction() bool {
	return c.GinMode == "release" || c.Env == "production"
}
