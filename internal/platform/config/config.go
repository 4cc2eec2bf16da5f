package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// DatabaseURL and RedisURL are optional: without them the server runs
	// single-instance with in-memory stores, which is how the desktop
	// deployment ships.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	DataDir   string `env:"DATA_DIR" default:"./data"`
	// ScriptDir is the UniRig repository root; the launch scripts live
	// under launch/inference/ inside it.
	ScriptDir string `env:"SCRIPT_DIR" default:"./UniRig"`

	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" default:"104857600"` // 100 MiB
	SessionTTL       time.Duration `env:"SESSION_TTL" default:"24h"`
	UploadRateLimit  int           `env:"UPLOAD_RATE_LIMIT" default:"10"`
	UploadRateWindow time.Duration `env:"UPLOAD_RATE_WINDOW" default:"1h"`

	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" default:"1h"`
	DiskWarningBytes  uint64        `env:"DISK_WARNING_BYTES" default:"10737418240"` // 10 GiB
	DiskCriticalBytes uint64        `env:"DISK_CRITICAL_BYTES" default:"5368709120"` // 5 GiB

	DispatchSoftLimit time.Duration `env:"DISPATCH_SOFT_LIMIT" default:"10m"`
	DispatchHardLimit time.Duration `env:"DISPATCH_HARD_LIMIT" default:"12m"`

	// Transport-level limiter, keyed by client IP. The per-session upload
	// window above is the business-level limit.
	HTTPRatePerSecond float64 `env:"HTTP_RATE_PER_SECOND" default:"20"`
	HTTPRateBurst     int     `env:"HTTP_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.UploadRateLimit <= 0 {
		return fmt.Errorf("UPLOAD_RATE_LIMIT must be positive, got %d", cfg.UploadRateLimit)
	}
	if cfg.UploadRateWindow <= 0 {
		return fmt.Errorf("UPLOAD_RATE_WINDOW must be positive, got %s", cfg.UploadRateWindow)
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}
	if cfg.DiskCriticalBytes >= cfg.DiskWarningBytes {
		return fmt.Errorf("DISK_CRITICAL_BYTES (%d) must be below DISK_WARNING_BYTES (%d)",
			cfg.DiskCriticalBytes, cfg.DiskWarningBytes)
	}
	if cfg.DispatchSoftLimit >= cfg.DispatchHardLimit {
		return fmt.Errorf("DISPATCH_SOFT_LIMIT (%s) must be below DISPATCH_HARD_LIMIT (%s)",
			cfg.DispatchSoftLimit, cfg.DispatchHardLimit)
	}
	return nil
}
