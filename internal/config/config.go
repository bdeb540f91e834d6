// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

import (
	"time"
)

// Config holds all application configuration loaded from environment variables.
// This struct uses github.com/caarlos0/env for automatic environment variable parsing.
//
// Use struct tags to define:
// - `env:"VAR_NAME"` - the environment variable name
// - `env:",required"` - make it required
// - `envDefault:"value"` - set a default value
type Config struct {
	// Server configuration
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"ProgressionEngine"`

	// Local storage configuration
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	// Remote sync configuration. When disabled the engine runs
	// local-only and every identity behaves as a guest.
	RemoteSyncEnabled bool          `env:"REMOTE_SYNC_ENABLED" envDefault:"true"`
	RemoteTimeout     time.Duration `env:"REMOTE_TIMEOUT" envDefault:"3s"`

	// Redis (remote authority) configuration
	RedisHost         string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisMaxRetries   int    `env:"REDIS_MAX_RETRIES" envDefault:"5"`
	RedisRetryDelayMs int    `env:"REDIS_RETRY_DELAY_MS" envDefault:"1000"`

	// Content configuration (thresholds, rewards, bonus table, seasons)
	ContentPath string `env:"CONTENT_PATH" envDefault:"config/progression.yaml"`

	// ActiveSeason selects the current battle pass season from the
	// content config. Empty means the first configured season.
	ActiveSeason string `env:"ACTIVE_SEASON"`

	// Telemetry configuration
	OtelEnabled   bool   `env:"OTEL_ENABLED" envDefault:"true"`
	ZipkinURL     string `env:"ZIPKIN_URL"`
	OtelServiceID int    `env:"OTEL_SERVICE_ID" envDefault:"0"`
}
