// Package config defines the top-level configuration for the hashmarket
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HASHMARKET_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Market   MarketConfig   `toml:"market"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey authenticates /api/admin routes. Leave empty to disable
	// admin routes entirely.
	AdminAPIKey string `toml:"admin_api_key"`
	// AdminAPIKeyHash is the PBKDF2 hash of the admin key (preferred over
	// storing the plaintext key in the file). Format: pbkdf2$<salt>$<hash>.
	AdminAPIKeyHash string `toml:"admin_api_key_hash"`
	// ProxyHMACSecret authenticates telemetry callbacks from the mining
	// proxy. Required: telemetry drives order activation.
	ProxyHMACSecret string `toml:"proxy_hmac_secret"`
	// RateLimitPerMinute caps requests per client IP; 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// MarketConfig holds marketplace settlement parameters.
type MarketConfig struct {
	// SweepInterval is how often the expiry worker scans for overdue active
	// orders to move into review.
	SweepInterval time.Duration `toml:"sweep_interval"`
	// SettleLockTTL bounds how long one settlement attempt may hold the
	// per-order lock.
	SettleLockTTL time.Duration `toml:"settle_lock_ttl"`
	// ArchiveAfter is the age at which settled orders are exported to object
	// storage; 0 disables the archive worker.
	ArchiveAfter time.Duration `toml:"archive_after"`
	// ArchiveInterval is how often the archive worker runs.
	ArchiveInterval time.Duration `toml:"archive_interval"`
}

// ProxyConfig holds telemetry ingest parameters.
type ProxyConfig struct {
	// SampleInterval is the expected cadence of proxy hashrate reports; the
	// uptime metric counts missed slots against it.
	SampleInterval time.Duration `toml:"sample_interval"`
	// LowAccuracyAlertPercent triggers an ops alert when delivered hashrate
	// accuracy drops below it; 0 disables.
	LowAccuracyAlertPercent float64 `toml:"low_accuracy_alert_percent"`
}

// NotifyConfig holds ops alerting channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

var validModes = map[string]bool{
	"serve":   true,
	"full":    true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for consistency and returns a combined
// error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.ProxyHMACSecret == "" {
		errs = append(errs, "server: proxy_hmac_secret must be set (telemetry ingest is authenticated)")
	}
	if c.Server.AdminAPIKey != "" && c.Server.AdminAPIKeyHash != "" {
		errs = append(errs, "server: set admin_api_key or admin_api_key_hash, not both")
	}

	if c.Market.SweepInterval <= 0 {
		errs = append(errs, "market: sweep_interval must be positive")
	}
	if c.Market.SettleLockTTL <= 0 {
		errs = append(errs, "market: settle_lock_ttl must be positive")
	}
	if c.Market.ArchiveAfter > 0 && c.Market.ArchiveInterval <= 0 {
		errs = append(errs, "market: archive_interval must be positive when archive_after is set")
	}
	if c.Proxy.SampleInterval <= 0 {
		errs = append(errs, "proxy: sample_interval must be positive")
	}
	if c.Proxy.LowAccuracyAlertPercent < 0 || c.Proxy.LowAccuracyAlertPercent > 100 {
		errs = append(errs, "proxy: low_accuracy_alert_percent must be within [0,100]")
	}

	mode := strings.ToLower(c.Mode)
	if (mode == "full" || mode == "archive") && c.Market.ArchiveAfter > 0 && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must be set when archiving is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Defaults returns the built-in configuration defaults. Load applies the TOML
// file and environment overrides on top of these.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hashmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hashmarket-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:               8080,
			RateLimitPerMinute: 240,
		},
		Market: MarketConfig{
			SweepInterval:   time.Minute,
			SettleLockTTL:   15 * time.Second,
			ArchiveAfter:    0,
			ArchiveInterval: time.Hour,
		},
		Proxy: ProxyConfig{
			SampleInterval:          5 * time.Minute,
			LowAccuracyAlertPercent: 50,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}
