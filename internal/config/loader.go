package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HASHMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HASHMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HASHMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HASHMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HASHMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HASHMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HASHMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HASHMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HASHMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HASHMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HASHMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HASHMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HASHMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HASHMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HASHMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HASHMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HASHMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HASHMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "HASHMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HASHMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "HASHMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HASHMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HASHMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HASHMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HASHMARKET_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "HASHMARKET_SERVER_PORT")
	setStr(&cfg.Server.AdminAPIKey, "HASHMARKET_SERVER_ADMIN_API_KEY")
	setStr(&cfg.Server.AdminAPIKeyHash, "HASHMARKET_SERVER_ADMIN_API_KEY_HASH")
	setStr(&cfg.Server.ProxyHMACSecret, "HASHMARKET_SERVER_PROXY_HMAC_SECRET")
	setInt(&cfg.Server.RateLimitPerMinute, "HASHMARKET_SERVER_RATE_LIMIT_PER_MINUTE")
	setStrSlice(&cfg.Server.CORSOrigins, "HASHMARKET_SERVER_CORS_ORIGINS")

	// ── Market ──
	setDuration(&cfg.Market.SweepInterval, "HASHMARKET_MARKET_SWEEP_INTERVAL")
	setDuration(&cfg.Market.SettleLockTTL, "HASHMARKET_MARKET_SETTLE_LOCK_TTL")
	setDuration(&cfg.Market.ArchiveAfter, "HASHMARKET_MARKET_ARCHIVE_AFTER")
	setDuration(&cfg.Market.ArchiveInterval, "HASHMARKET_MARKET_ARCHIVE_INTERVAL")

	// ── Proxy ──
	setDuration(&cfg.Proxy.SampleInterval, "HASHMARKET_PROXY_SAMPLE_INTERVAL")
	setFloat(&cfg.Proxy.LowAccuracyAlertPercent, "HASHMARKET_PROXY_LOW_ACCURACY_ALERT_PERCENT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HASHMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HASHMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HASHMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStrSlice(&cfg.Notify.Events, "HASHMARKET_NOTIFY_EVENTS")

	// ── Top level ──
	setStr(&cfg.Mode, "HASHMARKET_MODE")
	setStr(&cfg.LogLevel, "HASHMARKET_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
