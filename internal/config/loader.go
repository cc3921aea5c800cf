package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load layers configuration in order: built-in defaults, the TOML file at
// path (skipped when path is empty), then PREDICTSTAKE_* variables from the
// environment or a ./.env file. Keys the file does not know are an error so
// typos do not silently fall back to defaults. Validate is left to the
// caller.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTSTAKE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PREDICTSTAKE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PREDICTSTAKE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PREDICTSTAKE_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PREDICTSTAKE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PREDICTSTAKE_CHAIN_CHAIN_ID")
	setFloat64(&cfg.Chain.GasMultiplier, "PREDICTSTAKE_CHAIN_GAS_MULTIPLIER")
	setDuration(&cfg.Chain.ConfirmTimeout, "PREDICTSTAKE_CHAIN_CONFIRM_TIMEOUT")

	// ── Retry ──
	setInt(&cfg.Retry.Attempts, "PREDICTSTAKE_RETRY_ATTEMPTS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTSTAKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTSTAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTSTAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTSTAKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTSTAKE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTSTAKE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "PREDICTSTAKE_REDIS_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDICTSTAKE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDICTSTAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTSTAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTSTAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTSTAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTSTAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTSTAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTSTAKE_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTSTAKE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTSTAKE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTSTAKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTSTAKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTSTAKE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PREDICTSTAKE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICTSTAKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTSTAKE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTSTAKE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTSTAKE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTSTAKE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTSTAKE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICTSTAKE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICTSTAKE_SERVER_RATE_LIMIT")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Events, "PREDICTSTAKE_WATCH_EVENTS")
	setDuration(&cfg.Watch.Interval, "PREDICTSTAKE_WATCH_INTERVAL")
	setBool(&cfg.Watch.AutoClaim, "PREDICTSTAKE_WATCH_AUTO_CLAIM")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "PREDICTSTAKE_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "PREDICTSTAKE_ARCHIVE_PRUNE")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTSTAKE_MODE")
	setStr(&cfg.LogLevel, "PREDICTSTAKE_LOG_LEVEL")
	setStr(&cfg.LogFile, "PREDICTSTAKE_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
