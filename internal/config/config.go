// Package config defines the top-level configuration for the staking service
// and provides validation helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTSTAKE_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Chain       ChainConfig       `toml:"chain"`
	Tokens      []TokenConfig     `toml:"tokens"`
	StatusTable map[string]string `toml:"status_table"`
	Refresh     RefreshConfig     `toml:"refresh"`
	Retry       RetryConfig       `toml:"retry"`
	Redis       RedisConfig       `toml:"redis"`
	Postgres    PostgresConfig    `toml:"postgres"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Watch       WatchConfig       `toml:"watch"`
	Archive     ArchiveConfig     `toml:"archive"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	LogFile     string            `toml:"log_file"`
}

// WalletConfig holds the signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the ledger endpoint and write tuning.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"` // 0: ask the node
	GasMultiplier  float64  `toml:"gas_multiplier"`
	PollInterval   duration `toml:"poll_interval"`
	Confirmations  uint64   `toml:"confirmations"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
}

// TokenConfig is one [[tokens]] entry.
type TokenConfig struct {
	Address          string `toml:"address"`
	Symbol           string `toml:"symbol"`
	Decimals         int    `toml:"decimals"`
	Approval         string `toml:"approval"` // exact | multiple
	ApprovalMultiple int64  `toml:"approval_multiple"`
}

// RefreshConfig tunes coordinated refreshes and read caches.
type RefreshConfig struct {
	Offsets         []duration `toml:"offsets"`
	MinInterval     duration   `toml:"min_interval"`
	RunTimeout      duration   `toml:"run_timeout"`
	SnapshotMaxAge  duration   `toml:"snapshot_max_age"`
	SnapshotLimit   int        `toml:"snapshot_limit"`
	AllowanceMaxAge duration   `toml:"allowance_max_age"`
}

// RetryConfig bounds retries of transient ledger reads.
type RetryConfig struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay duration `toml:"base_delay"`
	MaxDelay  duration `toml:"max_delay"`
}

// RedisConfig holds Redis connection parameters. Redis is optional.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// PostgresConfig holds the journal database parameters. Postgres is optional.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// WatchConfig lists the events polled in watch mode.
type WatchConfig struct {
	Events    []string `toml:"events"`
	Interval  duration `toml:"interval"`
	AutoClaim bool     `toml:"auto_claim"`
}

// ArchiveConfig controls archive mode.
type ArchiveConfig struct {
	RetentionDays int  `toml:"retention_days"`
	Prune         bool `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			GasMultiplier:  1.2,
			PollInterval:   duration{2 * time.Second},
			Confirmations:  1,
			ConfirmTimeout: duration{3 * time.Minute},
		},
		Refresh: RefreshConfig{
			Offsets:         []duration{{0}, {3 * time.Second}, {6 * time.Second}},
			MinInterval:     duration{2 * time.Second},
			RunTimeout:      duration{15 * time.Second},
			SnapshotMaxAge:  duration{10 * time.Second},
			SnapshotLimit:   256,
			AllowanceMaxAge: duration{30 * time.Second},
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: duration{250 * time.Millisecond},
			MaxDelay:  duration{2 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "predictstake",
			LockTTL:    duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predictstake",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictstake-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       30,
			RateLimitWindow: duration{time.Minute},
		},
		Watch: WatchConfig{
			Interval: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"watch":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, watch, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsLedger := mode == "serve" || mode == "watch"
	if needsLedger {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if strings.TrimSpace(c.Chain.RPCURL) == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID < 0 {
			errs = append(errs, "chain: chain_id must not be negative")
		}
		if c.Chain.ConfirmTimeout.Duration <= 0 {
			errs = append(errs, "chain: confirm_timeout must be > 0")
		}
		if len(c.Tokens) == 0 {
			errs = append(errs, "tokens: at least one [[tokens]] entry is required")
		}
		if _, err := c.TokenConfigs(); err != nil {
			errs = append(errs, err.Error())
		}
		if _, _, err := c.ResolveStatusTable(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, "retry: attempts must be >= 1")
	}
	if c.Retry.BaseDelay.Duration <= 0 || c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		errs = append(errs, "retry: need 0 < base_delay <= max_delay")
	}
	if len(c.Refresh.Offsets) == 0 {
		errs = append(errs, "refresh: offsets must not be empty")
	}
	for _, off := range c.Refresh.Offsets {
		if off.Duration < 0 {
			errs = append(errs, "refresh: offsets must not be negative")
			break
		}
	}
	if c.Refresh.SnapshotLimit < 1 {
		errs = append(errs, "refresh: snapshot_limit must be >= 1")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= c.Chain.ConfirmTimeout.Duration {
			errs = append(errs, "redis: lock_ttl must exceed chain.confirm_timeout")
		}
	}

	if c.Postgres.Enabled || mode == "archive" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within 0..pool_max_conns")
		}
	}

	if c.S3.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if mode == "archive" && c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	if mode == "watch" {
		if len(c.Watch.Events) == 0 {
			errs = append(errs, "watch: events must list at least one event address")
		}
		for _, ev := range c.Watch.Events {
			if !common.IsHexAddress(ev) {
				errs = append(errs, fmt.Sprintf("watch: %q is not an address", ev))
			}
		}
		if c.Watch.Interval.Duration <= 0 {
			errs = append(errs, "watch: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TokenConfigs converts the [[tokens]] entries.
func (c *Config) TokenConfigs() ([]domain.TokenConfig, error) {
	out := make([]domain.TokenConfig, 0, len(c.Tokens))
	for i, t := range c.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("tokens[%d]: %q is not an address", i, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("tokens[%d]: decimals must be 0-36, got %d", i, t.Decimals)
		}
		out = append(out, domain.TokenConfig{
			Address:          common.HexToAddress(t.Address),
			Symbol:           t.Symbol,
			Decimals:         uint8(t.Decimals),
			Approval:         domain.ApprovalPolicy(strings.ToLower(t.Approval)),
			ApprovalMultiple: t.ApprovalMultiple,
		})
	}
	return out, nil
}

// ResolveStatusTable builds the status table. explicit is false when
// [status_table] is absent and the default mapping is used.
func (c *Config) ResolveStatusTable() (table lifecycle.StatusTable, explicit bool, err error) {
	if len(c.StatusTable) == 0 {
		return lifecycle.DefaultTable(), false, nil
	}
	m := make(map[uint8]domain.EventStatus, len(c.StatusTable))
	for k, v := range c.StatusTable {
		code, err := strconv.ParseUint(strings.TrimSpace(k), 10, 8)
		if err != nil {
			return lifecycle.StatusTable{}, true, fmt.Errorf("status_table: %q is not a status code", k)
		}
		st, ok := lifecycle.ParseStatus(strings.ToLower(strings.TrimSpace(v)))
		if !ok {
			return lifecycle.StatusTable{}, true, fmt.Errorf("status_table: %q is not a status", v)
		}
		m[uint8(code)] = st
	}
	table, err = lifecycle.NewStatusTable(m)
	if err != nil {
		return lifecycle.StatusTable{}, true, fmt.Errorf("status_table: %w", err)
	}
	return table, true, nil
}

// RefreshOffsets returns the configured offsets as durations.
func (c *Config) RefreshOffsets() []time.Duration {
	out := make([]time.Duration, len(c.Refresh.Offsets))
	for i, d := range c.Refresh.Offsets {
		out[i] = d.Duration
	}
	return out
}

// WatchEvents returns the watched event addresses.
func (c *Config) WatchEvents() []common.Address {
	out := make([]common.Address, 0, len(c.Watch.Events))
	for _, ev := range c.Watch.Events {
		out = append(out, common.HexToAddress(ev))
	}
	return out
}
