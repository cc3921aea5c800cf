package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/predictstake/internal/blob/s3"
	"github.com/alanyoungcy/predictstake/internal/allowance"
	"github.com/alanyoungcy/predictstake/internal/cache/memory"
	"github.com/alanyoungcy/predictstake/internal/cache/redis"
	"github.com/alanyoungcy/predictstake/internal/config"
	"github.com/alanyoungcy/predictstake/internal/crypto"
	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/ledger"
	"github.com/alanyoungcy/predictstake/internal/ledger/evm"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
	"github.com/alanyoungcy/predictstake/internal/metrics"
	"github.com/alanyoungcy/predictstake/internal/opstate"
	"github.com/alanyoungcy/predictstake/internal/orchestrator"
	"github.com/alanyoungcy/predictstake/internal/refresh"
	"github.com/alanyoungcy/predictstake/internal/server/handler"
	"github.com/alanyoungcy/predictstake/internal/stake"
	"github.com/alanyoungcy/predictstake/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger side; nil in archive mode.
	Wallet       string
	Metrics      *metrics.Metrics
	Registry     *opstate.Registry
	Coordinator  *refresh.Coordinator
	Fanout       *refresh.Fanout
	Orchestrator *orchestrator.Orchestrator

	// Stores
	Operations *postgres.OperationStore
	Audit      domain.AuditStore

	// Caches
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Health probes keyed by dependency name.
	Checks map[string]handler.Check
}

// needsLedger returns true for modes that read from and write to the ledger.
func needsLedger(mode string) bool {
	switch mode {
	case "serve", "watch":
		return true
	default:
		return false
	}
}

// needsPostgres returns true when the operation journal must be opened.
func needsPostgres(cfg *config.Config, mode string) bool {
	return cfg.Postgres.Enabled || mode == "archive"
}

// needsS3 returns true when object storage must be opened.
func needsS3(cfg *config.Config, mode string) bool {
	return cfg.S3.Enabled || mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	if needsPostgres(cfg, mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.Info("applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Operations = postgres.NewOperationStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	}

	// --- S3 blob storage ---
	if needsS3(cfg, mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Checks["s3"] = s3Client.Health

		bucket := s3blob.NewBucket(s3Client)
		deps.BlobReader = bucket
		if deps.Operations != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(
				bucket,
				deps.Operations,
				deps.Audit,
				s3blob.WithPrune(cfg.Archive.Prune),
				s3blob.WithExistingCheck(bucket),
				s3blob.WithArchiveLogger(logger),
			)
		}
	}

	if !needsLedger(mode) {
		return deps, cleanup, nil
	}

	// --- Redis (optional; in-process fallbacks otherwise) ---
	var (
		locks  domain.LockManager
		shared domain.SnapshotCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		locks = redis.NewLockManager(redisClient)
		shared = redis.NewSnapshotCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		deps.SignalBus = memory.NewBus()
	}

	// --- Ledger ---
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	deps.Wallet = signer.Address().Hex()

	table, explicit, err := cfg.ResolveStatusTable()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if !explicit {
		logger.WarnContext(ctx, "status_table not configured, assuming the default code mapping",
			slog.Any("codes", table.Codes()),
		)
	}

	chain, closeChain, err := evm.Dial(ctx, cfg.Chain.RPCURL, evm.Config{
		ChainID:       cfg.Chain.ChainID,
		GasMultiplier: cfg.Chain.GasMultiplier,
		PollInterval:  cfg.Chain.PollInterval.Duration,
		Confirmations: cfg.Chain.Confirmations,
	}, signer, table, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	closers = append(closers, closeChain)

	tokens, err := cfg.TokenConfigs()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	tokens = fillTokenMetadata(ctx, chain, tokens, logger)
	policies, err := allowance.NewPolicyTable(tokens)
	if err != nil {
		return fail(fmt.Errorf("wire: tokens: %w", err))
	}

	deps.Metrics = metrics.New()
	reader := ledger.NewRetryReader(chain, ledger.RetryConfig{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay.Duration,
		MaxDelay:  cfg.Retry.MaxDelay.Duration,
	}, logger, deps.Metrics.ReadRetried)

	clock := refresh.SystemClock{}
	allowances := allowance.NewManager(reader, chain, policies, allowance.Config{
		MaxAge:         cfg.Refresh.AllowanceMaxAge.Duration,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
	}, clock, logger)

	regOpts := []opstate.Option{opstate.WithLogger(logger)}
	if locks != nil {
		regOpts = append(regOpts, opstate.WithLockManager(locks, cfg.Redis.LockTTL.Duration))
	}
	deps.Registry = opstate.NewRegistry(regOpts...)

	deps.Coordinator = refresh.New(refresh.Config{
		Offsets:     cfg.RefreshOffsets(),
		MinInterval: cfg.Refresh.MinInterval.Duration,
		RunTimeout:  cfg.Refresh.RunTimeout.Duration,
	}, clock, deps.Metrics.RefreshHooks(), logger)
	closers = append(closers, deps.Coordinator.Close)
	deps.Fanout = refresh.NewFanout(deps.Coordinator, deps.SignalBus, clock, logger)

	engine := stake.NewEngine(reader, chain, allowances, deps.Registry, deps.Fanout, signer.Address(),
		stake.WithConfirmTimeout(cfg.Chain.ConfirmTimeout.Duration),
		stake.WithLogger(logger),
	)

	orch, err := orchestrator.New(orchestrator.Deps{
		Reader:     reader,
		Writer:     chain,
		Engine:     engine,
		Allowances: allowances,
		Registry:   deps.Registry,
		Classifier: lifecycle.NewClassifier(table),
		Refresher:  deps.Fanout,
		Shared:     shared,
	}, orchestrator.Config{
		SnapshotMaxAge: cfg.Refresh.SnapshotMaxAge.Duration,
		SnapshotLimit:  cfg.Refresh.SnapshotLimit,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
	},
		orchestrator.WithClock(clock),
		orchestrator.WithCompletion(completionAudit(deps.Audit, logger)),
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		return fail(fmt.Errorf("wire: orchestrator: %w", err))
	}
	deps.Orchestrator = orch

	deps.Coordinator.Subscribe(orch.Snapshots())
	deps.Coordinator.Subscribe(allowances)

	deps.Registry.OnTransition(deps.Metrics.ObserveTransition)
	deps.Registry.OnTransition(orchestrator.NewPublisher(deps.SignalBus, logger).Observe)
	if deps.Operations != nil {
		deps.Registry.OnTransition(orchestrator.NewJournal(deps.Operations, logger).Observe)
	}

	deps.Checks["ledger"] = func(ctx context.Context) error {
		_, err := reader.Balance(ctx, tokens[0].Address, signer.Address())
		return err
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("wallet", deps.Wallet),
		slog.String("chain_id", chain.ChainID().String()),
		slog.Int("tokens", len(tokens)),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("journal", deps.Operations != nil),
	)
	return deps, cleanup, nil
}

// tokenMetadataReader is the part of the ledger used to fill token entries
// that omit their symbol.
type tokenMetadataReader interface {
	TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error)
}

// fillTokenMetadata asks the token contract for symbol and decimals when a
// [[tokens]] entry has no symbol. Lookup failures keep the configured values.
func fillTokenMetadata(ctx context.Context, r tokenMetadataReader, tokens []domain.TokenConfig, logger *slog.Logger) []domain.TokenConfig {
	out := make([]domain.TokenConfig, len(tokens))
	copy(out, tokens)
	for i, t := range out {
		if t.Symbol != "" {
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		symbol, decimals, err := r.TokenMetadata(lookupCtx, t.Address)
		cancel()
		if err != nil {
			logger.WarnContext(ctx, "token metadata lookup failed",
				slog.String("token", t.Address.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[i].Symbol = symbol
		out[i].Decimals = decimals
	}
	return out
}

// completionAudit logs every confirmed write and, when the journal is
// available, appends it to the audit log.
func completionAudit(audit domain.AuditStore, logger *slog.Logger) func(orchestrator.Completion) {
	logger = logger.With(slog.String("component", "completion"))
	return func(c orchestrator.Completion) {
		detail := map[string]any{
			"event":        c.Event.Hex(),
			"intent":       string(c.Intent),
			"operation_id": c.Result.OperationID,
			"tx_hash":      c.Result.TxHash,
		}
		if c.Amount != nil {
			detail["amount"] = c.Amount.String()
		}
		logger.Info("write confirmed",
			slog.String("event", c.Event.Hex()),
			slog.String("intent", string(c.Intent)),
			slog.String("tx_hash", c.Result.TxHash),
		)
		if audit == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := audit.Log(ctx, "operation."+string(c.Intent), detail); err != nil {
			logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
}
