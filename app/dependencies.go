package app

import (
	"context"
	"fmt"
	"time"

	"github.com/arcturusdc/orbit/auth"
	"github.com/arcturusdc/orbit/config"
	"github.com/arcturusdc/orbit/handlers"
	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/repositories/memory"
	"github.com/arcturusdc/orbit/repositories/postgres"
	"github.com/arcturusdc/orbit/services/consent"
	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/arcturusdc/orbit/services/ledger"
	"github.com/arcturusdc/orbit/services/organization"
	"github.com/arcturusdc/orbit/services/policy"
	"github.com/arcturusdc/orbit/services/ratelimit"
	"github.com/arcturusdc/orbit/services/sandbox"
	"github.com/arcturusdc/orbit/services/snapshot"
	"github.com/arcturusdc/orbit/services/verification"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint
var Version = "dev"

const (
	keyCacheSize = 1000
	keyCacheTTL  = 5 * time.Minute

	limiterCleanupInterval = time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client
	Logger *zap.Logger

	// Storage
	RepoFactory *postgres.RepositoryFactory
	Repos       *repositories.Repositories
	TxManager   repositories.TransactionManager

	// Services
	KeyCache      *keyring.KeyCache
	KeyRing       *keyring.KeyRing
	Organizations *organization.Service
	Consents      *consent.Service
	Ledger        *ledger.Service
	Snapshots     *snapshot.Service
	Verifier      *verification.Service
	Sandbox       *sandbox.Service
	Alerts        *policy.AlertService
	AlertHook     *policy.Hook
	Sessions      *auth.SessionManager
	Limiter       ratelimit.Limiter

	// HTTP
	EventHandler        *handlers.EventHandler
	ConsentHandler      *handlers.ConsentHandler
	SnapshotHandler     *handlers.SnapshotHandler
	VerificationHandler *handlers.VerificationHandler
	AlertHandler        *handlers.AlertHandler
	AdminHandler        *handlers.AdminHandler
	HealthHandler       *handlers.HealthHandler
	StatusHandler       *handlers.StatusHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimit           *middleware.RateLimitMiddleware

	stopLimiterCleanup context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := deps.initRateLimiter(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	deps.initServices(cfg)

	if err := deps.initAlertHook(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize alert hook: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("alert_queue", cfg.AlertQueue.Enabled()))
	return deps, nil
}

// initStorage opens the configured store backend
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		store := memory.NewStore()
		d.Repos = store.NewRepositories()
		d.TxManager = store.TransactionManager()
		d.Logger.Warn("using in-memory store, data is lost on restart")
		return nil

	case config.StoreBackendPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		if cfg.Database.InitSchema {
			if err := factory.InitSchema(ctx); err != nil {
				_ = factory.Close()
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
			d.Logger.Info("database schema initialized")
		}
		d.RepoFactory = factory
		d.DB = factory.GetDB()
		d.Repos = factory.NewRepositories()
		d.TxManager = factory.GetTransactionManager()
		return nil

	default:
		return fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

// initRateLimiter shares counters through Redis when REDIS_URL is set and keeps them in process otherwise
func (d *Dependencies) initRateLimiter(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}

		d.Redis = client
		d.Limiter = ratelimit.NewRedisLimiter(client)
		d.Logger.Info("redis connection established", zap.String("addr", opts.Addr))
		return nil
	}

	memLimiter := ratelimit.NewMemoryLimiter(d.Logger)
	cleanupCtx, cancel := context.WithCancel(context.Background())
	memLimiter.StartCleanupWorker(cleanupCtx, limiterCleanupInterval)
	d.stopLimiterCleanup = cancel
	d.Limiter = memLimiter
	return nil
}

// initServices builds the domain services over the opened store
func (d *Dependencies) initServices(cfg *config.Config) {
	repos := d.Repos

	d.KeyCache = keyring.NewKeyCache(keyCacheSize, keyCacheTTL)
	d.KeyRing = keyring.NewKeyRing(repos.Organizations, repos.SigningKeys, d.TxManager, d.KeyCache, d.Logger)
	d.Organizations = organization.NewService(repos.Organizations, d.KeyRing, d.TxManager, d.Logger)
	d.Consents = consent.NewService(repos.Consents, d.Logger)

	locks := ledger.NewChainLocks()
	d.Ledger = ledger.NewService(repos.Events, d.KeyRing, locks, d.Consents, nil,
		ledger.Config{AppendRetries: cfg.Ledger.AppendRetries}, d.Logger)
	d.Snapshots = snapshot.NewService(repos.Snapshots, d.TxManager, d.Ledger, locks, d.Logger)
	d.Verifier = verification.NewService(repos.Events, d.KeyRing, repos.Verifications, d.Logger)
	d.Sandbox = sandbox.NewService(repos, d.TxManager, sandbox.Config{
		Enabled:    cfg.Sandbox.Enabled,
		UserPrefix: cfg.Sandbox.UserPrefix,
		BatchSize:  cfg.Sandbox.BatchSize,
	}, d.Logger)
	d.Alerts = policy.NewAlertService(repos.Alerts)
	d.Sessions = auth.NewSessionManager(auth.Config{
		Secret: cfg.Session.JWTSecret,
		Issuer: cfg.Session.Issuer,
		TTL:    cfg.Session.TTL,
	})
}

// initAlertHook starts the policy workers and attaches them to the ledger
func (d *Dependencies) initAlertHook(ctx context.Context, cfg *config.Config) error {
	sinks := []policy.Sink{policy.NewRepositorySink(d.Repos.Alerts)}
	if cfg.AlertQueue.Enabled() {
		queueSink, err := policy.NewAzureQueueSink(ctx, cfg.AlertQueue.ConnectionString, cfg.AlertQueue.QueueName, cfg.AlertQueue.MaxRetries)
		if err != nil {
			return fmt.Errorf("failed to connect alert queue: %w", err)
		}
		sinks = append(sinks, queueSink)
		d.Logger.Info("alert queue sink enabled", zap.String("queue", cfg.AlertQueue.QueueName))
	}

	hookCfg := policy.DefaultConfig()
	hookCfg.Workers = cfg.Policy.Workers
	hookCfg.BufferSize = cfg.Policy.BufferSize
	hookCfg.MaxRetries = cfg.Policy.MaxRetries
	hookCfg.RetryBackoff = cfg.Policy.RetryBackoff

	hook := policy.NewHook(policy.DefaultRules(d.Consents), sinks, hookCfg, d.Logger)
	if err := hook.Start(); err != nil {
		return err
	}
	d.AlertHook = hook
	d.Ledger.SetHook(hook)
	return nil
}

// initHTTP builds handlers and middleware
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.EventHandler = handlers.NewEventHandler(d.Ledger, d.Logger)
	d.ConsentHandler = handlers.NewConsentHandler(d.Consents, d.Logger)
	d.SnapshotHandler = handlers.NewSnapshotHandler(d.Snapshots, d.Logger)
	d.VerificationHandler = handlers.NewVerificationHandler(d.Verifier, d.Logger)
	d.AlertHandler = handlers.NewAlertHandler(d.Alerts, d.Logger)
	d.AdminHandler = handlers.NewAdminHandler(d.Organizations, d.Sandbox, d.Sessions, d.Logger)

	var checks []handlers.HealthCheck
	if d.DB != nil {
		checks = append(checks, handlers.HealthCheck{Name: "postgres", Check: d.DB.HealthCheck})
	}
	if d.Redis != nil {
		client := d.Redis
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Logger)
	d.StatusHandler = handlers.NewStatusHandler(handlers.StatusInfo{
		Version:      Version,
		Environment:  cfg.Environment,
		StoreBackend: cfg.StoreBackend,
	}, d.AlertHook, d.KeyCache)

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Sessions, d.Organizations, cfg.Admin.APIKey, d.Logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = d.Limiter
	} else {
		d.Logger.Warn("rate limiting disabled")
	}
	d.RateLimit = middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit.Window, d.Logger)
}

func (d *Dependencies) closeStorage() {
	if d.stopLimiterCleanup != nil {
		d.stopLimiterCleanup()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.RepoFactory != nil {
		_ = d.RepoFactory.Close()
	}
}

// Close gracefully shuts down all dependencies. The alert hook drains before the store closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.AlertHook != nil {
		timeout := d.Config.Policy.StopTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if err := d.AlertHook.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop alert hook: %w", err))
		}
	}

	if d.stopLimiterCleanup != nil {
		d.stopLimiterCleanup()
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		} else {
			d.Logger.Info("redis connection closed")
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
