// Package app wires the storage, queue, lock and orchestrators shared by the
// worker and the CLI.
package app

import (
	"context"
	"fmt"
	"os"

	"channelsync/internal/config"
	"channelsync/internal/database"
	"channelsync/internal/events"
	"channelsync/internal/job"
	"channelsync/internal/lock"
	"channelsync/internal/logging"
	"channelsync/internal/metrics"
	"channelsync/internal/orchestrator"
	"channelsync/internal/provider"
	"channelsync/internal/queue"
	"channelsync/internal/redisclient"
	"channelsync/internal/registry"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config     *config.Config
	Logger     *zerolog.Logger
	DB         *database.DB
	Redis      *redis.Client
	Registry   *registry.Registry
	Events     *events.EventBus
	Guard      *lock.Guard
	Queue      *queue.Queue
	Deps       orchestrator.Deps
	Processor  *orchestrator.Processor
	Reverse    *orchestrator.ReverseProcessor
	Dispatcher *orchestrator.Dispatcher
	// OwnerID identifies this process in job locks.
	OwnerID string
}

// Option tweaks New.
type Option func(*options)

type options struct {
	provider provider.Options
	seed     bool
}

// WithProviderOptions passes transport options to the built-in channels.
func WithProviderOptions(opts provider.Options) Option {
	return func(o *options) { o.provider = opts }
}

// WithoutSeed skips upserting the configured integrations.
func WithoutSeed() Option {
	return func(o *options) { o.seed = false }
}

// New opens the database and redis, registers the built-in channels, seeds
// the configured integrations and builds the orchestrators. The caller owns
// Close.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, opts ...Option) (*App, error) {
	o := options{seed: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	a := &App{Config: cfg, Logger: logger, OwnerID: ownerID()}

	reg := registry.New()
	if err := provider.Register(reg, o.provider); err != nil {
		return nil, fmt.Errorf("register channels: %w", err)
	}
	a.Registry = reg

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		return nil, err
	}
	a.DB = db

	if o.seed {
		if err := a.seed(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	if err := a.connectRedis(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	store, err := a.lockStore()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Guard = lock.NewGuard(store, cfg.Lock.TTL, logging.Component(logger, "lock"), lock.WithConflictHook(metrics.IncJobConflict))

	a.Events = events.NewEventBus()
	a.Events.OnError(func(eventType string, err error) {
		logger.Warn().Err(err).Str("event", eventType).Msg("Event handler failed")
	})

	a.Queue = queue.New(db, a.Redis, queue.Options{
		Retry: queue.RetryPolicy{
			MaxRetries:    cfg.Worker.MaxRetries,
			InitialDelay:  cfg.Worker.InitialDelay,
			MaxDelay:      cfg.Worker.MaxDelay,
			BackoffFactor: cfg.Worker.BackoffFactor,
		},
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		Concurrency:  cfg.Worker.Concurrency,
		Visibility:   cfg.Worker.Visibility,
	}, logging.Component(logger, "queue"))

	processors := job.NewProcessorRegistry()
	a.Deps = orchestrator.Deps{
		Store:      db,
		Registry:   reg,
		Runner:     job.NewExecutor(processors, logging.Component(logger, "job")),
		Processors: processors,
		Events:     a.Events,
		Logger:     logging.Component(logger, "orchestrator"),
	}
	a.Processor = orchestrator.NewProcessor(a.Deps)
	a.Reverse = orchestrator.NewReverseProcessor(a.Deps)
	a.Dispatcher = orchestrator.NewDispatcher(db, reg, a.Queue)

	return a, nil
}

// Subscribe binds the sync and reverse-sync handlers to the queue.
func (a *App) Subscribe() {
	a.Queue.Subscribe(queue.TopicSyncRequested, orchestrator.NewSyncRequestHandler(a.Deps, a.Guard, a.Processor))
	a.Queue.Subscribe(queue.TopicReverseSyncRequested, orchestrator.NewReverseSyncHandler(a.Deps, a.Guard, a.Reverse))
}

// Checks are the readiness probes of the process.
func (a *App) Checks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error { return a.DB.PingContext(ctx) },
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return redisclient.Ping(ctx, a.Redis) }
	}
	return checks
}

// Close releases redis and the database.
func (a *App) Close() error {
	var result error
	if err := redisclient.Close(a.Redis); err != nil {
		result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
	}
	return result
}

func (a *App) seed(ctx context.Context) error {
	for i := range a.Config.Integrations {
		if err := a.Registry.ValidateIntegration(&a.Config.Integrations[i]); err != nil {
			return err
		}
	}
	if err := a.DB.SyncIntegrations(ctx, a.Config.Integrations); err != nil {
		return fmt.Errorf("seed integrations: %w", err)
	}
	return nil
}

// connectRedis is best effort unless redis backs the job locks.
func (a *App) connectRedis(ctx context.Context) error {
	if a.Config.Redis.Address == "" {
		return nil
	}
	client := redisclient.New(a.Config.Redis)
	if err := redisclient.Ping(ctx, client); err != nil {
		_ = client.Close()
		if a.Config.Lock.Backend == config.LockBackendRedis {
			return err
		}
		a.Logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}
	a.Logger.Info().Str("addr", a.Config.Redis.Address).Msg("redis connected")
	a.Redis = client
	return nil
}

func (a *App) lockStore() (lock.Store, error) {
	switch a.Config.Lock.Backend {
	case config.LockBackendRedis:
		if a.Redis == nil {
			return nil, fmt.Errorf("lock backend %q needs redis", config.LockBackendRedis)
		}
		return lock.NewRedisStore(a.Redis), nil
	case config.LockBackendMemory:
		return lock.NewMemoryStore(), nil
	case config.LockBackendDatabase, "":
		return lock.NewDatabaseStore(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", a.Config.Lock.Backend)
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
