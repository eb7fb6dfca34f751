// Package app assembles the process-wide service container: the
// single set of components constructed once at startup and shut down
// once at exit, per spec §9. Everything downstream (internal/httpapi,
// internal/retention) is handed references into this container rather
// than constructing its own dependencies.
//
// Grounded on the teacher's root main.go wiring order (logger, then
// storage backends, then domain managers, then the HTTP surface) and
// its preference for graceful, ordered shutdown over a bare os.Exit.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/config"
	"github.com/opendeepresearch/taskstream/internal/eventlog"
	"github.com/opendeepresearch/taskstream/internal/health"
	"github.com/opendeepresearch/taskstream/internal/httpapi"
	"github.com/opendeepresearch/taskstream/internal/replay"
	"github.com/opendeepresearch/taskstream/internal/retention"
	"github.com/opendeepresearch/taskstream/internal/taskmanager"
	"github.com/opendeepresearch/taskstream/internal/taskstore"
	"github.com/opendeepresearch/taskstream/internal/workflow"
)

// App is the assembled service container.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Redis     *redis.Client // nil when running on the in-memory fallback
	EventLog  eventlog.Log
	Store     taskstore.Store
	Tasks     *taskmanager.Manager
	Replayer  *replay.Replayer
	Server    *httpapi.Server
	Health    *health.Manager
	Retention *retention.Sweeper
}

// New builds the full container from cfg. engine constructs the
// Workflow Engine for a given task; passing nil defaults to
// workflow.MockEngine, which is the only engine this repository ships
// (spec §1 keeps the actual research agent out of scope).
func New(cfg *config.Config, logger *zap.Logger, engine taskmanager.EngineFactory) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = func(string) workflow.Engine { return &workflow.MockEngine{} }
	}

	var (
		redisClient *redis.Client
		log         eventlog.Log
		store       taskstore.Store
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log = eventlog.NewFailoverLog(eventlog.NewRedisLog(redisClient, logger), eventlog.NewMemoryLog(), logger)
		store = taskstore.NewRedisStore(redisClient, logger)
		logger.Info("app: using redis-backed event log and task registry, with in-memory failover per stream", zap.String("addr", cfg.Redis.Addr))
	} else {
		log = eventlog.NewMemoryLog()
		store = taskstore.NewMemoryStore()
		logger.Warn("app: no redis address configured, falling back to in-memory event log and task registry (not for production use)")
	}

	reportStyles, err := config.LoadReportStyles()
	if err != nil {
		return nil, fmt.Errorf("app: loading report styles: %w", err)
	}

	tasks := taskmanager.New(store, log, engine, cfg.Worker.MaxConcurrent, logger)
	replayer := replay.New(log, store, logger)
	server := httpapi.New(tasks, store, replayer, logger, reportStyles)

	hm := health.NewManager(logger)
	if err := hm.RegisterChecker(health.NewRedisHealthChecker(redisClient)); err != nil {
		return nil, fmt.Errorf("app: registering redis health checker: %w", err)
	}
	if err := hm.RegisterChecker(health.NewEventLogHealthChecker(log)); err != nil {
		return nil, fmt.Errorf("app: registering eventlog health checker: %w", err)
	}
	if err := hm.RegisterChecker(health.NewTaskStoreHealthChecker(store)); err != nil {
		return nil, fmt.Errorf("app: registering taskstore health checker: %w", err)
	}

	sweeper, err := retention.New(tasks, cfg.Retention.Schedule, cfg.Retention.OlderThanDays, logger)
	if err != nil {
		return nil, fmt.Errorf("app: building retention sweeper: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Redis:     redisClient,
		EventLog:  log,
		Store:     store,
		Tasks:     tasks,
		Replayer:  replayer,
		Server:    server,
		Health:    hm,
		Retention: sweeper,
	}, nil
}

// Start begins background services (health checks, retention sweeps).
// It does not block.
func (a *App) Start(ctx context.Context) error {
	if err := a.Health.Start(ctx); err != nil {
		return fmt.Errorf("app: starting health manager: %w", err)
	}
	a.Retention.Start()
	return nil
}

// Shutdown tears the container down in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	a.Retention.Stop()
	if err := a.Health.Stop(); err != nil {
		a.Logger.Warn("app: health manager stop failed", zap.Error(err))
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("app: redis client close failed", zap.Error(err))
		}
	}
}
