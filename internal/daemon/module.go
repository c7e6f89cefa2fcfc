package daemon

import (
	"context"
	"os"
	"time"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/bus"
	"github.com/tmaia/glucolog/internal/config"
	"github.com/tmaia/glucolog/internal/lock"
	"github.com/tmaia/glucolog/internal/logging"
	"github.com/tmaia/glucolog/internal/profile"
	"github.com/tmaia/glucolog/internal/status"
	"github.com/tmaia/glucolog/internal/store"
	intsync "github.com/tmaia/glucolog/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackendClient,
			provideSyncEngine,
			provideScheduler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if os.IsNotExist(err) {
		logger.Info("no config file, using defaults", zap.String("path", profile.ConfigPath()))
		return &config.Config{SyncIntervalSeconds: config.DefaultSyncIntervalSeconds}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackendClient(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.BackendURL, cfg.AuthToken, logger)
}

func provideSyncEngine(db *store.DB, client *backend.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, b, logger, cfg.Offline)
}

func provideScheduler(engine *intsync.Engine, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *Scheduler {
	return NewScheduler(engine, machine, logger, time.Duration(cfg.SyncIntervalSeconds)*time.Second)
}

func registerLifecycle(lc fx.Lifecycle, sched *Scheduler, lk *lock.Lock, machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			first := status.Idle
			if cfg.Offline {
				first = status.Offline
			}
			if err := machine.Transition(first); err != nil {
				return err
			}
			sched.Start(context.Background())
			logger.Info("daemon started",
				zap.Bool("offline", cfg.Offline),
				zap.Int("sync_interval_seconds", cfg.SyncIntervalSeconds),
			)
			return nil
		},
		OnStop: func(_ context.Context) error {
			sched.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
