package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lordvitaly/lvchat/internal/api"
	"github.com/lordvitaly/lvchat/internal/app"
	"github.com/lordvitaly/lvchat/internal/app/maintenance"
	"github.com/lordvitaly/lvchat/internal/database"
	"github.com/lordvitaly/lvchat/internal/middleware"
	"github.com/lordvitaly/lvchat/internal/store"
	"github.com/lordvitaly/lvchat/pkg/logger"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Store      store.Store
	Namespaces *store.Registry
	Cleaner    *maintenance.Cleaner
	RateStore  *middleware.MemoryRateStore
	Router     *gin.Engine
}

// bootstrapRuntime opens the record store, starts the sweeper and builds the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial startup cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.Store, stack.DB, err = openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Namespaces, err = store.NewRegistry(stack.Store, cfg.Storage.Policies()...)
	if err != nil {
		return nil, fmt.Errorf("configure namespaces: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Namespaces, maintenance.WithSchedule(cfg.Storage.Sweep.Schedule))
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	if cfg.Server.RateLimit.Requests > 0 {
		stack.RateStore = middleware.NewMemoryRateStore(cfg.Server.RateLimit.Window)
	}

	var rates middleware.RateStore
	if stack.RateStore != nil {
		rates = stack.RateStore
	}

	stack.Router, err = api.NewRouter(cfg, stack.Namespaces, rates)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// openStore selects the record backend named by storage.driver. The database
// handle is returned so shutdown can release it.
func openStore(cfg *app.Config, log *zap.Logger) (store.Store, *gorm.DB, error) {
	storeOpts := append(cfg.Storage.StoreOptions(), store.WithLogger(logger.WithModule("store")))
	driver := cfg.Storage.NormalisedDriver()

	switch driver {
	case app.StorageMemory:
		log.Warn("memory storage selected; records are lost on restart")
		return store.NewMemoryStore(storeOpts...), nil, nil

	case app.StorageFile:
		fs, err := store.NewFileStore(cfg.Storage.Path, storeOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		log.Info("file store ready", zap.String("root", fs.Root()))
		return fs, nil, nil

	case app.StorageBolt:
		bs, err := store.OpenBolt(cfg.Storage.Bolt.Path, storeOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		log.Info("bolt store ready", zap.String("path", cfg.Storage.Bolt.Path))
		return bs, nil, nil

	case app.StorageDatabase:
		dbCfg := cfg.Database.ConnectionConfig()
		db, err := database.OpenAndMigrate(dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		ds, err := store.NewDatabaseStore(db, storeOpts...)
		if err != nil {
			return nil, db, fmt.Errorf("open database store: %w", err)
		}
		log.Info("database store ready", zap.String("driver", dbCfg.Driver))
		return ds, db, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// Shutdown stops background work before releasing the store. Errors from each
// step are combined.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("wait for sweeper: %w", ctx.Err()))
		}
	}

	if s.RateStore != nil {
		s.RateStore.Stop()
	}

	if s.Namespaces != nil {
		s.Namespaces.Wait()
	}

	if s.Store != nil {
		errs = multierr.Append(errs, s.Store.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}

	return errs
}
