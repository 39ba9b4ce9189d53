// Package backend builds the ledger store and the services on top of it
// from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolbudget/internal/amqp"
	"schoolbudget/internal/cache"
	"schoolbudget/internal/ledger"
	"schoolbudget/internal/ledger/memory"
	"schoolbudget/internal/log"
	"schoolbudget/internal/services"
	"schoolbudget/internal/storage"
)

const (
	defaultSnapshotCacheSize = 128
	defaultSnapshotCacheTTL  = 5 * time.Minute
	cacheSweepInterval       = time.Minute
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var cleanups []func() error
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i]())
		}
		return errors.Join(errs...)
	}

	store, closeStore, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		cleanups = append(cleanups, closeStore)
	}

	amqpClient, err := f.createAMQP(ctx, config)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	if amqpClient != nil {
		cleanups = append(cleanups, amqpClient.Close)
	}

	size, ttl := config.SnapshotCacheSize, config.SnapshotCacheTTL
	if size <= 0 {
		size = defaultSnapshotCacheSize
	}
	if ttl <= 0 {
		ttl = defaultSnapshotCacheTTL
	}

	locks := services.NewLocks()
	snapshots := services.NewSnapshots(store, locks, size, ttl)

	caches := cache.NewManager()
	caches.Register(snapshots.Cache())
	caches.StartCleanup(cacheSweepInterval)
	cleanups = append(cleanups, func() error {
		caches.Stop()
		return nil
	})

	opts := services.CoordinatorOptions{
		Locks:       locks,
		Invalidator: snapshots,
	}
	// Leave Requester nil rather than a typed nil client
	if amqpClient != nil {
		opts.Requester = amqpClient
	}

	result := &BackendResult{
		Store:       store,
		Coordinator: services.NewCoordinator(store, opts),
		Reconciler:  services.NewReconciler(store, locks, config.ReconcileParallelism, snapshots),
		Snapshots:   snapshots,
		Caches:      caches,
		AMQP:        amqpClient,
		Cleanup:     cleanup,
	}

	f.logger.InfoContext(ctx, "Initialized ledger backend",
		"type", config.Type.String(),
		"amqp_enabled", amqpClient != nil,
		"snapshot_cache_size", size)

	return result, nil
}

func (f *DefaultFactory) createStore(config Config) (ledger.Store, func() error, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return repo, repo.Close, nil
	case MemoryBackend:
		f.logger.Warn("Using in-memory store, data is lost on exit")
		return memory.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// createAMQP connects to the broker when one is configured. Without
// RequireAMQP an unreachable broker only disables reconcile requests.
func (f *DefaultFactory) createAMQP(ctx context.Context, config Config) (*amqp.Client, error) {
	if config.AMQPURL == "" {
		return nil, nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		if config.RequireAMQP {
			return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
		}
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without reconcile requests",
			log.FieldError, err)
		return nil, nil
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, nil
}
