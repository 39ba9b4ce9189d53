package backend

import (
	"context"
	"time"

	"schoolbudget/internal/amqp"
	"schoolbudget/internal/cache"
	"schoolbudget/internal/ledger"
	"schoolbudget/internal/services"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the wired ledger services and the cleanup that
// releases what they hold
type BackendResult struct {
	Store       ledger.Store
	Coordinator *services.Coordinator
	Reconciler  *services.Reconciler
	Snapshots   *services.Snapshots
	Caches      *cache.Manager

	// AMQP is nil when no broker is configured or it was unreachable
	AMQP *amqp.Client

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP, optional unless RequireAMQP is set
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	RequireAMQP  bool

	ReconcileParallelism int
	SnapshotCacheSize    int
	SnapshotCacheTTL     time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
