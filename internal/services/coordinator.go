// Package services orchestrates ledger mutations, reconciliation and the
// aggregate read models on top of a ledger.Store.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"schoolbudget/internal/aggregate"
	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"
	"schoolbudget/internal/log"
)

// Clock supplies timestamps for new and updated records.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies identifiers for new records.
type IDGenerator interface {
	NewID() string
}

// ReconcileRequester asks for an out-of-band reconcile of a fiscal year.
type ReconcileRequester interface {
	RequestReconcile(ctx context.Context, fiscalYearID, reason string) error
}

// Invalidator is notified after every change to a fiscal year subtree.
type Invalidator interface {
	Invalidate(fiscalYearID string)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator issues random UUIDv4 identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// CoordinatorOptions carries the optional collaborators of a Coordinator.
// Nil fields fall back to the system clock, UUIDs, a private lock set, and
// no reconcile requests or cache invalidation.
type CoordinatorOptions struct {
	Clock       Clock
	IDs         IDGenerator
	Locks       *Locks
	Requester   ReconcileRequester
	Invalidator Invalidator
}

// Coordinator performs every create, update, re-parent and delete of the
// budget hierarchy. Each operation holds the locks of the fiscal years it
// touches from the leaf write until the last ancestor is refreshed.
type Coordinator struct {
	store       ledger.Store
	engine      *aggregate.Engine
	locks       *Locks
	clock       Clock
	ids         IDGenerator
	requester   ReconcileRequester
	invalidator Invalidator
}

func NewCoordinator(store ledger.Store, opts CoordinatorOptions) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.Locks == nil {
		opts.Locks = NewLocks()
	}
	return &Coordinator{
		store:       store,
		engine:      aggregate.NewEngine(store, opts.Clock.Now),
		locks:       opts.Locks,
		clock:       opts.Clock,
		ids:         opts.IDs,
		requester:   opts.Requester,
		invalidator: opts.Invalidator,
	}
}

// maxScopeAttempts bounds how often a lock scope is re-resolved when the
// record moves to another fiscal year while we wait for its lock.
const maxScopeAttempts = 5

// resolver returns the lock keys an operation needs.
type resolver func(ctx context.Context) ([]string, error)

// withScope locks the keys returned by resolve and runs fn once resolve
// yields the same keys again under the lock.
func (c *Coordinator) withScope(ctx context.Context, op string, resolve resolver, fn func(ctx context.Context, scope []string) error) error {
	for attempt := 1; attempt <= maxScopeAttempts; attempt++ {
		keys, err := resolve(ctx)
		if err != nil {
			return err
		}
		keys = normalizeKeys(keys)

		release, err := c.locks.Acquire(ctx, keys...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		current, err := resolve(ctx)
		if err != nil {
			release()
			return err
		}
		if !slices.Equal(keys, normalizeKeys(current)) {
			release()
			slog.DebugContext(ctx, "Lock scope changed, retrying",
				"operation", op,
				"attempt", attempt)
			continue
		}

		err = fn(ctx, keys)
		c.invalidate(keys)
		release()

		var cf *cascadeError
		if errors.As(err, &cf) {
			for _, id := range cf.fiscalYearIDs {
				c.requestReconcile(ctx, id, cf.op)
			}
		}
		return err
	}
	return fmt.Errorf("%s: lock scope kept changing after %d attempts", op, maxScopeAttempts)
}

// fixedScope is a resolver for keys known up front.
func fixedScope(keys ...string) resolver {
	return func(context.Context) ([]string, error) { return keys, nil }
}

func (c *Coordinator) invalidate(keys []string) {
	if c.invalidator == nil {
		return
	}
	for _, k := range keys {
		if k != catalogKey {
			c.invalidator.Invalidate(k)
		}
	}
}

// propagate refreshes the given projects, then every affected subsidy, then
// every affected fiscal year. Projects that no longer exist are skipped.
func (c *Coordinator) propagate(ctx context.Context, projectIDs, subsidyIDs []string) error {
	subsidies := make([]string, 0, len(projectIDs)+len(subsidyIDs))
	for _, id := range projectIDs {
		if id == "" {
			continue
		}
		p, err := c.engine.RefreshProject(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		subsidies = append(subsidies, p.SubsidyID)
	}
	subsidies = normalizeKeys(append(subsidies, subsidyIDs...))

	fiscalYears := make([]string, 0, len(subsidies))
	for _, id := range subsidies {
		s, err := c.engine.RefreshSubsidy(ctx, id)
		if err != nil {
			return err
		}
		fiscalYears = append(fiscalYears, s.FiscalYearID)
	}
	for _, id := range normalizeKeys(fiscalYears) {
		if _, err := c.engine.RefreshFiscalYear(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// cascadeError is a failure after the leaf write. withScope queues its
// fiscal years for reconcile once the locks are released.
type cascadeError struct {
	op            string
	fiscalYearIDs []string
	err           error
}

func (e *cascadeError) Error() string { return "propagate aggregates: " + e.err.Error() }

func (e *cascadeError) Unwrap() error { return e.err }

// cascadeFailed reports a failure that happened after the leaf write. The
// tree may be inconsistent; every fiscal year in scope is queued for reconcile.
func (c *Coordinator) cascadeFailed(ctx context.Context, op string, fiscalYearIDs []string, err error) error {
	slog.ErrorContext(ctx, "Aggregate propagation failed after leaf write",
		log.NewFields().
			WithComponent(log.ComponentCoordinator).
			WithOperation(op).
			WithFiscalYears(fiscalYearIDs).
			WithError(err).
			ToSlice()...)
	ids := make([]string, 0, len(fiscalYearIDs))
	for _, id := range normalizeKeys(fiscalYearIDs) {
		if id != catalogKey {
			ids = append(ids, id)
		}
	}
	return &cascadeError{op: op, fiscalYearIDs: ids, err: err}
}

func (c *Coordinator) requestReconcile(ctx context.Context, fiscalYearID, reason string) {
	if c.requester == nil {
		slog.WarnContext(ctx, "No reconcile requester configured, fiscal year left for the periodic job",
			"fiscal_year_id", fiscalYearID)
		return
	}
	if err := c.requester.RequestReconcile(ctx, fiscalYearID, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to request reconcile",
			"fiscal_year_id", fiscalYearID,
			"error", err)
	}
}

// subsidyFiscalYear returns the fiscal year owning a subsidy.
func (c *Coordinator) subsidyFiscalYear(ctx context.Context, subsidyID string) (string, error) {
	s, err := c.store.GetSubsidy(ctx, subsidyID)
	if err != nil {
		return "", err
	}
	return s.FiscalYearID, nil
}

// projectFiscalYear returns the fiscal year owning a project, read through
// its subsidy. With mustExist unset a missing project yields "".
func (c *Coordinator) projectFiscalYear(ctx context.Context, projectID string, mustExist bool) (string, error) {
	if projectID == "" {
		return "", nil
	}
	p, err := c.store.GetProject(ctx, projectID)
	if errors.Is(err, core.ErrNotFound) && !mustExist {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.subsidyFiscalYear(ctx, p.SubsidyID)
}

// projectSpent re-sums the live transactions of a project.
func (c *Coordinator) projectSpent(ctx context.Context, projectID string) (core.Project, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return core.Project{}, err
	}
	txns, err := c.store.ListTransactions(ctx, projectID)
	if err != nil {
		return core.Project{}, fmt.Errorf("list transactions of project %s: %w", projectID, err)
	}
	return aggregate.RollupProject(p, txns), nil
}

// subsidyCommitted re-sums the live projects of a subsidy.
func (c *Coordinator) subsidyCommitted(ctx context.Context, subsidyID string) (core.Subsidy, error) {
	s, err := c.store.GetSubsidy(ctx, subsidyID)
	if err != nil {
		return core.Subsidy{}, err
	}
	projects, err := c.store.ListProjects(ctx, subsidyID)
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("list projects of subsidy %s: %w", subsidyID, err)
	}
	return aggregate.RollupSubsidy(s, projects), nil
}

// GetFiscalYear returns the stored fiscal year.
func (c *Coordinator) GetFiscalYear(ctx context.Context, id string) (core.FiscalYear, error) {
	fy, err := c.store.GetFiscalYear(ctx, id)
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("get fiscal year: %w", err)
	}
	return fy, nil
}

// GetSubsidy returns the stored subsidy.
func (c *Coordinator) GetSubsidy(ctx context.Context, id string) (core.Subsidy, error) {
	s, err := c.store.GetSubsidy(ctx, id)
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("get subsidy: %w", err)
	}
	return s, nil
}

// GetProject returns the stored project.
func (c *Coordinator) GetProject(ctx context.Context, id string) (core.Project, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetTransaction returns the stored transaction.
func (c *Coordinator) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := c.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}
