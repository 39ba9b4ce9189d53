package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"schoolbudget/internal/aggregate"
	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"
	"schoolbudget/internal/log"
)

// ReconcileReport summarizes one fiscal year reconcile.
type ReconcileReport struct {
	FiscalYearID  string             `json:"fiscalYearId"`
	Year          string             `json:"year"`
	Discrepancies []core.Discrepancy `json:"discrepancies,omitempty"`
	Writes        int                `json:"writes"`
	Duration      time.Duration      `json:"duration"`
}

// Reconciler recomputes stored aggregates from leaf data. Running it on a
// consistent tree writes nothing, so it is always safe to re-run.
type Reconciler struct {
	store       ledger.Store
	engine      *aggregate.Engine
	locks       *Locks
	parallelism int
	invalidator Invalidator
	group       singleflight.Group
}

// NewReconciler creates a reconciler sharing locks with the coordinator.
// parallelism bounds how many fiscal years ReconcileAll runs at once.
func NewReconciler(store ledger.Store, locks *Locks, parallelism int, invalidator Invalidator) *Reconciler {
	if locks == nil {
		locks = NewLocks()
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Reconciler{
		store:       store,
		engine:      aggregate.NewEngine(store, func() time.Time { return time.Now().UTC() }),
		locks:       locks,
		parallelism: parallelism,
		invalidator: invalidator,
	}
}

// ReconcileFiscalYear recomputes one fiscal year subtree and writes every
// figure that drifted. Concurrent calls for the same year share one run.
func (r *Reconciler) ReconcileFiscalYear(ctx context.Context, id string) (ReconcileReport, error) {
	v, err, shared := r.group.Do(id, func() (any, error) {
		return r.reconcile(ctx, id)
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	if shared {
		slog.DebugContext(ctx, "Reconcile coalesced with an in-flight run", "fiscal_year_id", id)
	}
	return v.(ReconcileReport), nil
}

func (r *Reconciler) reconcile(ctx context.Context, id string) (ReconcileReport, error) {
	start := time.Now()
	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile fiscal year %s: %w", id, err)
	}
	defer release()

	plan, err := r.engine.Plan(ctx, id)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile fiscal year %s: %w", id, err)
	}
	writes, err := r.engine.Apply(ctx, plan)
	if r.invalidator != nil {
		r.invalidator.Invalidate(id)
	}
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("reconcile fiscal year %s: %w", id, err)
	}

	report := ReconcileReport{
		FiscalYearID:  id,
		Year:          plan.FiscalYear.Year,
		Discrepancies: plan.Discrepancies,
		Writes:        writes,
		Duration:      time.Since(start),
	}
	if len(report.Discrepancies) > 0 {
		slog.WarnContext(ctx, "Reconcile repaired drifted aggregates",
			log.NewFields().
				WithComponent(log.ComponentReconciler).
				WithOperation(log.OpReconcile).
				WithFiscalYear(id, report.Year).
				WithReconcile(len(report.Discrepancies), writes).
				ToSlice()...)
	} else {
		slog.DebugContext(ctx, "Reconcile found fiscal year consistent", "fiscal_year_id", id)
	}
	return report, nil
}

// ReconcileAll reconciles every fiscal year, several at a time. A failing
// year does not stop the others; all failures are joined in the error.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	years, err := r.store.ListFiscalYears(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile all: %w", err)
	}

	reports := make([]ReconcileReport, len(years))
	errs := make([]error, len(years))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, fy := range years {
		i, fy := i, fy
		g.Go(func() error {
			reports[i], errs[i] = r.ReconcileFiscalYear(ctx, fy.ID)
			return nil
		})
	}
	_ = g.Wait()

	out := reports[:0]
	for i := range reports {
		if errs[i] == nil {
			out = append(out, reports[i])
		}
	}
	return out, errors.Join(errs...)
}

// Verify compares the stored figures of one fiscal year with their
// recomputed values and returns a *core.ConsistencyError on any difference.
func (r *Reconciler) Verify(ctx context.Context, id string) error {
	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("verify fiscal year %s: %w", id, err)
	}
	defer release()

	plan, err := r.engine.Plan(ctx, id)
	if err != nil {
		return fmt.Errorf("verify fiscal year %s: %w", id, err)
	}
	if !plan.Consistent() {
		return &core.ConsistencyError{FiscalYearID: id, Discrepancies: plan.Discrepancies}
	}
	return nil
}

// VerifyAll verifies every fiscal year and joins the failures.
func (r *Reconciler) VerifyAll(ctx context.Context) error {
	years, err := r.store.ListFiscalYears(ctx)
	if err != nil {
		return fmt.Errorf("verify all: %w", err)
	}
	var errs []error
	for _, fy := range years {
		if err := r.Verify(ctx, fy.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
