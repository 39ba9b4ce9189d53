package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"
)

// Engine recomputes stored aggregates from live children. It does no locking;
// callers hold the fiscal year lock for the span of a refresh or an apply.
type Engine struct {
	store ledger.Store
	now   func() time.Time
}

func NewEngine(store ledger.Store, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, now: now}
}

// RefreshProject re-sums the project's transactions and writes the project
// only if a figure changed.
func (e *Engine) RefreshProject(ctx context.Context, id string) (core.Project, error) {
	p, err := e.store.GetProject(ctx, id)
	if err != nil {
		return core.Project{}, fmt.Errorf("refresh project: %w", err)
	}
	txns, err := e.store.ListTransactions(ctx, id)
	if err != nil {
		return core.Project{}, fmt.Errorf("refresh project %s: %w", id, err)
	}
	next := RollupProject(p, txns)
	if len(DiffProject(p, next)) == 0 {
		return p, nil
	}
	next.UpdatedAt = e.now()
	if err := e.store.PutProject(ctx, next); err != nil {
		return core.Project{}, fmt.Errorf("refresh project %s: %w", id, err)
	}
	return next, nil
}

// RefreshSubsidy re-sums the subsidy's projects and writes the subsidy only
// if a figure changed.
func (e *Engine) RefreshSubsidy(ctx context.Context, id string) (core.Subsidy, error) {
	s, err := e.store.GetSubsidy(ctx, id)
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("refresh subsidy: %w", err)
	}
	projects, err := e.store.ListProjects(ctx, id)
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("refresh subsidy %s: %w", id, err)
	}
	next := RollupSubsidy(s, projects)
	if len(DiffSubsidy(s, next)) == 0 {
		return s, nil
	}
	next.UpdatedAt = e.now()
	if err := e.store.PutSubsidy(ctx, next); err != nil {
		return core.Subsidy{}, fmt.Errorf("refresh subsidy %s: %w", id, err)
	}
	return next, nil
}

// RefreshFiscalYear re-sums the fiscal year's subsidies and writes it only
// if a figure changed.
func (e *Engine) RefreshFiscalYear(ctx context.Context, id string) (core.FiscalYear, error) {
	fy, err := e.store.GetFiscalYear(ctx, id)
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("refresh fiscal year: %w", err)
	}
	subsidies, err := e.store.ListSubsidies(ctx, id)
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("refresh fiscal year %s: %w", id, err)
	}
	next := RollupFiscalYear(fy, subsidies)
	if len(DiffFiscalYear(fy, next)) == 0 {
		return fy, nil
	}
	next.UpdatedAt = e.now()
	if err := e.store.PutFiscalYear(ctx, next); err != nil {
		return core.FiscalYear{}, fmt.Errorf("refresh fiscal year %s: %w", id, err)
	}
	return next, nil
}

// RefreshChain refreshes a project, then its subsidy, then its fiscal year.
func (e *Engine) RefreshChain(ctx context.Context, projectID string) error {
	p, err := e.RefreshProject(ctx, projectID)
	if err != nil {
		return err
	}
	return e.RefreshFromSubsidy(ctx, p.SubsidyID)
}

// RefreshFromSubsidy refreshes a subsidy and then its fiscal year. It is the
// upper half of RefreshChain, used when the project itself is gone.
func (e *Engine) RefreshFromSubsidy(ctx context.Context, subsidyID string) error {
	s, err := e.RefreshSubsidy(ctx, subsidyID)
	if err != nil {
		return err
	}
	_, err = e.RefreshFiscalYear(ctx, s.FiscalYearID)
	return err
}

// Plan is the fully recomputed state of one fiscal year subtree.
type Plan struct {
	FiscalYear core.FiscalYear
	Subsidies  []core.Subsidy
	Projects   []core.Project

	// Discrepancies lists every stored figure that differs from the plan.
	Discrepancies []core.Discrepancy

	dirtyFiscalYear bool
	dirtySubsidies  []core.Subsidy
	dirtyProjects   []core.Project
}

// Consistent reports whether the stored tree already matches the plan.
func (p Plan) Consistent() bool {
	return len(p.Discrepancies) == 0
}

// Plan recomputes the fiscal year subtree from leaf data without writing.
// Projects are derived first, subsidies from the derived projects, and the
// fiscal year from the derived subsidies.
func (e *Engine) Plan(ctx context.Context, fiscalYearID string) (Plan, error) {
	fy, err := e.store.GetFiscalYear(ctx, fiscalYearID)
	if err != nil {
		return Plan{}, fmt.Errorf("plan fiscal year: %w", err)
	}
	subsidies, err := e.store.ListSubsidies(ctx, fiscalYearID)
	if err != nil {
		return Plan{}, fmt.Errorf("plan fiscal year %s: %w", fiscalYearID, err)
	}

	var plan Plan
	for _, s := range subsidies {
		projects, err := e.store.ListProjects(ctx, s.ID)
		if err != nil {
			return Plan{}, fmt.Errorf("plan subsidy %s: %w", s.ID, err)
		}
		derived := make([]core.Project, 0, len(projects))
		for _, p := range projects {
			txns, err := e.store.ListTransactions(ctx, p.ID)
			if err != nil {
				return Plan{}, fmt.Errorf("plan project %s: %w", p.ID, err)
			}
			next := RollupProject(p, txns)
			next.FiscalYearID = s.FiscalYearID
			if diff := DiffProject(p, next); len(diff) > 0 {
				plan.Discrepancies = append(plan.Discrepancies, diff...)
				plan.dirtyProjects = append(plan.dirtyProjects, next)
			}
			derived = append(derived, next)
		}
		plan.Projects = append(plan.Projects, derived...)

		next := RollupSubsidy(s, derived)
		if diff := DiffSubsidy(s, next); len(diff) > 0 {
			plan.Discrepancies = append(plan.Discrepancies, diff...)
			plan.dirtySubsidies = append(plan.dirtySubsidies, next)
		}
		plan.Subsidies = append(plan.Subsidies, next)
	}

	plan.FiscalYear = RollupFiscalYear(fy, plan.Subsidies)
	if diff := DiffFiscalYear(fy, plan.FiscalYear); len(diff) > 0 {
		plan.Discrepancies = append(plan.Discrepancies, diff...)
		plan.dirtyFiscalYear = true
	}
	return plan, nil
}

// Apply writes the records of plan that differ from the stored state,
// projects first and the fiscal year last. It returns the number of writes.
func (e *Engine) Apply(ctx context.Context, plan Plan) (int, error) {
	now := e.now()
	writes := 0
	for _, p := range plan.dirtyProjects {
		p.UpdatedAt = now
		if err := e.store.PutProject(ctx, p); err != nil {
			return writes, fmt.Errorf("apply project %s: %w", p.ID, err)
		}
		writes++
	}
	for _, s := range plan.dirtySubsidies {
		s.UpdatedAt = now
		if err := e.store.PutSubsidy(ctx, s); err != nil {
			return writes, fmt.Errorf("apply subsidy %s: %w", s.ID, err)
		}
		writes++
	}
	if plan.dirtyFiscalYear {
		fy := plan.FiscalYear
		fy.UpdatedAt = now
		if err := e.store.PutFiscalYear(ctx, fy); err != nil {
			return writes, fmt.Errorf("apply fiscal year %s: %w", fy.ID, err)
		}
		writes++
	}
	if writes > 0 {
		slog.InfoContext(ctx, "Applied recomputed aggregates",
			"fiscal_year_id", plan.FiscalYear.ID,
			"writes", writes,
			"discrepancies", len(plan.Discrepancies))
	}
	return writes, nil
}
