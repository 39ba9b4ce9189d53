package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"schoolbudget/internal/core"
)

// SubsidyUpdate lists the subsidy fields to change; nil means unchanged.
// Setting FiscalYearID moves the subsidy, and its projects, to another year.
type SubsidyUpdate struct {
	Type         *string
	Budget       *decimal.Decimal
	FiscalYearID *string
}

// CreateSubsidy adds a funding allocation to a fiscal year and refreshes the
// fiscal year totals.
func (c *Coordinator) CreateSubsidy(ctx context.Context, fiscalYearID, subsidyType string, budget decimal.Decimal) (core.Subsidy, error) {
	const op = "create subsidy"
	now := c.clock.Now()
	s := core.Subsidy{
		ID:              c.ids.NewID(),
		Type:            strings.TrimSpace(subsidyType),
		Budget:          budget,
		Committed:       decimal.Zero,
		Withdrawal:      decimal.Zero,
		RemainingBudget: budget,
		FiscalYearID:    fiscalYearID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Validate(); err != nil {
		return core.Subsidy{}, fmt.Errorf("%s: %w", op, err)
	}

	err := c.withScope(ctx, op, fixedScope(fiscalYearID), func(ctx context.Context, scope []string) error {
		if _, err := c.store.GetFiscalYear(ctx, fiscalYearID); err != nil {
			return err
		}
		if err := c.store.PutSubsidy(ctx, s); err != nil {
			return err
		}
		if _, err := c.engine.RefreshFiscalYear(ctx, fiscalYearID); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Subsidy created",
		"subsidy_id", s.ID,
		"fiscal_year_id", fiscalYearID,
		"budget", s.Budget.String())
	return s, nil
}

// UpdateSubsidy changes a subsidy. The budget may not drop below what its
// projects have committed. Moving it to another fiscal year relabels its
// projects and refreshes both years.
func (c *Coordinator) UpdateSubsidy(ctx context.Context, id string, upd SubsidyUpdate) (core.Subsidy, error) {
	const op = "update subsidy"
	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.subsidyFiscalYear(ctx, id)
		if err != nil {
			return nil, err
		}
		keys := []string{fyID}
		if upd.FiscalYearID != nil {
			keys = append(keys, *upd.FiscalYearID)
		}
		return keys, nil
	}

	var out core.Subsidy
	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		current, err := c.subsidyCommitted(ctx, id)
		if err != nil {
			return err
		}
		oldFY := current.FiscalYearID

		next := current
		if upd.Type != nil {
			next.Type = strings.TrimSpace(*upd.Type)
		}
		if upd.Budget != nil {
			next.Budget = *upd.Budget
		}
		if upd.FiscalYearID != nil {
			next.FiscalYearID = *upd.FiscalYearID
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if next.Budget.LessThan(current.Committed) {
			return &core.ValidationError{
				Field:  "budget",
				Reason: fmt.Sprintf("must cover the %s already committed to projects", current.Committed.String()),
			}
		}
		moved := next.FiscalYearID != oldFY
		if moved {
			if _, err := c.store.GetFiscalYear(ctx, next.FiscalYearID); err != nil {
				return err
			}
		}

		next.RemainingBudget = core.ClampZero(next.Budget.Sub(next.Withdrawal))
		next.UpdatedAt = c.clock.Now()
		if err := c.store.PutSubsidy(ctx, next); err != nil {
			return err
		}
		out = next

		if moved {
			if err := c.relabelProjects(ctx, next); err != nil {
				return c.cascadeFailed(ctx, op, scope, err)
			}
		}
		for _, fyID := range normalizeKeys(scope) {
			if _, err := c.engine.RefreshFiscalYear(ctx, fyID); err != nil {
				return c.cascadeFailed(ctx, op, scope, err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Subsidy updated",
		"subsidy_id", id,
		"fiscal_year_id", out.FiscalYearID,
		"budget", out.Budget.String())
	return out, nil
}

// relabelProjects points every project of s at s's fiscal year.
func (c *Coordinator) relabelProjects(ctx context.Context, s core.Subsidy) error {
	projects, err := c.store.ListProjects(ctx, s.ID)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, p := range projects {
		if p.FiscalYearID == s.FiscalYearID {
			continue
		}
		p.FiscalYearID = s.FiscalYearID
		p.UpdatedAt = now
		if err := c.store.PutProject(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSubsidy removes a subsidy that has no projects.
func (c *Coordinator) DeleteSubsidy(ctx context.Context, id string) error {
	const op = "delete subsidy"
	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.subsidyFiscalYear(ctx, id)
		if err != nil {
			return nil, err
		}
		return []string{fyID}, nil
	}

	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		s, err := c.store.GetSubsidy(ctx, id)
		if err != nil {
			return err
		}
		projects, err := c.store.ListProjects(ctx, id)
		if err != nil {
			return err
		}
		if len(projects) > 0 {
			return &core.DependencyError{Kind: core.KindSubsidy, ID: id, Dependents: len(projects)}
		}
		if err := c.store.DeleteSubsidy(ctx, id); err != nil {
			return err
		}
		if _, err := c.engine.RefreshFiscalYear(ctx, s.FiscalYearID); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Subsidy deleted", "subsidy_id", id)
	return nil
}
