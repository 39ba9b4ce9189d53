package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"schoolbudget/internal/core"
)

// NewProject holds the fields of a project to create. FiscalYearID is
// optional; when set it must match the subsidy's fiscal year.
type NewProject struct {
	SubsidyID       string
	FiscalYearID    string
	Name            string
	Budget          decimal.Decimal
	Department      string
	DepartmentGroup string
	Responsible     string
}

// ProjectUpdate lists the project fields to change; nil means unchanged.
// Setting SubsidyID re-parents the project.
type ProjectUpdate struct {
	Name            *string
	Department      *string
	DepartmentGroup *string
	Responsible     *string
	Budget          *decimal.Decimal
	SubsidyID       *string
}

// CreateProject commits budget from a subsidy to a new project. It fails
// with a capacity error when the subsidy has less than Budget available.
func (c *Coordinator) CreateProject(ctx context.Context, np NewProject) (core.Project, error) {
	const op = "create project"
	now := c.clock.Now()
	p := core.Project{
		ID:               c.ids.NewID(),
		Name:             strings.TrimSpace(np.Name),
		Department:       strings.TrimSpace(np.Department),
		DepartmentGroup:  strings.TrimSpace(np.DepartmentGroup),
		Responsible:      strings.TrimSpace(np.Responsible),
		Budget:           np.Budget,
		WithdrawalAmount: decimal.Zero,
		RemainingBudget:  np.Budget,
		SubsidyID:        np.SubsidyID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.Validate(); err != nil {
		return core.Project{}, fmt.Errorf("%s: %w", op, err)
	}

	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.subsidyFiscalYear(ctx, np.SubsidyID)
		if err != nil {
			return nil, err
		}
		return []string{fyID}, nil
	}

	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		s, err := c.subsidyCommitted(ctx, np.SubsidyID)
		if err != nil {
			return err
		}
		if np.FiscalYearID != "" && np.FiscalYearID != s.FiscalYearID {
			return &core.ValidationError{Field: "fiscal_year_id", Reason: "must match the subsidy's fiscal year"}
		}
		if available := s.Available(); p.Budget.GreaterThan(available) {
			return &core.CapacityExceededError{
				Kind: core.KindSubsidy, ID: s.ID,
				Attempted: p.Budget, Available: available,
			}
		}

		p.FiscalYearID = s.FiscalYearID
		if err := c.store.PutProject(ctx, p); err != nil {
			return err
		}
		if err := c.propagate(ctx, nil, []string{s.ID}); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return core.Project{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Project created",
		"project_id", p.ID,
		"subsidy_id", p.SubsidyID,
		"fiscal_year_id", p.FiscalYearID,
		"budget", p.Budget.String())
	return p, nil
}

// UpdateProject changes a project. A budget increase is checked against the
// subsidy's availability; a re-parent checks the whole budget against the new
// subsidy. Either check failing leaves every record untouched. The budget may
// never drop below what the project has already spent.
func (c *Coordinator) UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (core.Project, error) {
	const op = "update project"
	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.projectFiscalYear(ctx, id, true)
		if err != nil {
			return nil, err
		}
		keys := []string{fyID}
		if upd.SubsidyID != nil {
			target, err := c.subsidyFiscalYear(ctx, *upd.SubsidyID)
			if err != nil {
				return nil, err
			}
			keys = append(keys, target)
		}
		return keys, nil
	}

	var out core.Project
	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		current, err := c.projectSpent(ctx, id)
		if err != nil {
			return err
		}

		next := current
		applyProjectText(&next, upd)
		if upd.Budget != nil {
			next.Budget = *upd.Budget
		}
		if upd.SubsidyID != nil {
			next.SubsidyID = *upd.SubsidyID
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if next.Budget.LessThan(current.WithdrawalAmount) {
			return &core.ValidationError{
				Field:  "budget",
				Reason: fmt.Sprintf("must cover the %s already spent", current.WithdrawalAmount.String()),
			}
		}

		target, err := c.subsidyCommitted(ctx, next.SubsidyID)
		if err != nil {
			return err
		}
		moved := next.SubsidyID != current.SubsidyID
		if moved {
			// The whole budget is new to the target subsidy.
			if available := target.Available(); next.Budget.GreaterThan(available) {
				return &core.CapacityExceededError{
					Kind: core.KindSubsidy, ID: target.ID,
					Attempted: next.Budget, Available: available,
				}
			}
		} else if delta := next.Budget.Sub(current.Budget); delta.IsPositive() {
			if available := target.Available(); delta.GreaterThan(available) {
				return &core.CapacityExceededError{
					Kind: core.KindSubsidy, ID: target.ID,
					Attempted: delta, Available: available,
				}
			}
		}

		next.FiscalYearID = target.FiscalYearID
		next.RemainingBudget = core.ClampZero(next.Budget.Sub(next.WithdrawalAmount))
		next.UpdatedAt = c.clock.Now()
		if err := c.store.PutProject(ctx, next); err != nil {
			return err
		}
		out = next

		if err := c.propagate(ctx, nil, []string{current.SubsidyID, next.SubsidyID}); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return core.Project{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Project updated",
		"project_id", id,
		"subsidy_id", out.SubsidyID,
		"budget", out.Budget.String())
	return out, nil
}

func applyProjectText(p *core.Project, upd ProjectUpdate) {
	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Department != nil {
		p.Department = strings.TrimSpace(*upd.Department)
	}
	if upd.DepartmentGroup != nil {
		p.DepartmentGroup = strings.TrimSpace(*upd.DepartmentGroup)
	}
	if upd.Responsible != nil {
		p.Responsible = strings.TrimSpace(*upd.Responsible)
	}
}

// DeleteProject removes a project and releases its whole commitment. Its
// transactions are kept but no longer count towards any total.
func (c *Coordinator) DeleteProject(ctx context.Context, id string) error {
	const op = "delete project"
	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.projectFiscalYear(ctx, id, true)
		if err != nil {
			return nil, err
		}
		return []string{fyID}, nil
	}

	var orphaned int
	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		p, err := c.store.GetProject(ctx, id)
		if err != nil {
			return err
		}
		txns, err := c.store.ListTransactions(ctx, id)
		if err != nil {
			return err
		}
		orphaned = len(txns)
		if err := c.store.DeleteProject(ctx, id); err != nil {
			return err
		}
		if err := c.propagate(ctx, nil, []string{p.SubsidyID}); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Project deleted",
		"project_id", id,
		"orphaned_transactions", orphaned)
	return nil
}
