package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"schoolbudget/internal/core"
	"schoolbudget/internal/log"
)

// NewTransaction holds the fields of an expenditure to record. ProjectID
// may be empty for an unattached transaction.
type NewTransaction struct {
	ProjectID string
	Amount    decimal.Decimal
	Title     string
	Date      core.Date
	Duration  string
	Note      string
}

// TransactionUpdate lists the transaction fields to change; nil means
// unchanged. Setting ProjectID moves the transaction, "" detaches it.
type TransactionUpdate struct {
	Title     *string
	Date      *core.Date
	Duration  *string
	Note      *string
	Amount    *decimal.Decimal
	ProjectID *string
}

// CreateTransaction records an expenditure against a project. It fails with
// a capacity error when the amount exceeds the project's remaining budget.
func (c *Coordinator) CreateTransaction(ctx context.Context, nt NewTransaction) (core.Transaction, error) {
	const op = "create transaction"
	now := c.clock.Now()
	t := core.Transaction{
		ID:        c.ids.NewID(),
		Title:     strings.TrimSpace(nt.Title),
		Date:      nt.Date,
		Amount:    nt.Amount,
		Duration:  strings.TrimSpace(nt.Duration),
		Note:      nt.Note,
		ProjectID: nt.ProjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if t.Duration == "" {
		t.Duration = core.DefaultDuration
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	resolve := func(ctx context.Context) ([]string, error) {
		fyID, err := c.projectFiscalYear(ctx, nt.ProjectID, true)
		if err != nil {
			return nil, err
		}
		return []string{fyID}, nil
	}

	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		if t.Attached() {
			p, err := c.projectSpent(ctx, t.ProjectID)
			if err != nil {
				return err
			}
			if t.Amount.GreaterThan(p.RemainingBudget) {
				return &core.CapacityExceededError{
					Kind: core.KindProject, ID: p.ID,
					Attempted: t.Amount, Available: p.RemainingBudget,
				}
			}
		}
		if err := c.store.PutTransaction(ctx, t); err != nil {
			return err
		}
		if err := c.propagate(ctx, []string{t.ProjectID}, nil); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		var ce *core.CapacityExceededError
		if errors.As(err, &ce) {
			slog.WarnContext(ctx, "Transaction rejected",
				log.NewFields().
					WithOperation(op).
					WithCapacity(ce.Attempted, ce.Available).
					ToSlice()...)
		}
		return core.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", t.ID,
		"project_id", t.ProjectID,
		"amount", t.Amount.String())
	return t, nil
}

// UpdateTransaction changes a transaction. A larger amount is checked against
// the project's remaining budget; a move checks the whole amount against the
// new project.
func (c *Coordinator) UpdateTransaction(ctx context.Context, id string, upd TransactionUpdate) (core.Transaction, error) {
	const op = "update transaction"
	resolve := func(ctx context.Context) ([]string, error) {
		t, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		fyID, err := c.projectFiscalYear(ctx, t.ProjectID, false)
		if err != nil {
			return nil, err
		}
		keys := []string{fyID}
		if upd.ProjectID != nil {
			target, err := c.projectFiscalYear(ctx, *upd.ProjectID, true)
			if err != nil {
				return nil, err
			}
			keys = append(keys, target)
		}
		return keys, nil
	}

	var out core.Transaction
	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		current, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return err
		}

		next := current
		applyTransactionFields(&next, upd)
		if err := next.Validate(); err != nil {
			return err
		}

		moved := next.ProjectID != current.ProjectID
		attempted := next.Amount
		if !moved {
			attempted = next.Amount.Sub(current.Amount)
		}
		if next.Attached() && (moved || attempted.IsPositive()) {
			p, err := c.projectSpent(ctx, next.ProjectID)
			// An orphan keeps pointing at its deleted project and counts nowhere.
			if errors.Is(err, core.ErrNotFound) && !moved {
				p, err = core.Project{}, nil
				attempted = decimal.Zero
			}
			if err != nil {
				return err
			}
			if attempted.IsPositive() && attempted.GreaterThan(p.RemainingBudget) {
				return &core.CapacityExceededError{
					Kind: core.KindProject, ID: p.ID,
					Attempted: attempted, Available: p.RemainingBudget,
				}
			}
		}

		next.UpdatedAt = c.clock.Now()
		if err := c.store.PutTransaction(ctx, next); err != nil {
			return err
		}
		out = next

		if err := c.propagate(ctx, []string{current.ProjectID, next.ProjectID}, nil); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Transaction updated",
		"transaction_id", id,
		"project_id", out.ProjectID,
		"amount", out.Amount.String())
	return out, nil
}

func applyTransactionFields(t *core.Transaction, upd TransactionUpdate) {
	if upd.Title != nil {
		t.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Date != nil {
		t.Date = *upd.Date
	}
	if upd.Duration != nil {
		t.Duration = strings.TrimSpace(*upd.Duration)
		if t.Duration == "" {
			t.Duration = core.DefaultDuration
		}
	}
	if upd.Note != nil {
		t.Note = *upd.Note
	}
	if upd.Amount != nil {
		t.Amount = *upd.Amount
	}
	if upd.ProjectID != nil {
		t.ProjectID = *upd.ProjectID
	}
}

// DeleteTransaction removes a transaction and gives its amount back to the
// project it was attached to.
func (c *Coordinator) DeleteTransaction(ctx context.Context, id string) error {
	const op = "delete transaction"
	resolve := func(ctx context.Context) ([]string, error) {
		t, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		fyID, err := c.projectFiscalYear(ctx, t.ProjectID, false)
		if err != nil {
			return nil, err
		}
		return []string{fyID}, nil
	}

	err := c.withScope(ctx, op, resolve, func(ctx context.Context, scope []string) error {
		t, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := c.store.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		if err := c.propagate(ctx, []string{t.ProjectID}, nil); err != nil {
			return c.cascadeFailed(ctx, op, scope, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	slog.InfoContext(ctx, "Transaction deleted", "transaction_id", id)
	return nil
}
