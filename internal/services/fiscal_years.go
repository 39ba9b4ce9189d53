package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"schoolbudget/internal/core"
)

// FiscalYearUpdate lists the fiscal year fields to change; nil means unchanged.
type FiscalYearUpdate struct {
	Year *string
}

// CreateFiscalYear creates an empty fiscal year labelled year.
func (c *Coordinator) CreateFiscalYear(ctx context.Context, year string) (core.FiscalYear, error) {
	now := c.clock.Now()
	fy := core.FiscalYear{
		ID:        c.ids.NewID(),
		Year:      strings.TrimSpace(year),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := fy.Validate(); err != nil {
		return core.FiscalYear{}, fmt.Errorf("create fiscal year: %w", err)
	}

	err := c.withScope(ctx, "create fiscal year", fixedScope(catalogKey, fy.ID), func(ctx context.Context, _ []string) error {
		if err := c.ensureYearFree(ctx, fy.Year, ""); err != nil {
			return err
		}
		return c.store.PutFiscalYear(ctx, fy)
	})
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("create fiscal year: %w", err)
	}

	slog.InfoContext(ctx, "Fiscal year created",
		"fiscal_year_id", fy.ID,
		"year", fy.Year)
	return fy, nil
}

// UpdateFiscalYear relabels a fiscal year. Its figures are unaffected.
func (c *Coordinator) UpdateFiscalYear(ctx context.Context, id string, upd FiscalYearUpdate) (core.FiscalYear, error) {
	var out core.FiscalYear
	err := c.withScope(ctx, "update fiscal year", fixedScope(catalogKey, id), func(ctx context.Context, _ []string) error {
		fy, err := c.store.GetFiscalYear(ctx, id)
		if err != nil {
			return err
		}
		if upd.Year != nil {
			fy.Year = strings.TrimSpace(*upd.Year)
		}
		if err := fy.Validate(); err != nil {
			return err
		}
		if err := c.ensureYearFree(ctx, fy.Year, fy.ID); err != nil {
			return err
		}
		fy.UpdatedAt = c.clock.Now()
		if err := c.store.PutFiscalYear(ctx, fy); err != nil {
			return err
		}
		out = fy
		return nil
	})
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("update fiscal year: %w", err)
	}
	return out, nil
}

// DeleteFiscalYear removes a fiscal year that has no subsidies.
func (c *Coordinator) DeleteFiscalYear(ctx context.Context, id string) error {
	err := c.withScope(ctx, "delete fiscal year", fixedScope(catalogKey, id), func(ctx context.Context, _ []string) error {
		if _, err := c.store.GetFiscalYear(ctx, id); err != nil {
			return err
		}
		subsidies, err := c.store.ListSubsidies(ctx, id)
		if err != nil {
			return err
		}
		if len(subsidies) > 0 {
			return &core.DependencyError{Kind: core.KindFiscalYear, ID: id, Dependents: len(subsidies)}
		}
		return c.store.DeleteFiscalYear(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete fiscal year: %w", err)
	}

	slog.InfoContext(ctx, "Fiscal year deleted", "fiscal_year_id", id)
	return nil
}

// ensureYearFree fails when another fiscal year already uses the label.
func (c *Coordinator) ensureYearFree(ctx context.Context, year, selfID string) error {
	other, err := c.store.FindFiscalYearByYear(ctx, year)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.ID == selfID:
		return nil
	}
	return fmt.Errorf("fiscal year %q: %w", year, core.ErrAlreadyExists)
}
