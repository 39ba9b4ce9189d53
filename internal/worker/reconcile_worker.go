package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schoolbudget/internal/amqp"
	"schoolbudget/internal/core"
	"schoolbudget/internal/services"
)

// Reconciler is the part of services.Reconciler the worker drives.
type Reconciler interface {
	ReconcileFiscalYear(ctx context.Context, id string) (services.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]services.ReconcileReport, error)
}

// ReconcileWorker repairs fiscal years named in reconcile requests
type ReconcileWorker struct {
	reconciler Reconciler
}

func NewReconcileWorker(reconciler Reconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler}
}

// HandleReconcileRequest processes a single reconcile request from AMQP.
// A fiscal year deleted since the request was sent needs no repair.
func (w *ReconcileWorker) HandleReconcileRequest(ctx context.Context, msg *amqp.ReconcileRequest) error {
	slog.InfoContext(ctx, "Processing reconcile request",
		"fiscal_year_id", msg.FiscalYearID,
		"reason", msg.Reason,
		"requested_at", msg.Timestamp)

	report, err := w.reconciler.ReconcileFiscalYear(ctx, msg.FiscalYearID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Fiscal year no longer exists, dropping request",
			"fiscal_year_id", msg.FiscalYearID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile fiscal year %s: %w", msg.FiscalYearID, err)
	}

	slog.InfoContext(ctx, "Reconcile request completed",
		"fiscal_year_id", report.FiscalYearID,
		"year", report.Year,
		"discrepancies", len(report.Discrepancies),
		"writes", report.Writes,
		"duration", report.Duration)
	return nil
}

// StartupReconcile reconciles every fiscal year once. It recovers trees left
// inconsistent while the worker was down or a request was lost.
func (w *ReconcileWorker) StartupReconcile(ctx context.Context) error {
	reports, err := w.reconciler.ReconcileAll(ctx)

	repaired := 0
	for _, r := range reports {
		if r.Writes > 0 {
			repaired++
		}
	}
	slog.InfoContext(ctx, "Startup reconcile completed",
		"fiscal_years", len(reports),
		"repaired", repaired)

	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	return nil
}
