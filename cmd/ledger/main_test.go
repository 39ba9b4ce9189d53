package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"strings"
	"testing"

	"schoolbudget/internal/backend"
	"schoolbudget/internal/core"
	"schoolbudget/internal/services"
)

func newLedger(t *testing.T) (*backend.BackendResult, string) {
	t.Helper()
	ctx := context.Background()
	b, err := backend.NewFactory(nil).CreateBackend(ctx, backend.Config{Type: backend.MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Cleanup() })

	fy, err := b.Coordinator.CreateFiscalYear(ctx, "2567")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := b.Coordinator.CreateSubsidy(ctx, fy.ID, "operations", core.MustAmount("100000"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := b.Coordinator.CreateProject(ctx, services.NewProject{SubsidyID: sub.ID, Name: "library", Budget: core.MustAmount("40000")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Coordinator.CreateTransaction(ctx, services.NewTransaction{
		ProjectID: p.ID, Amount: core.MustAmount("15000"), Title: "books", Date: core.NewDate(2024, 11, 5),
	}); err != nil {
		t.Fatal(err)
	}
	return b, fy.ID
}

func TestRunSnapshot(t *testing.T) {
	b, fyID := newLedger(t)
	var out bytes.Buffer
	if err := run(context.Background(), &out, b, []string{"snapshot", "-compact", fyID}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var snap core.Snapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("output is not a snapshot: %v\n%s", err, out.String())
	}
	if !snap.RemainingBudget.Equal(core.MustAmount("85000")) || len(snap.Projects) != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if strings.Count(strings.TrimSpace(out.String()), "\n") != 0 {
		t.Error("-compact should print a single line")
	}
}

func TestRunVerifyAndReconcile(t *testing.T) {
	b, fyID := newLedger(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, &out, b, []string{"verify"}); err != nil {
		t.Fatalf("verify on a consistent ledger: %v", err)
	}

	fy, _ := b.Store.GetFiscalYear(ctx, fyID)
	fy.TotalExpense = core.MustAmount("1")
	if err := b.Store.PutFiscalYear(ctx, fy); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	err := run(ctx, &out, b, []string{"verify", fyID})
	if !errors.Is(err, errInconsistent) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	if !strings.Contains(out.String(), `"totalExpense"`) {
		t.Errorf("verify output should name the drifted field: %s", out.String())
	}

	out.Reset()
	if err := run(ctx, &out, b, []string{"reconcile"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var reports []services.ReconcileReport
	if err := json.Unmarshal(out.Bytes(), &reports); err != nil {
		t.Fatalf("reconcile output: %v", err)
	}
	if len(reports) != 1 || reports[0].Writes != 1 {
		t.Errorf("unexpected reports %+v", reports)
	}

	out.Reset()
	if err := run(ctx, &out, b, []string{"verify"}); err != nil {
		t.Fatalf("verify after reconcile: %v", err)
	}
}

func TestRunStatsAndYears(t *testing.T) {
	b, _ := newLedger(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, &out, b, []string{"stats"}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats core.Statistics
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Counts.Total != 4 {
		t.Errorf("expected 4 records, got %+v", stats.Counts)
	}

	out.Reset()
	if err := run(ctx, &out, b, []string{"years"}); err != nil {
		t.Fatalf("years: %v", err)
	}
	if !strings.Contains(out.String(), "2567") {
		t.Errorf("years output missing label: %s", out.String())
	}
}

func TestRunSpend(t *testing.T) {
	b, fyID := newLedger(t)
	ctx := context.Background()
	snap, err := b.Snapshots.GetAggregateSnapshot(ctx, fyID)
	if err != nil {
		t.Fatal(err)
	}
	projectID := snap.Projects[0].ID

	var out bytes.Buffer
	args := []string{"spend", "-date", "2024-12-01", "-note", "term 2", projectID, "1,500.50", "chairs"}
	if err := run(ctx, &out, b, args); err != nil {
		t.Fatalf("spend: %v", err)
	}
	p, err := b.Store.GetProject(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.WithdrawalAmount.Equal(core.MustAmount("16500.50")) {
		t.Errorf("expected withdrawal 16500.50, got %s", p.WithdrawalAmount)
	}

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"decimal comma", []string{"spend", projectID, "100,00", "desk"}, core.ErrValidation},
		{"bad date", []string{"spend", "-date", "01/12/2024", projectID, "10", "desk"}, core.ErrValidation},
		{"over budget", []string{"spend", projectID, "30,000", "bus"}, core.ErrCapacityExceeded},
		{"missing title", []string{"spend", projectID, "10"}, flag.ErrHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := run(ctx, &bytes.Buffer{}, b, tt.args); !errors.Is(err, tt.want) {
				t.Errorf("run(%v) error = %v, want %v", tt.args, err, tt.want)
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	b, _ := newLedger(t)
	tests := [][]string{
		nil,
		{"unknown"},
		{"snapshot"},
	}
	for _, args := range tests {
		if err := run(context.Background(), &bytes.Buffer{}, b, args); !errors.Is(err, flag.ErrHelp) {
			t.Errorf("run(%v) error = %v, want usage error", args, err)
		}
	}
	if err := run(context.Background(), &bytes.Buffer{}, b, []string{"snapshot", "missing"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
