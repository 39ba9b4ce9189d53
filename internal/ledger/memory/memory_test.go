package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"schoolbudget/internal/core"
)

func seed(t *testing.T, s *Store) (core.FiscalYear, core.Subsidy, core.Project) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	fy := core.FiscalYear{ID: "fy1", Year: "2567", CreatedAt: now}
	if err := s.PutFiscalYear(ctx, fy); err != nil {
		t.Fatalf("put fiscal year: %v", err)
	}
	sub := core.Subsidy{ID: "s1", Type: "operations", Budget: core.MustAmount("100000"), FiscalYearID: fy.ID, CreatedAt: now}
	if err := s.PutSubsidy(ctx, sub); err != nil {
		t.Fatalf("put subsidy: %v", err)
	}
	p := core.Project{ID: "p1", Name: "library", Budget: core.MustAmount("40000"), SubsidyID: sub.ID, FiscalYearID: fy.ID, CreatedAt: now}
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatalf("put project: %v", err)
	}
	return fy, sub, p
}

func TestStoreGetNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetFiscalYear(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetSubsidy(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.DeleteTransaction(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreParentConstraints(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.PutSubsidy(ctx, core.Subsidy{ID: "s", Type: "x", FiscalYearID: "nope"})
	if !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	err = s.PutProject(ctx, core.Project{ID: "p", Name: "x", SubsidyID: "nope"})
	if !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	// Dangling project references are legal for transactions.
	if err := s.PutTransaction(ctx, core.Transaction{ID: "t", ProjectID: "nope"}); err != nil {
		t.Fatalf("expected dangling transaction to be stored, got %v", err)
	}

	_, sub, _ := seed(t, s)
	if err := s.DeleteSubsidy(ctx, sub.ID); !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation deleting subsidy with projects, got %v", err)
	}
	if err := s.DeleteFiscalYear(ctx, sub.FiscalYearID); !errors.Is(err, core.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation deleting fiscal year with subsidies, got %v", err)
	}
}

func TestStoreDuplicateYearLabel(t *testing.T) {
	s := New()
	ctx := context.Background()
	seed(t, s)

	err := s.PutFiscalYear(ctx, core.FiscalYear{ID: "fy2", Year: "2567"})
	if !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	fy, err := s.FindFiscalYearByYear(ctx, "2567")
	if err != nil || fy.ID != "fy1" {
		t.Fatalf("unexpected lookup: %+v err=%v", fy, err)
	}
}

func TestStoreListsAreScopedAndOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, sub, p := seed(t, s)

	base := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"t3", "t1", "t2"} {
		tr := core.Transaction{ID: id, ProjectID: p.ID, Amount: core.MustAmount("1"), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.PutTransaction(ctx, tr); err != nil {
			t.Fatalf("put transaction: %v", err)
		}
	}
	if err := s.PutTransaction(ctx, core.Transaction{ID: "loose"}); err != nil {
		t.Fatalf("put transaction: %v", err)
	}

	txns, err := s.ListTransactions(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txns) != 3 || txns[0].ID != "t3" || txns[1].ID != "t1" || txns[2].ID != "t2" {
		t.Fatalf("unexpected order: %+v", txns)
	}
	loose, _ := s.ListTransactions(ctx, "")
	if len(loose) != 1 || loose[0].ID != "loose" {
		t.Fatalf("unexpected unattached list: %+v", loose)
	}
	if n, _ := s.CountTransactions(ctx); n != 4 {
		t.Fatalf("expected 4 stored transactions, got %d", n)
	}

	projects, _ := s.ListProjects(ctx, sub.ID)
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	if other, _ := s.ListProjects(ctx, "other"); len(other) != 0 {
		t.Fatalf("expected no projects for unknown subsidy, got %d", len(other))
	}
}

func TestStoreWriteHook(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _, p := seed(t, s)

	boom := errors.New("disk full")
	s.FailWritesWith(func(kind core.Kind, id string) error {
		if kind == core.KindProject {
			return boom
		}
		return nil
	})
	if err := s.PutProject(ctx, p); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	s.FailWritesWith(nil)
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatalf("expected write to succeed after clearing hook, got %v", err)
	}
}
