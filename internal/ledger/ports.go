// Package ledger defines the persistence ports of the budget hierarchy.
//
// Every call is atomic for a single record only. Callers that need several
// writes to appear together must serialize them themselves.
package ledger

import (
	"context"

	"schoolbudget/internal/core"
)

// Ports for storage adapters. Lists are ordered by creation time, then ID.
type (
	FiscalYearStore interface {
		GetFiscalYear(ctx context.Context, id string) (core.FiscalYear, error)
		// FindFiscalYearByYear looks a fiscal year up by its label.
		FindFiscalYearByYear(ctx context.Context, year string) (core.FiscalYear, error)
		ListFiscalYears(ctx context.Context) ([]core.FiscalYear, error)
		PutFiscalYear(ctx context.Context, fy core.FiscalYear) error
		DeleteFiscalYear(ctx context.Context, id string) error
	}

	SubsidyStore interface {
		GetSubsidy(ctx context.Context, id string) (core.Subsidy, error)
		ListSubsidies(ctx context.Context, fiscalYearID string) ([]core.Subsidy, error)
		// PutSubsidy fails with core.ErrConstraintViolation when the fiscal year does not exist.
		PutSubsidy(ctx context.Context, s core.Subsidy) error
		DeleteSubsidy(ctx context.Context, id string) error
	}

	ProjectStore interface {
		GetProject(ctx context.Context, id string) (core.Project, error)
		ListProjects(ctx context.Context, subsidyID string) ([]core.Project, error)
		// PutProject fails with core.ErrConstraintViolation when the subsidy does not exist.
		PutProject(ctx context.Context, p core.Project) error
		DeleteProject(ctx context.Context, id string) error
	}

	TransactionStore interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// ListTransactions returns the transactions pointing at projectID.
		// An empty projectID lists unattached transactions.
		ListTransactions(ctx context.Context, projectID string) ([]core.Transaction, error)
		// CountTransactions counts every stored transaction, dangling ones included.
		CountTransactions(ctx context.Context) (int, error)
		// PutTransaction does not check the project reference: dangling
		// references are legal and simply stop contributing to totals.
		PutTransaction(ctx context.Context, t core.Transaction) error
		DeleteTransaction(ctx context.Context, id string) error
	}

	// Store is the full ledger persistence contract.
	Store interface {
		FiscalYearStore
		SubsidyStore
		ProjectStore
		TransactionStore
	}
)
