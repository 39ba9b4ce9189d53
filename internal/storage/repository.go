// Package storage is the SQLite implementation of ledger.Store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite ledger ready", "path", dbPath)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const fiscalYearColumns = `id, year, total_budget, total_expense, remaining_budget, created_at, updated_at`

func scanFiscalYear(row rowScanner) (core.FiscalYear, error) {
	var (
		fy               core.FiscalYear
		created, updated int64
	)
	err := row.Scan(&fy.ID, &fy.Year, &fy.TotalBudget, &fy.TotalExpense, &fy.RemainingBudget, &created, &updated)
	fy.CreatedAt, fy.UpdatedAt = fromNanos(created), fromNanos(updated)
	return fy, err
}

// GetFiscalYear implements ledger.FiscalYearStore
func (r *SQLiteRepository) GetFiscalYear(ctx context.Context, id string) (core.FiscalYear, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE id = ?`, id)
	fy, err := scanFiscalYear(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FiscalYear{}, &core.NotFoundError{Kind: core.KindFiscalYear, ID: id}
	}
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("get fiscal year %s: %w", id, err)
	}
	return fy, nil
}

// FindFiscalYearByYear implements ledger.FiscalYearStore
func (r *SQLiteRepository) FindFiscalYearByYear(ctx context.Context, year string) (core.FiscalYear, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years WHERE year = ?`, year)
	fy, err := scanFiscalYear(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.FiscalYear{}, &core.NotFoundError{Kind: core.KindFiscalYear, ID: year}
	}
	if err != nil {
		return core.FiscalYear{}, fmt.Errorf("find fiscal year %q: %w", year, err)
	}
	return fy, nil
}

// ListFiscalYears implements ledger.FiscalYearStore
func (r *SQLiteRepository) ListFiscalYears(ctx context.Context) ([]core.FiscalYear, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fiscalYearColumns+` FROM fiscal_years ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list fiscal years: %w", err)
	}
	return collect(rows, scanFiscalYear)
}

// PutFiscalYear implements ledger.FiscalYearStore
func (r *SQLiteRepository) PutFiscalYear(ctx context.Context, fy core.FiscalYear) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fiscal_years (`+fiscalYearColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			year = excluded.year,
			total_budget = excluded.total_budget,
			total_expense = excluded.total_expense,
			remaining_budget = excluded.remaining_budget,
			updated_at = excluded.updated_at`,
		fy.ID, fy.Year, fy.TotalBudget, fy.TotalExpense, fy.RemainingBudget,
		toNanos(fy.CreatedAt), toNanos(fy.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put fiscal year %s: %w", fy.ID, classify(err))
	}
	return nil
}

// DeleteFiscalYear implements ledger.FiscalYearStore
func (r *SQLiteRepository) DeleteFiscalYear(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "fiscal_years", core.KindFiscalYear, id)
}

const subsidyColumns = `id, type, budget, committed, withdrawal, remaining_budget, fiscal_year_id, created_at, updated_at`

func scanSubsidy(row rowScanner) (core.Subsidy, error) {
	var (
		s                core.Subsidy
		created, updated int64
	)
	err := row.Scan(&s.ID, &s.Type, &s.Budget, &s.Committed, &s.Withdrawal, &s.RemainingBudget,
		&s.FiscalYearID, &created, &updated)
	s.CreatedAt, s.UpdatedAt = fromNanos(created), fromNanos(updated)
	return s, err
}

// GetSubsidy implements ledger.SubsidyStore
func (r *SQLiteRepository) GetSubsidy(ctx context.Context, id string) (core.Subsidy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subsidyColumns+` FROM subsidies WHERE id = ?`, id)
	s, err := scanSubsidy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subsidy{}, &core.NotFoundError{Kind: core.KindSubsidy, ID: id}
	}
	if err != nil {
		return core.Subsidy{}, fmt.Errorf("get subsidy %s: %w", id, err)
	}
	return s, nil
}

// ListSubsidies implements ledger.SubsidyStore
func (r *SQLiteRepository) ListSubsidies(ctx context.Context, fiscalYearID string) ([]core.Subsidy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subsidyColumns+` FROM subsidies WHERE fiscal_year_id = ? ORDER BY created_at, id`, fiscalYearID)
	if err != nil {
		return nil, fmt.Errorf("list subsidies: %w", err)
	}
	return collect(rows, scanSubsidy)
}

// PutSubsidy implements ledger.SubsidyStore
func (r *SQLiteRepository) PutSubsidy(ctx context.Context, s core.Subsidy) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subsidies (`+subsidyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			budget = excluded.budget,
			committed = excluded.committed,
			withdrawal = excluded.withdrawal,
			remaining_budget = excluded.remaining_budget,
			fiscal_year_id = excluded.fiscal_year_id,
			updated_at = excluded.updated_at`,
		s.ID, s.Type, s.Budget, s.Committed, s.Withdrawal, s.RemainingBudget, s.FiscalYearID,
		toNanos(s.CreatedAt), toNanos(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put subsidy %s: %w", s.ID, classify(err))
	}
	return nil
}

// DeleteSubsidy implements ledger.SubsidyStore
func (r *SQLiteRepository) DeleteSubsidy(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "subsidies", core.KindSubsidy, id)
}

const projectColumns = `id, name, department, department_group, responsible, budget, withdrawal_amount,
	remaining_budget, subsidy_id, fiscal_year_id, created_at, updated_at`

func scanProject(row rowScanner) (core.Project, error) {
	var (
		p                core.Project
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Department, &p.DepartmentGroup, &p.Responsible, &p.Budget,
		&p.WithdrawalAmount, &p.RemainingBudget, &p.SubsidyID, &p.FiscalYearID, &created, &updated)
	p.CreatedAt, p.UpdatedAt = fromNanos(created), fromNanos(updated)
	return p, err
}

// GetProject implements ledger.ProjectStore
func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (core.Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Project{}, &core.NotFoundError{Kind: core.KindProject, ID: id}
	}
	if err != nil {
		return core.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects implements ledger.ProjectStore
func (r *SQLiteRepository) ListProjects(ctx context.Context, subsidyID string) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE subsidy_id = ? ORDER BY created_at, id`, subsidyID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collect(rows, scanProject)
}

// PutProject implements ledger.ProjectStore
func (r *SQLiteRepository) PutProject(ctx context.Context, p core.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			department = excluded.department,
			department_group = excluded.department_group,
			responsible = excluded.responsible,
			budget = excluded.budget,
			withdrawal_amount = excluded.withdrawal_amount,
			remaining_budget = excluded.remaining_budget,
			subsidy_id = excluded.subsidy_id,
			fiscal_year_id = excluded.fiscal_year_id,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Department, p.DepartmentGroup, p.Responsible, p.Budget, p.WithdrawalAmount,
		p.RemainingBudget, p.SubsidyID, p.FiscalYearID, toNanos(p.CreatedAt), toNanos(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, classify(err))
	}
	return nil
}

// DeleteProject implements ledger.ProjectStore
func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "projects", core.KindProject, id)
}

const transactionColumns = `id, title, date, amount, duration, note, project_id, created_at, updated_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                core.Transaction
		date             string
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.Title, &date, &t.Amount, &t.Duration, &t.Note, &t.ProjectID, &created, &updated); err != nil {
		return t, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return t, fmt.Errorf("parse transaction date %q: %w", date, err)
	}
	t.Date = d
	t.CreatedAt, t.UpdatedAt = fromNanos(created), fromNanos(updated)
	return t, nil
}

// GetTransaction implements ledger.TransactionStore
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.NotFoundError{Kind: core.KindTransaction, ID: id}
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// ListTransactions implements ledger.TransactionStore
func (r *SQLiteRepository) ListTransactions(ctx context.Context, projectID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

// CountTransactions implements ledger.TransactionStore
func (r *SQLiteRepository) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// PutTransaction implements ledger.TransactionStore
func (r *SQLiteRepository) PutTransaction(ctx context.Context, t core.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			amount = excluded.amount,
			duration = excluded.duration,
			note = excluded.note,
			project_id = excluded.project_id,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.Date.String(), t.Amount, t.Duration, t.Note, t.ProjectID,
		toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put transaction %s: %w", t.ID, classify(err))
	}
	return nil
}

// DeleteTransaction implements ledger.TransactionStore
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "transactions", core.KindTransaction, id)
}

// deleteByID removes one row; table is always a package constant.
func (r *SQLiteRepository) deleteByID(ctx context.Context, table string, kind core.Kind, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if n == 0 {
		return &core.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// classify maps SQLite constraint failures onto the core sentinels.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	code := se.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%v: %w", err, core.ErrAlreadyExists)
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%v: %w", err, core.ErrConstraintViolation)
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%v: %w", err, core.ErrAlreadyExists)
		}
		return fmt.Errorf("%v: %w", err, core.ErrConstraintViolation)
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var _ ledger.Store = (*SQLiteRepository)(nil)
