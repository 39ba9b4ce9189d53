package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a record type in the budget hierarchy.
type Kind string

const (
	KindFiscalYear  Kind = "fiscal_year"
	KindSubsidy     Kind = "subsidy"
	KindProject     Kind = "project"
	KindTransaction Kind = "transaction"
)

// DefaultDuration is stored when a transaction is created without a duration.
const DefaultDuration = "-"

type (
	Date struct {
		time.Time
	}

	// FiscalYear is the root budgeting period. All figures are derived from
	// its subsidies.
	FiscalYear struct {
		ID              string
		Year            string // label, e.g. "2567"
		TotalBudget     decimal.Decimal
		TotalExpense    decimal.Decimal
		RemainingBudget decimal.Decimal
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	// Subsidy is a funding allocation within a fiscal year.
	//
	// Committed is the sum of its projects' budgets and gates new projects;
	// Withdrawal is the realized spend and drives RemainingBudget.
	Subsidy struct {
		ID              string
		Type            string
		Budget          decimal.Decimal
		Committed       decimal.Decimal
		Withdrawal      decimal.Decimal
		RemainingBudget decimal.Decimal
		FiscalYearID    string
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	Project struct {
		ID               string
		Name             string
		Department       string
		DepartmentGroup  string
		Responsible      string
		Budget           decimal.Decimal
		WithdrawalAmount decimal.Decimal
		RemainingBudget  decimal.Decimal
		SubsidyID        string
		FiscalYearID     string // always the parent subsidy's fiscal year
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// Transaction is a realized expenditure. A transaction without a project,
	// or whose project no longer exists, does not count towards any total.
	Transaction struct {
		ID        string
		Title     string
		Date      Date
		Amount    decimal.Decimal
		Duration  string
		Note      string
		ProjectID string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return &ValidationError{Field: "date", Reason: "cannot be zero"}
	}
	return nil
}

// Available is the budget not yet reserved by projects.
func (s Subsidy) Available() decimal.Decimal {
	return s.Budget.Sub(s.Committed)
}

// Attached reports whether the transaction references a project.
func (t Transaction) Attached() bool {
	return t.ProjectID != ""
}

func (fy FiscalYear) Validate() error {
	year := strings.TrimSpace(fy.Year)
	if year == "" {
		return &ValidationError{Field: "year", Reason: "required"}
	}
	if len(year) > 20 {
		return &ValidationError{Field: "year", Reason: "too long (max 20 characters)"}
	}
	return nil
}

func (s Subsidy) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if s.FiscalYearID == "" {
		return &ValidationError{Field: "fiscal_year_id", Reason: "required"}
	}
	return ValidateBudget("budget", s.Budget)
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(p.Name) > 200 {
		return &ValidationError{Field: "name", Reason: "too long (max 200 characters)"}
	}
	if p.SubsidyID == "" {
		return &ValidationError{Field: "subsidy_id", Reason: "required"}
	}
	return ValidateBudget("budget", p.Budget)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if len(t.Title) > 200 {
		return &ValidationError{Field: "title", Reason: "too long (max 200 characters)"}
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}
