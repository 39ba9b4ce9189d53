package core

import "github.com/shopspring/decimal"

// SubsidySummary is the aggregate view of one subsidy.
type SubsidySummary struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Budget          decimal.Decimal `json:"budget"`
	Committed       decimal.Decimal `json:"committed"`
	Available       decimal.Decimal `json:"available"`
	Withdrawal      decimal.Decimal `json:"withdrawal"`
	RemainingBudget decimal.Decimal `json:"remainingBudget"`
}

// ProjectSummary is the aggregate view of one project.
type ProjectSummary struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	SubsidyID        string          `json:"subsidyId"`
	Budget           decimal.Decimal `json:"budget"`
	WithdrawalAmount decimal.Decimal `json:"withdrawalAmount"`
	RemainingBudget  decimal.Decimal `json:"remainingBudget"`
}

// Snapshot is the stored aggregate state of a fiscal year subtree.
type Snapshot struct {
	FiscalYearID    string           `json:"fiscalYearId"`
	Year            string           `json:"year"`
	TotalBudget     decimal.Decimal  `json:"totalBudget"`
	TotalExpense    decimal.Decimal  `json:"totalExpense"`
	RemainingBudget decimal.Decimal  `json:"remainingBudget"`
	Subsidies       []SubsidySummary `json:"perSubsidy"`
	Projects        []ProjectSummary `json:"perProject"`
}

// LevelTotals sums the budget figures of every record on one level.
type LevelTotals struct {
	Budget     decimal.Decimal `json:"totalBudget"`
	Withdrawal decimal.Decimal `json:"totalWithdrawal"`
	Remaining  decimal.Decimal `json:"totalRemaining"`
}

// RecordCounts counts records per kind.
type RecordCounts struct {
	FiscalYears  int `json:"fiscalYears"`
	Subsidies    int `json:"subsidies"`
	Projects     int `json:"projects"`
	Transactions int `json:"transactions"`
	Total        int `json:"total"`
}

// YearStatistics summarizes one fiscal year.
type YearStatistics struct {
	FiscalYearID    string          `json:"fiscalYearId"`
	Year            string          `json:"year"`
	TotalBudget     decimal.Decimal `json:"totalBudget"`
	TotalExpense    decimal.Decimal `json:"totalExpense"`
	RemainingBudget decimal.Decimal `json:"remainingBudget"`
	SubsidyCount    int             `json:"subsidyCount"`
	ProjectCount    int             `json:"projectCount"`
}

// Statistics is the cross-year overview used by dashboards.
type Statistics struct {
	Counts    RecordCounts     `json:"counts"`
	Projects  LevelTotals      `json:"projectStatistics"`
	Subsidies LevelTotals      `json:"subsidyStatistics"`
	Years     LevelTotals      `json:"fiscalYearSummary"`
	ByYear    []YearStatistics `json:"byYear"`
}
