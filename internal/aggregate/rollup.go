// Package aggregate derives the cached budget figures of every level of the
// hierarchy from the records below it.
//
// The roll-up functions are pure. Engine wires them to a ledger.Store, either
// incrementally along one project's ancestor chain or for a whole fiscal year.
package aggregate

import (
	"github.com/shopspring/decimal"

	"schoolbudget/internal/core"
)

// RollupProject returns p with its spend figures recomputed from txns.
// Transactions that reference another project are ignored.
func RollupProject(p core.Project, txns []core.Transaction) core.Project {
	spent := decimal.Zero
	for _, t := range txns {
		if t.ProjectID == p.ID {
			spent = spent.Add(t.Amount)
		}
	}
	p.WithdrawalAmount = core.ClampZero(spent)
	p.RemainingBudget = core.ClampZero(p.Budget.Sub(p.WithdrawalAmount))
	return p
}

// RollupSubsidy returns s with Committed, Withdrawal and RemainingBudget
// recomputed from its projects.
func RollupSubsidy(s core.Subsidy, projects []core.Project) core.Subsidy {
	committed, spent := decimal.Zero, decimal.Zero
	for _, p := range projects {
		if p.SubsidyID != s.ID {
			continue
		}
		committed = committed.Add(p.Budget)
		spent = spent.Add(p.WithdrawalAmount)
	}
	s.Committed = committed
	s.Withdrawal = core.ClampZero(spent)
	s.RemainingBudget = core.ClampZero(s.Budget.Sub(s.Withdrawal))
	return s
}

// RollupFiscalYear returns fy with its totals recomputed from its subsidies.
func RollupFiscalYear(fy core.FiscalYear, subsidies []core.Subsidy) core.FiscalYear {
	budget, spent := decimal.Zero, decimal.Zero
	for _, s := range subsidies {
		if s.FiscalYearID != fy.ID {
			continue
		}
		budget = budget.Add(s.Budget)
		spent = spent.Add(s.Withdrawal)
	}
	fy.TotalBudget = budget
	fy.TotalExpense = core.ClampZero(spent)
	fy.RemainingBudget = core.ClampZero(fy.TotalBudget.Sub(fy.TotalExpense))
	return fy
}

// DiffProject lists the derived project fields that differ between stored and expected.
func DiffProject(stored, expected core.Project) []core.Discrepancy {
	var out []core.Discrepancy
	out = appendAmountDiff(out, core.KindProject, stored.ID, "withdrawalAmount", stored.WithdrawalAmount, expected.WithdrawalAmount)
	out = appendAmountDiff(out, core.KindProject, stored.ID, "remainingBudget", stored.RemainingBudget, expected.RemainingBudget)
	if stored.FiscalYearID != expected.FiscalYearID {
		out = append(out, core.Discrepancy{
			Kind: core.KindProject, ID: stored.ID, Field: "fiscalYearId",
			Stored: stored.FiscalYearID, Expected: expected.FiscalYearID,
		})
	}
	return out
}

// DiffSubsidy lists the derived subsidy fields that differ between stored and expected.
func DiffSubsidy(stored, expected core.Subsidy) []core.Discrepancy {
	var out []core.Discrepancy
	out = appendAmountDiff(out, core.KindSubsidy, stored.ID, "committed", stored.Committed, expected.Committed)
	out = appendAmountDiff(out, core.KindSubsidy, stored.ID, "withdrawal", stored.Withdrawal, expected.Withdrawal)
	out = appendAmountDiff(out, core.KindSubsidy, stored.ID, "remainingBudget", stored.RemainingBudget, expected.RemainingBudget)
	return out
}

// DiffFiscalYear lists the derived fiscal year fields that differ between stored and expected.
func DiffFiscalYear(stored, expected core.FiscalYear) []core.Discrepancy {
	var out []core.Discrepancy
	out = appendAmountDiff(out, core.KindFiscalYear, stored.ID, "totalBudget", stored.TotalBudget, expected.TotalBudget)
	out = appendAmountDiff(out, core.KindFiscalYear, stored.ID, "totalExpense", stored.TotalExpense, expected.TotalExpense)
	out = appendAmountDiff(out, core.KindFiscalYear, stored.ID, "remainingBudget", stored.RemainingBudget, expected.RemainingBudget)
	return out
}

func appendAmountDiff(out []core.Discrepancy, kind core.Kind, id, field string, stored, expected decimal.Decimal) []core.Discrepancy {
	if stored.Equal(expected) {
		return out
	}
	return append(out, core.Discrepancy{
		Kind: kind, ID: id, Field: field,
		Stored: stored.String(), Expected: expected.String(),
	})
}
