package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"schoolbudget/internal/cache"
	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"
)

// Snapshots serves the stored aggregate state of fiscal years. Results are
// cached per fiscal year until the next change to that year.
type Snapshots struct {
	store ledger.Store
	locks *Locks
	cache *cache.LRUCache[core.Snapshot]
}

// NewSnapshots creates a snapshot reader caching up to size fiscal years
// for ttl. Pass the coordinator's Locks so reads never see half a cascade.
func NewSnapshots(store ledger.Store, locks *Locks, size int, ttl time.Duration) *Snapshots {
	if locks == nil {
		locks = NewLocks()
	}
	return &Snapshots{
		store: store,
		locks: locks,
		cache: cache.NewLRUCache[core.Snapshot](size, ttl),
	}
}

// Cache exposes the underlying cache for registration with a cache.Manager.
func (s *Snapshots) Cache() *cache.LRUCache[core.Snapshot] {
	return s.cache
}

// Invalidate implements Invalidator.
func (s *Snapshots) Invalidate(fiscalYearID string) {
	s.cache.Delete(fiscalYearID)
}

// GetAggregateSnapshot returns the totals of a fiscal year with the figures
// of each subsidy and project, as stored.
func (s *Snapshots) GetAggregateSnapshot(ctx context.Context, fiscalYearID string) (core.Snapshot, error) {
	if snap, ok := s.cache.Get(fiscalYearID); ok {
		return snap, nil
	}

	release, err := s.locks.Acquire(ctx, fiscalYearID)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get aggregate snapshot: %w", err)
	}
	defer release()

	snap, err := s.build(ctx, fiscalYearID)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("get aggregate snapshot: %w", err)
	}
	s.cache.Set(fiscalYearID, snap)
	return snap, nil
}

func (s *Snapshots) build(ctx context.Context, fiscalYearID string) (core.Snapshot, error) {
	fy, err := s.store.GetFiscalYear(ctx, fiscalYearID)
	if err != nil {
		return core.Snapshot{}, err
	}
	subsidies, err := s.store.ListSubsidies(ctx, fiscalYearID)
	if err != nil {
		return core.Snapshot{}, err
	}

	snap := core.Snapshot{
		FiscalYearID:    fy.ID,
		Year:            fy.Year,
		TotalBudget:     fy.TotalBudget,
		TotalExpense:    fy.TotalExpense,
		RemainingBudget: fy.RemainingBudget,
		Subsidies:       make([]core.SubsidySummary, 0, len(subsidies)),
		Projects:        []core.ProjectSummary{},
	}
	for _, sub := range subsidies {
		snap.Subsidies = append(snap.Subsidies, core.SubsidySummary{
			ID:              sub.ID,
			Type:            sub.Type,
			Budget:          sub.Budget,
			Committed:       sub.Committed,
			Available:       sub.Available(),
			Withdrawal:      sub.Withdrawal,
			RemainingBudget: sub.RemainingBudget,
		})
		projects, err := s.store.ListProjects(ctx, sub.ID)
		if err != nil {
			return core.Snapshot{}, err
		}
		for _, p := range projects {
			snap.Projects = append(snap.Projects, core.ProjectSummary{
				ID:               p.ID,
				Name:             p.Name,
				SubsidyID:        p.SubsidyID,
				Budget:           p.Budget,
				WithdrawalAmount: p.WithdrawalAmount,
				RemainingBudget:  p.RemainingBudget,
			})
		}
	}
	return snap, nil
}

// Statistics summarizes every fiscal year: record counts, per-level sums of
// budget, spend and remaining, and one line per year.
func (s *Snapshots) Statistics(ctx context.Context) (core.Statistics, error) {
	years, err := s.store.ListFiscalYears(ctx)
	if err != nil {
		return core.Statistics{}, fmt.Errorf("statistics: %w", err)
	}

	stats := core.Statistics{
		Projects:  zeroTotals(),
		Subsidies: zeroTotals(),
		Years:     zeroTotals(),
		ByYear:    make([]core.YearStatistics, 0, len(years)),
	}
	for _, fy := range years {
		snap, err := s.GetAggregateSnapshot(ctx, fy.ID)
		if err != nil {
			return core.Statistics{}, fmt.Errorf("statistics: %w", err)
		}
		addTotals(&stats.Years, snap.TotalBudget, snap.TotalExpense, snap.RemainingBudget)
		for _, sub := range snap.Subsidies {
			addTotals(&stats.Subsidies, sub.Budget, sub.Withdrawal, sub.RemainingBudget)
		}
		for _, p := range snap.Projects {
			addTotals(&stats.Projects, p.Budget, p.WithdrawalAmount, p.RemainingBudget)
		}
		stats.Counts.Subsidies += len(snap.Subsidies)
		stats.Counts.Projects += len(snap.Projects)
		stats.ByYear = append(stats.ByYear, core.YearStatistics{
			FiscalYearID:    fy.ID,
			Year:            fy.Year,
			TotalBudget:     snap.TotalBudget,
			TotalExpense:    snap.TotalExpense,
			RemainingBudget: snap.RemainingBudget,
			SubsidyCount:    len(snap.Subsidies),
			ProjectCount:    len(snap.Projects),
		})
	}

	txns, err := s.store.CountTransactions(ctx)
	if err != nil {
		return core.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	stats.Counts.FiscalYears = len(years)
	stats.Counts.Transactions = txns
	stats.Counts.Total = stats.Counts.FiscalYears + stats.Counts.Subsidies +
		stats.Counts.Projects + stats.Counts.Transactions
	return stats, nil
}

func zeroTotals() core.LevelTotals {
	return core.LevelTotals{Budget: decimal.Zero, Withdrawal: decimal.Zero, Remaining: decimal.Zero}
}

func addTotals(t *core.LevelTotals, budget, withdrawal, remaining decimal.Decimal) {
	t.Budget = t.Budget.Add(budget)
	t.Withdrawal = t.Withdrawal.Add(withdrawal)
	t.Remaining = t.Remaining.Add(remaining)
}
