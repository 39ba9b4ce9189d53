// Package memory is an in-process ledger.Store. Data is lost on restart;
// it backs tests and the "memory" data backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"schoolbudget/internal/core"
	"schoolbudget/internal/ledger"
)

type Store struct {
	mu           sync.RWMutex
	fiscalYears  map[string]core.FiscalYear
	subsidies    map[string]core.Subsidy
	projects     map[string]core.Project
	transactions map[string]core.Transaction

	// failPut, when set, is consulted before every write. Tests use it to
	// simulate a store failing partway through a cascade.
	failPut func(kind core.Kind, id string) error
}

func New() *Store {
	return &Store{
		fiscalYears:  make(map[string]core.FiscalYear),
		subsidies:    make(map[string]core.Subsidy),
		projects:     make(map[string]core.Project),
		transactions: make(map[string]core.Transaction),
	}
}

// FailWritesWith installs a write hook; a nil hook clears it.
func (s *Store) FailWritesWith(hook func(kind core.Kind, id string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = hook
}

func (s *Store) checkWrite(kind core.Kind, id string) error {
	if s.failPut == nil {
		return nil
	}
	return s.failPut(kind, id)
}

// GetFiscalYear implements ledger.FiscalYearStore
func (s *Store) GetFiscalYear(_ context.Context, id string) (core.FiscalYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fy, ok := s.fiscalYears[id]
	if !ok {
		return core.FiscalYear{}, &core.NotFoundError{Kind: core.KindFiscalYear, ID: id}
	}
	return fy, nil
}

// FindFiscalYearByYear implements ledger.FiscalYearStore
func (s *Store) FindFiscalYearByYear(_ context.Context, year string) (core.FiscalYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fy := range s.fiscalYears {
		if fy.Year == year {
			return fy, nil
		}
	}
	return core.FiscalYear{}, &core.NotFoundError{Kind: core.KindFiscalYear, ID: year}
}

// ListFiscalYears implements ledger.FiscalYearStore
func (s *Store) ListFiscalYears(_ context.Context) ([]core.FiscalYear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.FiscalYear, 0, len(s.fiscalYears))
	for _, fy := range s.fiscalYears {
		out = append(out, fy)
	}
	sortByCreation(out, func(fy core.FiscalYear) (int64, string) { return fy.CreatedAt.UnixNano(), fy.ID })
	return out, nil
}

// PutFiscalYear implements ledger.FiscalYearStore
func (s *Store) PutFiscalYear(_ context.Context, fy core.FiscalYear) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(core.KindFiscalYear, fy.ID); err != nil {
		return err
	}
	for _, other := range s.fiscalYears {
		if other.ID != fy.ID && other.Year == fy.Year {
			return fmt.Errorf("fiscal year %q: %w", fy.Year, core.ErrAlreadyExists)
		}
	}
	s.fiscalYears[fy.ID] = fy
	return nil
}

// DeleteFiscalYear implements ledger.FiscalYearStore
func (s *Store) DeleteFiscalYear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fiscalYears[id]; !ok {
		return &core.NotFoundError{Kind: core.KindFiscalYear, ID: id}
	}
	for _, sub := range s.subsidies {
		if sub.FiscalYearID == id {
			return fmt.Errorf("delete fiscal year %s: referenced by subsidy %s: %w", id, sub.ID, core.ErrConstraintViolation)
		}
	}
	delete(s.fiscalYears, id)
	return nil
}

// GetSubsidy implements ledger.SubsidyStore
func (s *Store) GetSubsidy(_ context.Context, id string) (core.Subsidy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subsidies[id]
	if !ok {
		return core.Subsidy{}, &core.NotFoundError{Kind: core.KindSubsidy, ID: id}
	}
	return sub, nil
}

// ListSubsidies implements ledger.SubsidyStore
func (s *Store) ListSubsidies(_ context.Context, fiscalYearID string) ([]core.Subsidy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Subsidy
	for _, sub := range s.subsidies {
		if sub.FiscalYearID == fiscalYearID {
			out = append(out, sub)
		}
	}
	sortByCreation(out, func(sub core.Subsidy) (int64, string) { return sub.CreatedAt.UnixNano(), sub.ID })
	return out, nil
}

// PutSubsidy implements ledger.SubsidyStore
func (s *Store) PutSubsidy(_ context.Context, sub core.Subsidy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(core.KindSubsidy, sub.ID); err != nil {
		return err
	}
	if _, ok := s.fiscalYears[sub.FiscalYearID]; !ok {
		return fmt.Errorf("subsidy %s: fiscal year %s: %w", sub.ID, sub.FiscalYearID, core.ErrConstraintViolation)
	}
	s.subsidies[sub.ID] = sub
	return nil
}

// DeleteSubsidy implements ledger.SubsidyStore
func (s *Store) DeleteSubsidy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subsidies[id]; !ok {
		return &core.NotFoundError{Kind: core.KindSubsidy, ID: id}
	}
	for _, p := range s.projects {
		if p.SubsidyID == id {
			return fmt.Errorf("delete subsidy %s: referenced by project %s: %w", id, p.ID, core.ErrConstraintViolation)
		}
	}
	delete(s.subsidies, id)
	return nil
}

// GetProject implements ledger.ProjectStore
func (s *Store) GetProject(_ context.Context, id string) (core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return core.Project{}, &core.NotFoundError{Kind: core.KindProject, ID: id}
	}
	return p, nil
}

// ListProjects implements ledger.ProjectStore
func (s *Store) ListProjects(_ context.Context, subsidyID string) ([]core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Project
	for _, p := range s.projects {
		if p.SubsidyID == subsidyID {
			out = append(out, p)
		}
	}
	sortByCreation(out, func(p core.Project) (int64, string) { return p.CreatedAt.UnixNano(), p.ID })
	return out, nil
}

// PutProject implements ledger.ProjectStore
func (s *Store) PutProject(_ context.Context, p core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(core.KindProject, p.ID); err != nil {
		return err
	}
	if _, ok := s.subsidies[p.SubsidyID]; !ok {
		return fmt.Errorf("project %s: subsidy %s: %w", p.ID, p.SubsidyID, core.ErrConstraintViolation)
	}
	s.projects[p.ID] = p
	return nil
}

// DeleteProject implements ledger.ProjectStore
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return &core.NotFoundError{Kind: core.KindProject, ID: id}
	}
	delete(s.projects, id)
	return nil
}

// GetTransaction implements ledger.TransactionStore
func (s *Store) GetTransaction(_ context.Context, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Kind: core.KindTransaction, ID: id}
	}
	return t, nil
}

// ListTransactions implements ledger.TransactionStore
func (s *Store) ListTransactions(_ context.Context, projectID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, t := range s.transactions {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sortByCreation(out, func(t core.Transaction) (int64, string) { return t.CreatedAt.UnixNano(), t.ID })
	return out, nil
}

// CountTransactions implements ledger.TransactionStore
func (s *Store) CountTransactions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions), nil
}

// PutTransaction implements ledger.TransactionStore
func (s *Store) PutTransaction(_ context.Context, t core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(core.KindTransaction, t.ID); err != nil {
		return err
	}
	s.transactions[t.ID] = t
	return nil
}

// DeleteTransaction implements ledger.TransactionStore
func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return &core.NotFoundError{Kind: core.KindTransaction, ID: id}
	}
	delete(s.transactions, id)
	return nil
}

func sortByCreation[T any](items []T, key func(T) (int64, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti != tj {
			return ti < tj
		}
		return idi < idj
	})
}

var _ ledger.Store = (*Store)(nil)
