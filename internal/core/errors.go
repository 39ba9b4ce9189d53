package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrHasDependents       = errors.New("record has dependents")
	ErrInconsistent        = errors.New("stored aggregates are inconsistent")
)

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CapacityExceededError is returned when a commitment or spend is larger
// than what the parent node still has available.
type CapacityExceededError struct {
	Kind      Kind // the node whose capacity was checked
	ID        string
	Attempted decimal.Decimal
	Available decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s %q: attempted %s exceeds available %s",
		e.Kind, e.ID, e.Attempted.String(), e.Available.String())
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// DependencyError is returned when deleting a node that still has children.
type DependencyError struct {
	Kind       Kind
	ID         string
	Dependents int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s %q still has %d dependent records", e.Kind, e.ID, e.Dependents)
}

func (e *DependencyError) Unwrap() error { return ErrHasDependents }

// Discrepancy is a stored figure that differs from its recomputed value.
type Discrepancy struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s %s %s: stored %s, expected %s", d.Kind, d.ID, d.Field, d.Stored, d.Expected)
}

// ConsistencyError is only produced by an explicit verification pass.
type ConsistencyError struct {
	FiscalYearID  string        `json:"fiscalYearId"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, 0, len(e.Discrepancies))
	for _, d := range e.Discrepancies {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("fiscal year %q has %d inconsistent figures:\n- %s",
		e.FiscalYearID, len(e.Discrepancies), strings.Join(parts, "\n- "))
}

func (e *ConsistencyError) Unwrap() error { return ErrInconsistent }
