package log

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldDuration      = "duration"
	FieldFiscalYearID  = "fiscal_year_id"
	FieldFiscalYearIDs = "fiscal_year_ids"
	FieldYear          = "year"
	FieldSubsidyID     = "subsidy_id"
	FieldProjectID     = "project_id"
	FieldTransactionID = "transaction_id"
	FieldAmount        = "amount"
	FieldAttempted     = "attempted"
	FieldAvailable     = "available"
	FieldWrites        = "writes"
	FieldDiscrepancies = "discrepancies"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentCoordinator = "coordinator"
	ComponentReconciler  = "reconciler"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentCache       = "cache"
	ComponentBackend     = "backend"
	ComponentCLI         = "cli"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpReparent  = "reparent"
	OpPropagate = "propagate"
	OpReconcile = "reconcile"
	OpVerify    = "verify"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithFiscalYear adds the fiscal year ID and, when known, its label
func (f LogFields) WithFiscalYear(id, year string) LogFields {
	f[FieldFiscalYearID] = id
	if year != "" {
		f[FieldYear] = year
	}
	return f
}

// WithFiscalYears adds the IDs of every fiscal year an operation touched
func (f LogFields) WithFiscalYears(ids []string) LogFields {
	f[FieldFiscalYearIDs] = slices.Clone(ids)
	return f
}

// WithCapacity adds the figures of a rejected capacity check
func (f LogFields) WithCapacity(attempted, available decimal.Decimal) LogFields {
	f[FieldAttempted] = attempted.String()
	f[FieldAvailable] = available.String()
	return f
}

// WithReconcile adds the outcome of a reconcile run
func (f LogFields) WithReconcile(discrepancies, writes int) LogFields {
	f[FieldDiscrepancies] = discrepancies
	f[FieldWrites] = writes
	return f
}

// ToSlice converts LogFields to key-value pairs for slog, sorted by key
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := make([]any, 0, len(f)*2)
	for _, k := range keys {
		result = append(result, k, f[k])
	}
	return result
}
