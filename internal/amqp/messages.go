package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ReconcileRequest asks the worker to reconcile one fiscal year.
// It carries only the ID; the worker recomputes everything from the store.
type ReconcileRequest struct {
	FiscalYearID string    `json:"fiscalYearId"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewReconcileRequest creates a request stamped with the current time
func NewReconcileRequest(fiscalYearID, reason string) *ReconcileRequest {
	return &ReconcileRequest{
		FiscalYearID: fiscalYearID,
		Reason:       reason,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReconcileRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReconcileRequestFromJSON decodes a request and rejects one without a fiscal year.
func ReconcileRequestFromJSON(data []byte) (*ReconcileRequest, error) {
	var msg ReconcileRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.FiscalYearID == "" {
		return nil, errors.New("reconcile request without fiscalYearId")
	}
	return &msg, nil
}
