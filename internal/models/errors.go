package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record does not exist locally or remotely.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniquely keyed record already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrRunInProgress is returned when a run for the same account is already active.
	ErrRunInProgress = errors.New("run already in progress for account")
)

// TransportError is a network or HTTP failure talking to the processor.
// It aborts the current run.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is a malformed or unexpected feed shape.
type ValidationError struct {
	Record string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Record == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Record, e.Reason)
}

// ContinuityViolation is a statement whose balance does not net out within tolerance.
// It is left visible in the ledger for an operator to investigate.
type ContinuityViolation struct {
	AccountID    string
	SettlementID string
	Opening      decimal.Decimal
	Closing      decimal.Decimal
	Discrepancy  decimal.Decimal
	Tolerance    decimal.Decimal
}

func (e *ContinuityViolation) Error() string {
	return fmt.Sprintf("continuity: account %s settlement %s: discrepancy %s exceeds tolerance %s",
		e.AccountID, e.SettlementID, e.Discrepancy.StringFixed(2), e.Tolerance.String())
}

// StateViolation rejects an operation the entry's current state does not allow.
type StateViolation struct {
	EntryID string
	State   QueueState
	Op      string
}

func (e *StateViolation) Error() string {
	return fmt.Sprintf("cannot %s queue entry %s in state %s", e.Op, e.EntryID, e.State)
}
