package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineKind tells apart the lines a statement is made of.
type LineKind string

const (
	LineTransaction LineKind = "transaction"
	LineFee         LineKind = "fee"
	LineTransfer    LineKind = "transfer"
	LineRounding    LineKind = "rounding"
	LineBalance     LineKind = "balance"
)

// LedgerLine is one signed monetary entry owned locally.
// It belongs either to a Statement (StatementID) or to a QueueEntry (QueueEntryID).
type LedgerLine struct {
	ID           string
	AccountID    string
	StatementID  string
	QueueEntryID string
	Kind         LineKind
	Date         time.Time
	Memo         string
	Ref          string
	Amount       decimal.Decimal

	// ExternalTransactionID is a back-reference to the feed record, not an ownership edge.
	ExternalTransactionID string
	OwningPartnerID       string
	Info                  map[string]any

	// Reconciled is set by downstream accounting; this module only observes it.
	Reconciled bool
}
