package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueueState is derived from the ledger line linked to a queue entry.
type QueueState string

const (
	QueueNotCreated QueueState = "not_created"
	QueueCreated    QueueState = "created"
	QueueReconciled QueueState = "reconciled"
)

// QueueLeg splits one balance transaction into its movement and its deductions.
type QueueLeg string

const (
	LegAmount     QueueLeg = "amount"
	LegDeductions QueueLeg = "deductions"
)

// QueueEntry is one balance movement waiting to become a ledger line.
type QueueEntry struct {
	ID                   string
	AccountID            string
	BalanceTransactionID string
	Leg                  QueueLeg
	TransactionID        string
	TypeCode             string
	PaymentRef           string
	Amount               decimal.Decimal
	Date                 time.Time
	Context              map[string]string
	ReasonOfException    string
	CreatedAt            time.Time
}

// StateOf derives the state of an entry from its line. A nil line means not_created.
func StateOf(line *LedgerLine) QueueState {
	switch {
	case line == nil:
		return QueueNotCreated
	case line.Reconciled:
		return QueueReconciled
	default:
		return QueueCreated
	}
}
