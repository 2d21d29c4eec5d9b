package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type StatementCreated struct {
	StatementID    string          `json:"statement_id"`
	AccountID      string          `json:"account_id"`
	SettlementID   string          `json:"settlement_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	LineCount      int             `json:"line_count"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type StatementRechecked struct {
	StatementID    string          `json:"statement_id"`
	AccountID      string          `json:"account_id"`
	SettlementID   string          `json:"settlement_id"`
	LinesAdded     int             `json:"lines_added"`
	LinesRemoved   int             `json:"lines_removed"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type ContinuityViolationRaised struct {
	AccountID    string          `json:"account_id"`
	SettlementID string          `json:"settlement_id"`
	Discrepancy  decimal.Decimal `json:"discrepancy"`
	Tolerance    decimal.Decimal `json:"tolerance"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

type QueueEnqueued struct {
	AccountID                string    `json:"account_id"`
	Entries                  int       `json:"entries"`
	LastBalanceTransactionID string    `json:"last_balance_transaction_id"`
	OccurredAt               time.Time `json:"occurred_at"`
}

type LineMaterialized struct {
	LineID               string          `json:"line_id"`
	QueueEntryID         string          `json:"queue_entry_id"`
	AccountID            string          `json:"account_id"`
	BalanceTransactionID string          `json:"balance_transaction_id"`
	Amount               decimal.Decimal `json:"amount"`
	ReasonOfException    string          `json:"reason_of_exception,omitempty"`
	OccurredAt           time.Time       `json:"occurred_at"`
}

// LineReconciled is published by downstream accounting and consumed here.
type LineReconciled struct {
	LineID     string    `json:"line_id"`
	Reconciled bool      `json:"reconciled"`
	OccurredAt time.Time `json:"occurred_at"`
}
