package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one processor account (one journal) synced into its own ledger.
type Account struct {
	ID              string
	Name            string
	APIKey          string
	BalanceID       string
	Currency        string
	StartingBalance decimal.Decimal
	SyncFrom        time.Time
}

// Cursor is the per-account sync position. It is returned by a run and must be
// persisted by the caller only after the run committed.
type Cursor struct {
	AccountID                string
	LastSettlementID         string
	LastBalanceTransactionID string
	LastSyncAt               time.Time
}
