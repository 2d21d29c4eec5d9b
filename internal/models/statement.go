package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement is the aggregate built for one processor settlement.
type Statement struct {
	ID                   string
	AccountID            string
	ExternalSettlementID string
	Reference            string
	Date                 time.Time
	OpeningBalance       decimal.Decimal
	ClosingBalance       decimal.Decimal
	ReportedAmount       decimal.Decimal
	Lines                []LedgerLine
}

// Total is the sum of all line amounts.
func (s *Statement) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// Recompute sets the closing balance from the opening balance and the lines.
func (s *Statement) Recompute() {
	s.ClosingBalance = s.OpeningBalance.Add(s.Total())
}

// Discrepancy is opening minus closing. A balanced statement nets to zero.
func (s *Statement) Discrepancy() decimal.Decimal {
	return s.OpeningBalance.Sub(s.ClosingBalance)
}

// LastLine returns the last line, or nil for an empty statement.
func (s *Statement) LastLine() *LedgerLine {
	if len(s.Lines) == 0 {
		return nil
	}
	return &s.Lines[len(s.Lines)-1]
}

// Settlement is a processor-side payout batch.
type Settlement struct {
	ID        string
	Reference string
	CreatedAt time.Time
	Status    string
	Amount    Money
	Fees      FeeSchedule
}

const (
	// SettlementPaidOut is the only settlement status that is turned into a statement.
	SettlementPaidOut = "paidout"
	// SettlementFailed is final: a failed settlement is never paid out.
	SettlementFailed = "failed"
)

// FeeEntry is one cost category of one settlement period.
type FeeEntry struct {
	Year        int
	Month       int
	Description string
	Count       int
	AmountGross decimal.Decimal
}

// FeeSchedule lists the period costs of a settlement, ordered by year, month.
type FeeSchedule []FeeEntry

// Total sums the gross amounts of every entry.
func (f FeeSchedule) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range f {
		total = total.Add(e.AmountGross)
	}
	return total
}
