package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// DefaultTolerance is the largest discrepancy absorbed by a rounding line.
var DefaultTolerance = decimal.RequireFromString("0.05")

// LineBuilder turns classified transactions and settlement fees into statement lines.
type LineBuilder struct {
	provider  string
	tolerance decimal.Decimal
	newID     func() string
}

func NewLineBuilder(provider string, tolerance decimal.Decimal) *LineBuilder {
	if tolerance.IsNegative() {
		tolerance = tolerance.Neg()
	}
	return &LineBuilder{provider: provider, tolerance: tolerance, newID: uuid.NewString}
}

func (b *LineBuilder) Tolerance() decimal.Decimal { return b.tolerance }

type BuildInput struct {
	AccountID    string
	Settlement   models.Settlement
	Transactions []models.ExternalTransaction
	Opening      decimal.Decimal
}

// Build emits, in this order: transaction lines, fee lines, the transfer
// counter-line and, when the statement is off by at most the tolerance, a
// rounding line. Consumers rely on that order.
func (b *LineBuilder) Build(in BuildInput) []models.LedgerLine {
	lines := b.TransactionLines(in.AccountID, in.Transactions)
	lines = append(lines, b.FeeLines(in.AccountID, in.Settlement.Fees)...)
	lines = append(lines, b.TransferLine(in.AccountID, in.Settlement))
	if rounding, ok := b.RoundingLine(in.AccountID, in.Opening, lines); ok {
		lines = append(lines, rounding)
	}
	return lines
}

func (b *LineBuilder) TransactionLines(accountID string, txs []models.ExternalTransaction) []models.LedgerLine {
	lines := make([]models.LedgerLine, 0, len(txs))
	for _, tx := range txs {
		lines = append(lines, models.LedgerLine{
			ID:                    b.newID(),
			AccountID:             accountID,
			Kind:                  models.LineTransaction,
			Date:                  day(tx.CreatedAt),
			Memo:                  tx.Memo,
			Ref:                   tx.Description,
			Amount:                tx.SettlementAmount.Value,
			ExternalTransactionID: tx.ExternalID,
			OwningPartnerID:       tx.OwnerPartnerID,
			Info:                  tx.Info(),
		})
	}
	return lines
}

func (b *LineBuilder) FeeLines(accountID string, fees models.FeeSchedule) []models.LedgerLine {
	lines := make([]models.LedgerLine, 0, len(fees))
	for _, fee := range fees {
		name := FeeLabel(fee)
		lines = append(lines, models.LedgerLine{
			ID:        b.newID(),
			AccountID: accountID,
			Kind:      models.LineFee,
			Date:      time.Date(fee.Year, time.Month(fee.Month), 1, 0, 0, 0, 0, time.UTC),
			Memo:      name,
			Ref:       name,
			Amount:    fee.AmountGross.Neg(),
		})
	}
	return lines
}

// FeeLabel names a fee line: "Fees <description> (<count> payment(s))".
func FeeLabel(fee models.FeeEntry) string {
	plural := ""
	if fee.Count > 1 {
		plural = "s"
	}
	return fmt.Sprintf("Fees %s (%d payment%s)", fee.Description, fee.Count, plural)
}

// TransferLine is the placeholder for the payout leaving the processor balance.
// A person later books the matching bank transfer against it.
func (b *LineBuilder) TransferLine(accountID string, s models.Settlement) models.LedgerLine {
	ref := fmt.Sprintf("%s PAYMENTS REF %s", strings.ToUpper(b.provider), s.Reference)
	return models.LedgerLine{
		ID:        b.newID(),
		AccountID: accountID,
		Kind:      models.LineTransfer,
		Date:      day(s.CreatedAt),
		Memo:      ref + " (for Internal Transfer)",
		Ref:       ref,
		Amount:    s.Amount.Value.Neg(),
	}
}

// RoundingLine returns the correction for d = opening - closing when
// 0 < |d| <= tolerance. Larger discrepancies are left visible.
func (b *LineBuilder) RoundingLine(accountID string, opening decimal.Decimal, lines []models.LedgerLine) (models.LedgerLine, bool) {
	closing := opening
	for _, l := range lines {
		closing = closing.Add(l.Amount)
	}
	d := opening.Sub(closing)
	if !b.Absorbs(d) || len(lines) == 0 {
		return models.LedgerLine{}, false
	}

	label := cases.Title(language.Und).String(b.provider) + " rounding difference"
	return models.LedgerLine{
		ID:        b.newID(),
		AccountID: accountID,
		Kind:      models.LineRounding,
		Date:      lines[len(lines)-1].Date,
		Memo:      label,
		Ref:       label,
		Amount:    d,
	}, true
}

// Absorbs reports whether d is a non-zero discrepancy within tolerance.
func (b *LineBuilder) Absorbs(d decimal.Decimal) bool {
	return !d.IsZero() && d.Abs().LessThanOrEqual(b.tolerance)
}

// ApplyRounding drops any rounding line, recomputes the closing balance and
// derives the rounding line again from scratch. An existing rounding line keeps its id.
func (b *LineBuilder) ApplyRounding(stmt *models.Statement) {
	var previous *models.LedgerLine
	kept := stmt.Lines[:0:0]
	for i := range stmt.Lines {
		if stmt.Lines[i].Kind == models.LineRounding {
			previous = &stmt.Lines[i]
			continue
		}
		kept = append(kept, stmt.Lines[i])
	}
	stmt.Lines = kept

	if rounding, ok := b.RoundingLine(stmt.AccountID, stmt.OpeningBalance, stmt.Lines); ok {
		if previous != nil {
			rounding.ID = previous.ID
		}
		rounding.StatementID = stmt.ID
		stmt.Lines = append(stmt.Lines, rounding)
	}
	stmt.Recompute()
}

// Enrichment is what a payment lookup adds to a queue entry's line.
type Enrichment struct {
	Memo            string
	OwningPartnerID string
	Info            map[string]any
}

// QueueLine builds the single line materialized for a queue entry.
func (b *LineBuilder) QueueLine(entry models.QueueEntry, enrich Enrichment) models.LedgerLine {
	memo := entry.PaymentRef
	if enrich.Memo != "" {
		memo = enrich.Memo
	}
	return models.LedgerLine{
		ID:                    b.newID(),
		AccountID:             entry.AccountID,
		QueueEntryID:          entry.ID,
		Kind:                  models.LineBalance,
		Date:                  day(entry.Date),
		Memo:                  memo,
		Ref:                   entry.TypeCode,
		Amount:                entry.Amount,
		ExternalTransactionID: entry.TransactionID,
		OwningPartnerID:       enrich.OwningPartnerID,
		Info:                  enrich.Info,
	}
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
