// Package ledger builds statement lines and assembles them into statements
// whose balances chain from one settlement to the next.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	modelevents "github.com/sheikh-saqib/settlement-ledger-sync/internal/models/events"
)

// Assembler persists at most one statement per settlement and keeps the
// opening balance of each statement equal to the previous closing balance.
type Assembler struct {
	store     interfaces.StatementStore
	builder   *LineBuilder
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewAssembler(store interfaces.StatementStore, builder *LineBuilder, publisher interfaces.EventPublisher, logger *zap.Logger) *Assembler {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		store:     store,
		builder:   builder,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type AssembleInput struct {
	Settlement   models.Settlement
	Transactions []models.ExternalTransaction
}

type AssembleResult struct {
	Statement *models.Statement
	// Created is false when the settlement already had a statement.
	Created bool
	// Violation is set when the statement does not net out within tolerance.
	Violation *models.ContinuityViolation
}

// Assemble creates the statement for a settlement. Re-assembling an already
// ingested settlement is a no-op.
func (a *Assembler) Assemble(ctx context.Context, account models.Account, in AssembleInput) (AssembleResult, error) {
	settlementID := in.Settlement.ID
	logger := a.logger.With(zap.String("account_id", account.ID), zap.String("settlement_id", settlementID))

	exists, err := a.store.StatementExists(ctx, account.ID, settlementID)
	if err != nil {
		return AssembleResult{}, fmt.Errorf("check statement %s: %w", settlementID, err)
	}
	if exists {
		logger.Debug("statement already exists")
		return AssembleResult{}, nil
	}

	opening, err := a.openingBalance(ctx, account)
	if err != nil {
		return AssembleResult{}, err
	}

	stmt := &models.Statement{
		ID:                   uuid.NewString(),
		AccountID:            account.ID,
		ExternalSettlementID: settlementID,
		Reference:            in.Settlement.Reference,
		Date:                 day(in.Settlement.CreatedAt),
		OpeningBalance:       opening,
		ReportedAmount:       in.Settlement.Amount.Value,
		Lines: a.builder.Build(BuildInput{
			AccountID:    account.ID,
			Settlement:   in.Settlement,
			Transactions: in.Transactions,
			Opening:      opening,
		}),
	}
	for i := range stmt.Lines {
		stmt.Lines[i].StatementID = stmt.ID
	}
	stmt.Recompute()

	if err := a.store.CreateStatement(ctx, stmt); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			logger.Info("statement created concurrently, skipping")
			return AssembleResult{}, nil
		}
		return AssembleResult{}, fmt.Errorf("create statement %s: %w", settlementID, err)
	}

	logger.Info("statement created",
		zap.Int("lines", len(stmt.Lines)),
		zap.String("opening", stmt.OpeningBalance.StringFixed(2)),
		zap.String("closing", stmt.ClosingBalance.StringFixed(2)))

	a.publish(ctx, events.TopicStatementCreated, account.ID, modelevents.StatementCreated{
		StatementID:    stmt.ID,
		AccountID:      account.ID,
		SettlementID:   settlementID,
		OpeningBalance: stmt.OpeningBalance,
		ClosingBalance: stmt.ClosingBalance,
		LineCount:      len(stmt.Lines),
		OccurredAt:     a.now(),
	})

	result := AssembleResult{Statement: stmt, Created: true}
	result.Violation = a.checkContinuity(ctx, stmt)
	return result, nil
}

func (a *Assembler) openingBalance(ctx context.Context, account models.Account) (decimal.Decimal, error) {
	last, err := a.store.LastStatement(ctx, account.ID)
	if errors.Is(err, models.ErrNotFound) {
		return account.StartingBalance, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load previous statement: %w", err)
	}
	return last.ClosingBalance, nil
}

// checkContinuity reports and publishes a discrepancy the rounding line could not absorb.
func (a *Assembler) checkContinuity(ctx context.Context, stmt *models.Statement) *models.ContinuityViolation {
	d := stmt.Discrepancy()
	if d.IsZero() || a.builder.Absorbs(d) {
		return nil
	}
	violation := &models.ContinuityViolation{
		AccountID:    stmt.AccountID,
		SettlementID: stmt.ExternalSettlementID,
		Opening:      stmt.OpeningBalance,
		Closing:      stmt.ClosingBalance,
		Discrepancy:  d,
		Tolerance:    a.builder.Tolerance(),
	}
	a.logger.Warn("statement left with unresolved discrepancy",
		zap.String("account_id", stmt.AccountID),
		zap.String("settlement_id", stmt.ExternalSettlementID),
		zap.String("discrepancy", d.StringFixed(2)))
	a.publish(ctx, events.TopicContinuityViolation, stmt.AccountID, modelevents.ContinuityViolationRaised{
		AccountID:    stmt.AccountID,
		SettlementID: stmt.ExternalSettlementID,
		Discrepancy:  d,
		Tolerance:    a.builder.Tolerance(),
		OccurredAt:   a.now(),
	})
	return violation
}

// publish never fails the caller: the ledger write has already committed.
func (a *Assembler) publish(ctx context.Context, topic, key string, event any) {
	if err := a.publisher.Publish(ctx, topic, key, event); err != nil {
		a.logger.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
	}
}

// RecheckBatch is a freshly fetched settlement and its classified transactions.
type RecheckBatch struct {
	Settlement   models.Settlement
	Transactions []models.ExternalTransaction
}

type RecheckReport struct {
	Updated      []string
	LinesAdded   int
	LinesRemoved int
	// LinesRepriced counts unreconciled lines whose settled amount changed,
	// as happens when a foreign-currency payment is converted again.
	LinesRepriced int
	// KeptReconciled lists stale lines left in place because they are reconciled.
	KeptReconciled []string
	Violations     []*models.ContinuityViolation
}

// Recheck re-derives every statement of the account in chronological order.
//
// Statements with a fresh batch lose unreconciled lines whose external id is
// no longer reported and gain lines for ids they lack. Every statement then
// takes the previous closing balance as opening and gets its rounding line
// recomputed, so a change cascades into all later statements.
func (a *Assembler) Recheck(ctx context.Context, account models.Account, fresh map[string]RecheckBatch) (RecheckReport, error) {
	stmts, err := a.store.ListStatements(ctx, account.ID)
	if err != nil {
		return RecheckReport{}, fmt.Errorf("list statements: %w", err)
	}

	var report RecheckReport
	previous := account.StartingBalance
	for i := range stmts {
		stmt := &stmts[i]
		before := fingerprint(stmt)

		added, removed, repriced := 0, 0, 0
		if batch, ok := fresh[stmt.ExternalSettlementID]; ok {
			added, removed, repriced = a.resync(stmt, batch, &report)
		}
		stmt.OpeningBalance = previous
		a.builder.ApplyRounding(stmt)
		previous = stmt.ClosingBalance

		if fingerprint(stmt) == before {
			continue
		}
		if err := a.store.UpdateStatement(ctx, stmt); err != nil {
			return report, fmt.Errorf("update statement %s: %w", stmt.ExternalSettlementID, err)
		}
		report.Updated = append(report.Updated, stmt.ExternalSettlementID)
		report.LinesAdded += added
		report.LinesRemoved += removed
		report.LinesRepriced += repriced

		a.publish(ctx, events.TopicStatementRechecked, account.ID, modelevents.StatementRechecked{
			StatementID:    stmt.ID,
			AccountID:      account.ID,
			SettlementID:   stmt.ExternalSettlementID,
			LinesAdded:     added,
			LinesRemoved:   removed,
			ClosingBalance: stmt.ClosingBalance,
			OccurredAt:     a.now(),
		})
		if v := a.checkContinuity(ctx, stmt); v != nil {
			report.Violations = append(report.Violations, v)
		}
	}

	a.logger.Info("statements rechecked",
		zap.String("account_id", account.ID),
		zap.Int("statements", len(stmts)),
		zap.Int("updated", len(report.Updated)))
	return report, nil
}

// resync diffs the statement's transaction lines against a fresh batch.
// New transaction lines go after the existing ones, ahead of fee and transfer
// lines. Unreconciled lines take the fresh settled amount.
func (a *Assembler) resync(stmt *models.Statement, batch RecheckBatch, report *RecheckReport) (added, removed, repriced int) {
	freshByID := make(map[string]models.ExternalTransaction, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		freshByID[tx.ExternalID] = tx
	}

	var txLines, otherLines []models.LedgerLine
	present := make(map[string]struct{})
	for _, line := range stmt.Lines {
		if line.ExternalTransactionID == "" {
			otherLines = append(otherLines, line)
			continue
		}
		tx, ok := freshByID[line.ExternalTransactionID]
		switch {
		case !ok && line.Reconciled:
			report.KeptReconciled = append(report.KeptReconciled, line.ID)
		case !ok:
			removed++
			continue
		case !line.Reconciled && !line.Amount.Equal(tx.SettlementAmount.Value):
			line.Amount = tx.SettlementAmount.Value
			repriced++
		}
		present[line.ExternalTransactionID] = struct{}{}
		txLines = append(txLines, line)
	}

	var missing []models.ExternalTransaction
	for _, tx := range batch.Transactions {
		if _, ok := present[tx.ExternalID]; !ok {
			missing = append(missing, tx)
		}
	}
	newLines := a.builder.TransactionLines(stmt.AccountID, missing)
	for i := range newLines {
		newLines[i].StatementID = stmt.ID
	}

	lines := make([]models.LedgerLine, 0, len(txLines)+len(newLines)+len(otherLines))
	lines = append(lines, txLines...)
	lines = append(lines, newLines...)
	lines = append(lines, otherLines...)
	stmt.Lines = lines
	return len(newLines), removed, repriced
}

func fingerprint(stmt *models.Statement) string {
	var b strings.Builder
	b.WriteString(stmt.OpeningBalance.String())
	b.WriteByte('|')
	b.WriteString(stmt.ClosingBalance.String())
	for _, l := range stmt.Lines {
		b.WriteByte('|')
		b.WriteString(l.ID)
		b.WriteByte(':')
		b.WriteString(l.Amount.String())
	}
	return b.String()
}
