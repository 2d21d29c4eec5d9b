// Package queue holds balance movements until they become ledger lines.
//
// An entry's state is never stored: it is derived from the line linked to it.
//
//	not_created --line written--> created --reconciled downstream--> reconciled
//
// Only the first transition is caused here. Reconciled entries cannot be deleted.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/classifier"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	modelevents "github.com/sheikh-saqib/settlement-ledger-sync/internal/models/events"
)

const DefaultBatchSize = 100

type Store interface {
	interfaces.QueueStore
	interfaces.LineStore
}

type Queue struct {
	store      Store
	feeds      interfaces.FeedClientProvider
	classifier *classifier.Classifier
	builder    *ledger.LineBuilder
	publisher  interfaces.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func New(store Store, feeds interfaces.FeedClientProvider, cls *classifier.Classifier, builder *ledger.LineBuilder, publisher interfaces.EventPublisher, logger *zap.Logger) *Queue {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:      store,
		feeds:      feeds,
		classifier: cls,
		builder:    builder,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// Entries turns chronologically ordered balance movements into queue entries.
// A movement yields an amount entry unless its amount is zero, and a
// deductions entry when the processor withheld fees.
func Entries(accountID string, txs []models.ExternalTransaction) []models.QueueEntry {
	var out []models.QueueEntry
	for _, tx := range txs {
		if !tx.SettlementAmount.Value.IsZero() {
			out = append(out, models.QueueEntry{
				ID:                   uuid.NewString(),
				AccountID:            accountID,
				BalanceTransactionID: tx.ExternalID,
				Leg:                  models.LegAmount,
				TransactionID:        tx.TransactionID,
				TypeCode:             tx.TypeCode,
				PaymentRef:           tx.TypeCode,
				Amount:               tx.SettlementAmount.Value,
				Date:                 tx.CreatedAt,
				Context:              tx.Context,
			})
		}
		if tx.Deductions != nil && !tx.Deductions.Value.IsZero() {
			out = append(out, models.QueueEntry{
				ID:                   uuid.NewString(),
				AccountID:            accountID,
				BalanceTransactionID: tx.ExternalID,
				Leg:                  models.LegDeductions,
				TransactionID:        tx.TransactionID,
				TypeCode:             tx.TypeCode,
				PaymentRef:           strings.Join([]string{"deductions :", tx.TypeCode, "#" + tx.TransactionID}, " "),
				Amount:               tx.Deductions.Value,
				Date:                 tx.CreatedAt,
			})
		}
	}
	return out
}

// Enqueue appends entries from one page walk. Entries already queued are ignored.
func (q *Queue) Enqueue(ctx context.Context, accountID string, entries []models.QueueEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	n, err := q.store.CreateQueueEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("enqueue %d entries: %w", len(entries), err)
	}

	q.logger.Info("queue entries enqueued",
		zap.String("account_id", accountID), zap.Int("received", len(entries)), zap.Int("inserted", n))
	q.publish(ctx, events.TopicQueueEnqueued, accountID, modelevents.QueueEnqueued{
		AccountID:                accountID,
		Entries:                  n,
		LastBalanceTransactionID: entries[len(entries)-1].BalanceTransactionID,
		OccurredAt:               q.now(),
	})
	return n, nil
}

// EntryException is an enrichment failure recorded on an entry.
type EntryException struct {
	EntryID              string
	BalanceTransactionID string
	Reason               string
}

type Report struct {
	Created    int
	Exceptions []EntryException
	// Unknown counts pending entries whose account was not passed in.
	Unknown int
}

// Materialize writes lines for up to batchSize of the oldest not_created entries
// of the given accounts. Enrichment failures are stored on the entry and
// reported; they never stop the rest of the batch.
func (q *Queue) Materialize(ctx context.Context, accounts []models.Account, batchSize int) (Report, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	byID := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	filter := ""
	if len(accounts) == 1 {
		filter = accounts[0].ID
	}

	pending, err := q.store.ListPendingQueueEntries(ctx, filter, batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list pending entries: %w", err)
	}

	var (
		report Report
		order  []string
		groups = make(map[string][]models.QueueEntry)
	)
	for _, e := range pending {
		if _, ok := byID[e.AccountID]; !ok {
			report.Unknown++
			continue
		}
		if _, ok := groups[e.AccountID]; !ok {
			order = append(order, e.AccountID)
		}
		groups[e.AccountID] = append(groups[e.AccountID], e)
	}

	for _, accountID := range order {
		if err := q.materializeAccount(ctx, byID[accountID], groups[accountID], &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (q *Queue) materializeAccount(ctx context.Context, account models.Account, entries []models.QueueEntry, report *Report) error {
	client := q.feeds.For(account)
	logger := q.logger.With(zap.String("account_id", account.ID))

	for _, entry := range entries {
		enrichment, reason := q.enrich(ctx, client, entry)
		entry.ReasonOfException = reason
		line := q.builder.QueueLine(entry, enrichment)

		if err := q.store.CreateQueueLine(ctx, entry, line); err != nil {
			if errors.Is(err, models.ErrDuplicate) {
				logger.Debug("queue entry already materialized", zap.String("entry_id", entry.ID))
				continue
			}
			return fmt.Errorf("write line for entry %s: %w", entry.ID, err)
		}
		report.Created++
		if reason != "" {
			report.Exceptions = append(report.Exceptions, EntryException{
				EntryID:              entry.ID,
				BalanceTransactionID: entry.BalanceTransactionID,
				Reason:               reason,
			})
			logger.Warn("queue entry enrichment failed",
				zap.String("entry_id", entry.ID), zap.String("reason", reason))
		}

		q.publish(ctx, events.TopicLineMaterialized, account.ID, modelevents.LineMaterialized{
			LineID:               line.ID,
			QueueEntryID:         entry.ID,
			AccountID:            account.ID,
			BalanceTransactionID: entry.BalanceTransactionID,
			Amount:               line.Amount,
			ReasonOfException:    reason,
			OccurredAt:           q.now(),
		})
	}

	logger.Info("queue entries materialized", zap.Int("entries", len(entries)))
	return nil
}

// enrich looks up the payment behind an amount entry. A failed lookup is
// returned as a reason, never as an error.
func (q *Queue) enrich(ctx context.Context, client interfaces.FeedClient, entry models.QueueEntry) (ledger.Enrichment, string) {
	if entry.Leg != models.LegAmount {
		return ledger.Enrichment{}, ""
	}

	info := map[string]any{
		"type":                   entry.TypeCode,
		"balance_transaction_id": entry.BalanceTransactionID,
	}
	for k, v := range entry.Context {
		info[k] = v
	}
	enrichment := ledger.Enrichment{Info: info}

	paymentID := entry.Context["paymentId"]
	if paymentID == "" {
		return enrichment, ""
	}

	payment, err := client.Payment(ctx, paymentID)
	if errors.Is(err, feed.ErrNotFound) {
		return enrichment, fmt.Sprintf("payment %s not found", paymentID)
	}
	if err != nil {
		return enrichment, err.Error()
	}

	metadata := classifier.MetadataMap(payment.Metadata)
	for k, v := range metadata {
		info[k] = v
	}
	if payment.OrderID != "" {
		info["order_id"] = payment.OrderID
	}
	enrichment.Memo = classifier.BalanceMemo(metadata, payment.Description, entry.TypeCode, payment.ID)
	enrichment.OwningPartnerID = q.classifier.Owner(ctx, payment.ID)
	return enrichment, ""
}

// State derives the entry's state from its line.
func (q *Queue) State(ctx context.Context, entryID string) (models.QueueState, error) {
	_, line, err := q.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	return models.StateOf(line), nil
}

// Delete removes a not_created or created entry, and its line if any.
func (q *Queue) Delete(ctx context.Context, entryID string) error {
	_, line, err := q.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if state := models.StateOf(line); state == models.QueueReconciled {
		return &models.StateViolation{EntryID: entryID, State: state, Op: "delete"}
	}
	if err := q.store.DeleteQueueEntry(ctx, entryID); err != nil {
		return fmt.Errorf("delete queue entry %s: %w", entryID, err)
	}
	q.logger.Info("queue entry deleted", zap.String("entry_id", entryID))
	return nil
}

// ObserveReconciliation records a reconciliation decided by downstream accounting.
func (q *Queue) ObserveReconciliation(ctx context.Context, lineID string, reconciled bool) error {
	if err := q.store.MarkLineReconciled(ctx, lineID, reconciled); err != nil {
		return fmt.Errorf("mark line %s reconciled=%t: %w", lineID, reconciled, err)
	}
	return nil
}

// PendingTotal sums the amounts of the account's not_created entries.
func (q *Queue) PendingTotal(ctx context.Context, accountID string) (int, decimal.Decimal, error) {
	pending, err := q.store.ListPendingQueueEntries(ctx, accountID, 0)
	if err != nil {
		return 0, decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range pending {
		total = total.Add(e.Amount)
	}
	return len(pending), total, nil
}

func (q *Queue) publish(ctx context.Context, topic, key string, event any) {
	if err := q.publisher.Publish(ctx, topic, key, event); err != nil {
		q.logger.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
	}
}
