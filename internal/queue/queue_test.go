package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/classifier"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage/memory"
)

// paymentFeed only answers payment lookups.
type paymentFeed struct {
	interfaces.FeedClient
	payments map[string]*feed.Payment
	err      error
	calls    int
}

func (f *paymentFeed) Payment(_ context.Context, id string) (*feed.Payment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, feed.ErrNotFound
	}
	return p, nil
}

var account = models.Account{ID: "acc_1"}

func newQueue(t *testing.T, client *paymentFeed) (*Queue, *memory.MemoryLedgerStore, *events.Recorder) {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	rec := &events.Recorder{}
	feeds := interfaces.FeedClientProviderFunc(func(models.Account) interfaces.FeedClient { return client })
	q := New(store, feeds,
		classifier.New("mollie", store, nil),
		ledger.NewLineBuilder("mollie", ledger.DefaultTolerance),
		rec, nil)
	return q, store, rec
}

func movement(id, typeCode, amount string, deductions string, ctx map[string]string) models.ExternalTransaction {
	tx := models.ExternalTransaction{
		ExternalID:       id,
		Kind:             models.KindBalanceMovement,
		TypeCode:         typeCode,
		CreatedAt:        time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		SettlementAmount: models.Money{Value: decimal.RequireFromString(amount), Currency: "EUR"},
		Context:          ctx,
		TransactionID:    classifier.TransactionID(typeCode, ctx),
	}
	if deductions != "" {
		tx.Deductions = &models.Money{Value: decimal.RequireFromString(deductions), Currency: "EUR"}
	}
	return tx
}

func TestEntries_AmountAndDeductionLegs(t *testing.T) {
	txs := []models.ExternalTransaction{
		movement("baltr_1", "payment", "10.00", "-0.29", map[string]string{"paymentId": "tr_1"}),
		movement("baltr_2", "payment", "0.00", "", map[string]string{"paymentId": "tr_2"}),
		movement("baltr_3", "refund", "-4.00", "0", map[string]string{"refundId": "re_1", "paymentId": "tr_1"}),
	}

	entries := Entries(account.ID, txs)
	require.Len(t, entries, 3)

	assert.Equal(t, models.LegAmount, entries[0].Leg)
	assert.Equal(t, "10", entries[0].Amount.String())
	assert.Equal(t, "tr_1", entries[0].TransactionID)
	assert.Equal(t, "tr_1", entries[0].Context["paymentId"])

	assert.Equal(t, models.LegDeductions, entries[1].Leg)
	assert.Equal(t, "-0.29", entries[1].Amount.String())
	assert.Equal(t, "deductions : payment #tr_1", entries[1].PaymentRef)
	assert.Nil(t, entries[1].Context)

	assert.Equal(t, "baltr_3", entries[2].BalanceTransactionID)
	assert.Equal(t, "re_1", entries[2].TransactionID)
}

func TestLifecycle_NotCreatedCreatedReconciled(t *testing.T) {
	client := &paymentFeed{payments: map[string]*feed.Payment{
		"tr_1": {ID: "tr_1", Description: "Order 12", OrderID: "ord_1", Metadata: map[string]any{"ref": "A1"}},
	}}
	q, store, rec := newQueue(t, client)
	ctx := context.Background()
	store.RegisterTransactionOwner("mollie", "tr_1", "partner_9")

	entries := Entries(account.ID, []models.ExternalTransaction{
		movement("baltr_1", "payment", "10.00", "", map[string]string{"paymentId": "tr_1"}),
	})
	n, err := q.Enqueue(ctx, account.ID, entries)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, rec.Topic(events.TopicQueueEnqueued), 1)

	id := entries[0].ID
	state, err := q.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueNotCreated, state)

	report, err := q.Materialize(ctx, []models.Account{account}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, report.Exceptions)

	_, line, err := store.GetQueueEntry(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, "partner_9", line.OwningPartnerID)
	assert.Equal(t, "ord_1", line.Info["order_id"])
	assert.Equal(t, "A1", line.Info["ref"])
	assert.Equal(t, "baltr_1", line.Info["balance_transaction_id"])
	assert.Equal(t, "10", line.Amount.String())
	assert.Len(t, rec.Topic(events.TopicLineMaterialized), 1)

	state, err = q.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueCreated, state)

	require.NoError(t, q.ObserveReconciliation(ctx, line.ID, true))
	state, err = q.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueReconciled, state)

	err = q.Delete(ctx, id)
	var sv *models.StateViolation
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, models.QueueReconciled, sv.State)
}

func TestEnqueue_IgnoresAlreadyQueued(t *testing.T) {
	q, _, _ := newQueue(t, &paymentFeed{})
	ctx := context.Background()
	txs := []models.ExternalTransaction{movement("baltr_1", "payment", "1.00", "-0.10", nil)}

	n, err := q.Enqueue(ctx, account.ID, Entries(account.ID, txs))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = q.Enqueue(ctx, account.ID, Entries(account.ID, txs))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaterialize_EnrichmentFailureIsRecorded(t *testing.T) {
	client := &paymentFeed{payments: map[string]*feed.Payment{}}
	q, store, _ := newQueue(t, client)
	ctx := context.Background()

	entries := Entries(account.ID, []models.ExternalTransaction{
		movement("baltr_1", "payment", "10.00", "", map[string]string{"paymentId": "tr_missing"}),
		movement("baltr_2", "payment", "5.00", "", nil),
	})
	_, err := q.Enqueue(ctx, account.ID, entries)
	require.NoError(t, err)

	report, err := q.Materialize(ctx, []models.Account{account}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Exceptions, 1)
	assert.Equal(t, "payment tr_missing not found", report.Exceptions[0].Reason)

	entry, line, err := store.GetQueueEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, "payment tr_missing not found", entry.ReasonOfException)
	assert.Equal(t, "payment", line.Memo)
}

func TestMaterialize_TransportErrorBecomesReason(t *testing.T) {
	client := &paymentFeed{err: &models.TransportError{Op: "GET", URL: "payments/tr_1", Err: errors.New("connection reset")}}
	q, _, _ := newQueue(t, client)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, account.ID, Entries(account.ID, []models.ExternalTransaction{
		movement("baltr_1", "payment", "10.00", "-0.25", map[string]string{"paymentId": "tr_1"}),
	}))
	require.NoError(t, err)

	report, err := q.Materialize(ctx, []models.Account{account}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Exceptions, 1)
	assert.Contains(t, report.Exceptions[0].Reason, "connection reset")
	assert.Equal(t, 1, client.calls)
}

func TestMaterialize_BatchSizeAndUnknownAccounts(t *testing.T) {
	q, _, _ := newQueue(t, &paymentFeed{})
	ctx := context.Background()
	other := models.Account{ID: "acc_2"}

	_, err := q.Enqueue(ctx, account.ID, Entries(account.ID, []models.ExternalTransaction{
		movement("baltr_1", "payment", "1.00", "", nil),
		movement("baltr_2", "payment", "2.00", "", nil),
		movement("baltr_3", "payment", "3.00", "", nil),
	}))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, other.ID, Entries(other.ID, []models.ExternalTransaction{
		movement("baltr_9", "payment", "9.00", "", nil),
	}))
	require.NoError(t, err)

	report, err := q.Materialize(ctx, []models.Account{account}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)

	count, total, err := q.PendingTotal(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "3", total.String())

	report, err = q.Materialize(ctx, []models.Account{account, other}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Unknown)
}

func TestDelete_CreatedEntryRemovesLine(t *testing.T) {
	q, store, _ := newQueue(t, &paymentFeed{})
	ctx := context.Background()
	entries := Entries(account.ID, []models.ExternalTransaction{movement("baltr_1", "payment", "1.00", "", nil)})
	_, err := q.Enqueue(ctx, account.ID, entries)
	require.NoError(t, err)
	_, err = q.Materialize(ctx, []models.Account{account}, 10)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, entries[0].ID))
	_, _, err = store.GetQueueEntry(ctx, entries[0].ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, q.Delete(ctx, "missing"), models.ErrNotFound)
}
