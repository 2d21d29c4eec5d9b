package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/classifier"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ingest"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/queue"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage/memory"
)

type paymentFeed struct {
	interfaces.FeedClient
	payments map[string]*feed.Payment
	orders   map[string]*feed.Order
}

func (f *paymentFeed) Order(_ context.Context, id string) (*feed.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, feed.ErrNotFound
}

func (f *paymentFeed) Payment(_ context.Context, id string) (*feed.Payment, error) {
	if p, ok := f.payments[id]; ok {
		return p, nil
	}
	return nil, feed.ErrNotFound
}

var account = models.Account{ID: "acc_1"}

func lookup(id string) (models.Account, error) {
	if id == account.ID {
		return account, nil
	}
	return models.Account{}, models.ErrNotFound
}

func newServer(t *testing.T) (*httptest.Server, *memory.MemoryLedgerStore, *queue.Queue, *paymentFeed) {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	ff := &paymentFeed{payments: map[string]*feed.Payment{}, orders: map[string]*feed.Order{}}
	feeds := interfaces.FeedClientProviderFunc(func(models.Account) interfaces.FeedClient { return ff })
	cls := classifier.New("mollie", store, nil)
	builder := ledger.NewLineBuilder("mollie", ledger.DefaultTolerance)
	q := queue.New(store, feeds, cls, builder, nil, nil)
	svc := ingest.NewService(feeds, store, cls, ledger.NewAssembler(store, builder, nil, nil), q, nil, ingest.Options{}, nil)

	srv := httptest.NewServer(New(svc, q, store, lookup, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, store, q, ff
}

func seedStatement(t *testing.T, store *memory.MemoryLedgerStore) {
	t.Helper()
	require.NoError(t, store.CreateStatement(context.Background(), &models.Statement{
		ID: "s1", AccountID: account.ID, ExternalSettlementID: "stl_1",
		Date:           time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		ClosingBalance: decimal.NewFromInt(-10),
		Lines: []models.LedgerLine{{
			ID: "l1", AccountID: account.ID, StatementID: "s1", Kind: models.LineTransaction,
			Memo: "Order 1", Amount: decimal.NewFromInt(95), ExternalTransactionID: "tr_1",
		}},
	}))
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhook_RefreshesLine(t *testing.T) {
	srv, store, _, ff := newServer(t)
	seedStatement(t, store)
	store.RegisterTransactionOwner("mollie", "tr_1", "partner_1")
	ff.payments["tr_1"] = &feed.Payment{ID: "tr_1", Description: "Order 1 paid", OrderID: "ord_1"}

	resp, err := http.PostForm(srv.URL+"/webhook?account_id=acc_1", url.Values{"id": {"tr_1"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct{ Found bool }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Found)

	line, err := store.FindLineByExternalID(context.Background(), account.ID, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, "partner_1", line.OwningPartnerID)
	assert.Equal(t, "ord_1", line.Info["order_id"])
}

func TestWebhook_Validation(t *testing.T) {
	srv, _, _, _ := newServer(t)

	resp, err := http.PostForm(srv.URL+"/webhook", url.Values{"id": {"tr_1"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.PostForm(srv.URL+"/webhook?account_id=acc_9", url.Values{"id": {"tr_1"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/webhook?account_id=acc_1", "application/x-www-form-urlencoded", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/webhook?account_id=acc_1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOrders(t *testing.T) {
	srv, _, _, ff := newServer(t)
	ff.orders["ord_1"] = &feed.Order{
		ID:             "ord_1",
		Metadata:       map[string]any{"reference": "SO042"},
		BillingAddress: &feed.Address{GivenName: "Ada", FamilyName: "Lovelace"},
	}

	resp, err := http.Get(srv.URL + "/orders?account_id=acc_1&id=ord_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "SO042", body["reference"])
	assert.Equal(t, "Lovelace", body["familyName"])

	resp, err = http.Get(srv.URL + "/orders?account_id=acc_1&id=ord_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/orders?account_id=acc_1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatements(t *testing.T) {
	srv, store, _, _ := newServer(t)
	seedStatement(t, store)

	resp, err := http.Get(srv.URL + "/statements?account_id=acc_1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stmts []statementView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stmts))
	require.Len(t, stmts, 1)
	assert.Equal(t, "stl_1", stmts[0].SettlementID)
	assert.Equal(t, "10", stmts[0].Discrepancy.String())
	require.Len(t, stmts[0].Lines, 1)
	assert.Equal(t, "2024-03-04", stmts[0].Date)
}

func TestQueue_ListAndDelete(t *testing.T) {
	srv, store, q, _ := newServer(t)
	ctx := context.Background()

	entries := []models.QueueEntry{
		{ID: "q1", AccountID: account.ID, BalanceTransactionID: "baltr_1", Leg: models.LegAmount,
			TypeCode: "payment", PaymentRef: "payment", Amount: decimal.NewFromInt(10)},
		{ID: "q2", AccountID: account.ID, BalanceTransactionID: "baltr_2", Leg: models.LegAmount,
			TypeCode: "payment", PaymentRef: "payment", Amount: decimal.NewFromInt(5)},
	}
	_, err := q.Enqueue(ctx, account.ID, entries)
	require.NoError(t, err)
	_, err = q.Materialize(ctx, []models.Account{account}, 1)
	require.NoError(t, err)

	_, line, err := store.GetQueueEntry(ctx, "q1")
	require.NoError(t, err)
	require.NotNil(t, line)
	require.NoError(t, q.ObserveReconciliation(ctx, line.ID, true))

	resp, err := http.Get(srv.URL + "/queue?account_id=acc_1")
	require.NoError(t, err)
	var views []entryView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	resp.Body.Close()
	require.Len(t, views, 2)
	assert.Equal(t, models.QueueReconciled, views[0].State)
	assert.Equal(t, models.QueueNotCreated, views[1].State)

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/queue?id="+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusConflict, del("q1"))
	assert.Equal(t, http.StatusNoContent, del("q2"))
	assert.Equal(t, http.StatusNotFound, del("q2"))
}
