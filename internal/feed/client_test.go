package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/v2", APIKey: "test_key", Timeout: 5 * time.Second}), srv
}

func TestClient_SendsBearerCredential(t *testing.T) {
	var auth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"count":0,"_embedded":{},"_links":{"next":null}}`)
	})

	_, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test_key", auth)
}

func TestClient_SettlementPaymentsFollowsNextLinks(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("from") {
		case "":
			fmt.Fprintf(w, `{"count":2,"_embedded":{"payments":[
				{"id":"tr_3","status":"paid","createdAt":"2024-03-03T10:00:00+00:00","settlementAmount":{"value":"30.00","currency":"EUR"}},
				{"id":"tr_2","status":"paid","createdAt":"2024-03-02T10:00:00+00:00","settlementAmount":{"value":"20.00","currency":"EUR"}}]},
				"_links":{"next":{"href":"%s/v2/settlements/stl_1/payments?from=tr_1"}}}`, srvURL)
		case "tr_1":
			fmt.Fprint(w, `{"count":1,"_embedded":{"payments":[
				{"id":"tr_1","status":"paid","createdAt":"2024-03-01T10:00:00+00:00","settlementAmount":{"value":"10.00","currency":"EUR"}}]},
				"_links":{"next":null}}`)
		}
	})
	srvURL = srv.URL

	payments, err := c.SettlementPayments(context.Background(), "stl_1")
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, []string{"tr_1", "tr_2", "tr_3"}, []string{payments[0].ID, payments[1].ID, payments[2].ID})
	assert.Equal(t, "10.00", payments[0].SettlementAmount.Value)
}

func TestClient_BalanceTransactionsStopsAtCursor(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v2/balances/bal_1/transactions", r.URL.Path)
		assert.Equal(t, "250", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"count":3,"_embedded":{"balance_transactions":[
			{"id":"baltr_3","type":"payment","createdAt":"2024-03-03T10:00:00+00:00","initialAmount":{"value":"3.00","currency":"EUR"},"context":{"paymentId":"tr_3"}},
			{"id":"baltr_2","type":"payment","createdAt":"2024-03-02T10:00:00+00:00","initialAmount":{"value":"2.00","currency":"EUR"},"context":{"paymentId":"tr_2"}},
			{"id":"baltr_1","type":"payment","createdAt":"2024-03-01T10:00:00+00:00","initialAmount":{"value":"1.00","currency":"EUR"},"context":{"paymentId":"tr_1"}}]},
			"_links":{"next":{"href":"never-fetched"}}}`)
	})

	txs, err := c.BalanceTransactions(context.Background(), "bal_1", 250, func(bt BalanceTransaction) bool {
		return bt.ID == "baltr_2"
	})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "baltr_3", txs[0].ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_PaymentNotFoundIsSoft(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404,"title":"Not Found"}`, http.StatusNotFound)
	})

	p, err := c.Payment(context.Background(), "tr_missing")
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_OrderLookup(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders/ord_1" {
			http.Error(w, `{"status":404}`, http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"id":"ord_1","orderNumber":"1337","metadata":{"reference":"SO042"},
			"billingAddress":{"givenName":"Ada","familyName":"Lovelace","city":"London","country":"GB"}}`)
	})

	o, err := c.Order(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "1337", o.OrderNumber)
	require.NotNil(t, o.BillingAddress)
	assert.Equal(t, "Lovelace", o.BillingAddress.FamilyName)

	o, err = c.Order(context.Background(), "ord_missing")
	assert.Nil(t, o)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ServerErrorIsTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.SettlementRefunds(context.Background(), "stl_1")

	var terr *models.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.True(t, strings.HasSuffix(terr.URL, "/v2/settlements/stl_1/refunds"))
}

func TestClient_MalformedBodyIsValidationError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":`)
	})

	_, err := c.Balances(context.Background())

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.Payment(context.Background(), "tr_1")
		require.Error(t, err)
	}
	_, err := c.Payment(context.Background(), "tr_1")

	var terr *models.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, terr.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the server")
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 10; i++ {
		_, err := c.Payment(context.Background(), "tr_x")
		require.True(t, errors.Is(err, ErrNotFound))
	}
}

func TestPool_ReusesClientPerAccount(t *testing.T) {
	p := NewPool(Config{BaseURL: "http://localhost"})

	a := p.For(models.Account{ID: "acc_1", APIKey: "k1"})
	b := p.For(models.Account{ID: "acc_1", APIKey: "k1"})
	other := p.For(models.Account{ID: "acc_2", APIKey: "k2"})

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, "k2", other.apiKey)
}
