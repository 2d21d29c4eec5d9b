package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "ledgersync", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"sync", "pull", "drain", "recheck", "refresh", "order", "balances", "consume", "migrate"}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestAccountFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	assert.NotNil(t, syncCmd.Flags().Lookup("account"))
	assert.NotNil(t, syncCmd.Flags().Lookup("all"))

	cmd.SetArgs([]string{"sync"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute(), "an account selection is required")
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "migrate"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestForEachAccount_BoundedAndJoined(t *testing.T) {
	accounts := []models.Account{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	var running, peak atomic.Int32

	err := forEachAccount(context.Background(), accounts, 2, func(_ context.Context, acc models.Account) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer running.Add(-1)
		if acc.ID == "b" || acc.ID == "d" {
			return errors.New("boom")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "account b")
	assert.Contains(t, err.Error(), "account d")
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("x")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: ExitFailure, Message: "m"})))
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	page := func(key string, items any) map[string]any {
		raw, _ := json.Marshal(items)
		n := len(items.([]map[string]any))
		return map[string]any{"count": n, "_embedded": map[string]json.RawMessage{key: raw}, "_links": map[string]any{}}
	}
	routes := map[string]any{
		"/settlements": page("settlements", []map[string]any{{
			"id": "stl_1", "reference": "1234.01", "createdAt": "2024-03-04T09:00:00Z", "status": "paidout",
			"amount": map[string]string{"value": "10.00", "currency": "EUR"},
		}}),
		"/settlements/stl_1/payments": page("payments", []map[string]any{{
			"id": "tr_1", "status": "paid", "createdAt": "2024-03-01T09:00:00Z", "description": "Order 1",
			"settlementAmount": map[string]string{"value": "10.00", "currency": "EUR"},
		}}),
		"/settlements/stl_1/refunds":     page("refunds", []map[string]any{}),
		"/settlements/stl_1/captures":    page("captures", []map[string]any{}),
		"/settlements/stl_1/chargebacks": page("chargebacks", []map[string]any{}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/hal+json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncCommand_EndToEnd(t *testing.T) {
	srv := feedServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
store: memory
log:
  level: error
feed:
  base_url: %s
accounts:
  - id: acc_1
    api_key: test_key
`, srv.URL)), 0o600))

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "--format", "json", "sync", "--account", "acc_1"})
	require.NoError(t, cmd.Execute())

	var results map[string]struct {
		Created []string
		Cursor  models.Cursor
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	assert.Equal(t, []string{"stl_1"}, results["acc_1"].Created)
	assert.Equal(t, "stl_1", results["acc_1"].Cursor.LastSettlementID)
}
