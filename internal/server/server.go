// Package server exposes the processor webhook and read access to the ledger over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ingest"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/queue"
)

// AccountLookup resolves a configured account by id.
type AccountLookup func(id string) (models.Account, error)

type Server struct {
	service  *ingest.Service
	queue    *queue.Queue
	store    interfaces.LedgerStore
	accounts AccountLookup
	logger   *zap.Logger
}

func New(service *ingest.Service, q *queue.Queue, store interfaces.LedgerStore, accounts AccountLookup, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{service: service, queue: q, store: store, accounts: accounts, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/webhook", s.webhook)
	mux.HandleFunc("/statements", s.statements)
	mux.HandleFunc("/queue", s.queueEntries)
	mux.HandleFunc("/orders", s.order)

	return mux
}

// webhook refreshes the payment named in the processor's callback.
// The processor only sends the id; everything else is fetched.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	account, ok := s.account(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	id := r.PostForm.Get("id")
	if id == "" {
		http.Error(w, "id is a mandatory field", http.StatusBadRequest)
		return
	}

	res, err := s.service.Refresh(r.Context(), account, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ID    string `json:"id"`
		Found bool   `json:"found"`
	}{ID: id, Found: res.Found})
}

// order returns the metadata and billing address of the order named by id.
func (s *Server) order(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, ok := s.account(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is a mandatory field", http.StatusBadRequest)
		return
	}

	info, err := s.service.Order(r.Context(), account, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type lineView struct {
	ID                    string          `json:"id"`
	Kind                  models.LineKind `json:"kind"`
	Date                  string          `json:"date"`
	Memo                  string          `json:"memo"`
	Ref                   string          `json:"ref,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	ExternalTransactionID string          `json:"external_transaction_id,omitempty"`
	OwningPartnerID       string          `json:"owning_partner_id,omitempty"`
	Reconciled            bool            `json:"reconciled"`
}

func viewLine(l models.LedgerLine) lineView {
	return lineView{
		ID:                    l.ID,
		Kind:                  l.Kind,
		Date:                  l.Date.Format("2006-01-02"),
		Memo:                  l.Memo,
		Ref:                   l.Ref,
		Amount:                l.Amount,
		ExternalTransactionID: l.ExternalTransactionID,
		OwningPartnerID:       l.OwningPartnerID,
		Reconciled:            l.Reconciled,
	}
}

type statementView struct {
	ID             string          `json:"id"`
	SettlementID   string          `json:"settlement_id"`
	Reference      string          `json:"reference"`
	Date           string          `json:"date"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Discrepancy    decimal.Decimal `json:"discrepancy"`
	Lines          []lineView      `json:"lines"`
}

func (s *Server) statements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	account, ok := s.account(w, r)
	if !ok {
		return
	}

	stmts, err := s.store.ListStatements(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]statementView, 0, len(stmts))
	for _, st := range stmts {
		v := statementView{
			ID:             st.ID,
			SettlementID:   st.ExternalSettlementID,
			Reference:      st.Reference,
			Date:           st.Date.Format("2006-01-02"),
			OpeningBalance: st.OpeningBalance,
			ClosingBalance: st.ClosingBalance,
			Discrepancy:    st.Discrepancy(),
			Lines:          make([]lineView, 0, len(st.Lines)),
		}
		for _, l := range st.Lines {
			v.Lines = append(v.Lines, viewLine(l))
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type entryView struct {
	ID                   string            `json:"id"`
	BalanceTransactionID string            `json:"balance_transaction_id"`
	Leg                  models.QueueLeg   `json:"leg"`
	PaymentRef           string            `json:"payment_ref"`
	Amount               decimal.Decimal   `json:"amount"`
	Date                 string            `json:"date"`
	State                models.QueueState `json:"state"`
	ReasonOfException    string            `json:"reason_of_exception,omitempty"`
	Line                 *lineView         `json:"line,omitempty"`
}

// queueEntries lists an account's entries on GET and deletes one by id on DELETE.
func (s *Server) queueEntries(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listQueue(w, r)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		if err := s.queue.Delete(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	account, ok := s.account(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	entries, err := s.store.ListQueueEntries(ctx, account.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		_, line, err := s.store.GetQueueEntry(ctx, e.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		v := entryView{
			ID:                   e.ID,
			BalanceTransactionID: e.BalanceTransactionID,
			Leg:                  e.Leg,
			PaymentRef:           e.PaymentRef,
			Amount:               e.Amount,
			Date:                 e.Date.Format("2006-01-02"),
			State:                models.StateOf(line),
			ReasonOfException:    e.ReasonOfException,
		}
		if line != nil {
			lv := viewLine(*line)
			v.Line = &lv
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
		return models.Account{}, false
	}
	account, err := s.accounts(accountID)
	if err != nil {
		s.writeError(w, err)
		return models.Account{}, false
	}
	return account, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		stateErr *models.StateViolation
		validErr *models.ValidationError
	)
	switch {
	case errors.As(err, &stateErr):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &validErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
