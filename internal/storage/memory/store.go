package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex

	interfaces "github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"                // domain models
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It is thread-safe and keeps insertion order where the real store does.
type MemoryLedgerStore struct {
	mu         sync.Mutex                   // protects every map and slice below
	statements []models.Statement           // statements with their lines, insertion order
	entries    []models.QueueEntry          // queue entries, insertion order
	queueLines map[string]models.LedgerLine // queue entry id -> its line
	cursors    map[string]models.Cursor     // account id -> cursor
	owners     map[string]string            // provider + "/" + reference -> partner id
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		queueLines: make(map[string]models.LedgerLine),
		cursors:    make(map[string]models.Cursor),
		owners:     make(map[string]string),
	}
}

// RegisterTransactionOwner records that partnerID owns the processor transaction reference.
func (m *MemoryLedgerStore) RegisterTransactionOwner(provider, reference, partnerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[provider+"/"+reference] = partnerID
}

func (m *MemoryLedgerStore) FindTransactionOwner(_ context.Context, provider, reference string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.owners[provider+"/"+reference]
	return id, ok, nil
}

func (m *MemoryLedgerStore) StatementExists(_ context.Context, accountID, settlementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statementIndex(accountID, settlementID) >= 0, nil
}

func (m *MemoryLedgerStore) statementIndex(accountID, settlementID string) int {
	for i, s := range m.statements {
		if s.AccountID == accountID && s.ExternalSettlementID == settlementID {
			return i
		}
	}
	return -1
}

func (m *MemoryLedgerStore) CreateStatement(_ context.Context, stmt *models.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statementIndex(stmt.AccountID, stmt.ExternalSettlementID) >= 0 {
		return models.ErrDuplicate
	}
	m.statements = append(m.statements, storage.CloneStatement(*stmt))
	return nil
}

func (m *MemoryLedgerStore) UpdateStatement(_ context.Context, stmt *models.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.statementIndex(stmt.AccountID, stmt.ExternalSettlementID)
	if i < 0 {
		return models.ErrNotFound
	}
	m.statements[i] = storage.CloneStatement(*stmt)
	return nil
}

// ListStatements returns copies in creation order so callers can't modify internal state.
func (m *MemoryLedgerStore) ListStatements(_ context.Context, accountID string) ([]models.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listStatements(accountID), nil
}

func (m *MemoryLedgerStore) listStatements(accountID string) []models.Statement {
	var result []models.Statement
	for _, s := range m.statements {
		if s.AccountID == accountID {
			result = append(result, storage.CloneStatement(s))
		}
	}
	return result
}

func (m *MemoryLedgerStore) LastStatement(_ context.Context, accountID string) (*models.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stmts := m.listStatements(accountID)
	if len(stmts) == 0 {
		return nil, models.ErrNotFound
	}
	return &stmts[len(stmts)-1], nil
}

func (m *MemoryLedgerStore) CreateQueueEntries(_ context.Context, entries []models.QueueEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, e := range entries {
		if m.queueEntryExists(e) {
			continue
		}
		m.entries = append(m.entries, e)
		inserted++
	}
	return inserted, nil
}

func (m *MemoryLedgerStore) queueEntryExists(e models.QueueEntry) bool {
	for _, existing := range m.entries {
		if existing.ID == e.ID ||
			(existing.AccountID == e.AccountID && existing.BalanceTransactionID == e.BalanceTransactionID && existing.Leg == e.Leg) {
			return true
		}
	}
	return false
}

func (m *MemoryLedgerStore) GetQueueEntry(_ context.Context, id string) (*models.QueueEntry, *models.LedgerLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.ID != id {
			continue
		}
		entry := e
		if line, ok := m.queueLines[id]; ok {
			l := storage.CloneLine(line)
			return &entry, &l, nil
		}
		return &entry, nil, nil
	}
	return nil, nil, models.ErrNotFound
}

// ListPendingQueueEntries returns entries without a line, oldest transaction date first.
func (m *MemoryLedgerStore) ListPendingQueueEntries(_ context.Context, accountID string, limit int) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []models.QueueEntry
	for _, e := range m.entries {
		if accountID != "" && e.AccountID != accountID {
			continue
		}
		if _, ok := m.queueLines[e.ID]; ok {
			continue
		}
		pending = append(pending, e)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Date.Before(pending[j].Date) })
	if limit = storage.ClampLimit(limit); len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryLedgerStore) ListQueueEntries(_ context.Context, accountID string) ([]models.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.QueueEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) CreateQueueLine(_ context.Context, entry models.QueueEntry, line models.LedgerLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.ID != entry.ID {
			continue
		}
		if _, ok := m.queueLines[entry.ID]; ok {
			return models.ErrDuplicate
		}
		m.entries[i].ReasonOfException = entry.ReasonOfException
		m.queueLines[entry.ID] = storage.CloneLine(line)
		return nil
	}
	return models.ErrNotFound
}

func (m *MemoryLedgerStore) DeleteQueueEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.ID != id {
			continue
		}
		line, hasLine := m.queueLines[id]
		if hasLine && line.Reconciled {
			return &models.StateViolation{EntryID: id, State: models.QueueReconciled, Op: "delete"}
		}
		delete(m.queueLines, id)
		m.entries = append(m.entries[:i], m.entries[i+1:]...)
		return nil
	}
	return models.ErrNotFound
}

// FindLineByExternalID searches statement lines first, then queue lines,
// preferring the amount leg.
func (m *MemoryLedgerStore) FindLineByExternalID(_ context.Context, accountID, externalID string) (*models.LedgerLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.statements {
		if s.AccountID != accountID {
			continue
		}
		for _, l := range s.Lines {
			if l.ExternalTransactionID == externalID {
				line := storage.CloneLine(l)
				return &line, nil
			}
		}
	}
	var deductions *models.LedgerLine
	for _, e := range m.entries {
		if e.AccountID != accountID {
			continue
		}
		l, ok := m.queueLines[e.ID]
		if !ok || l.ExternalTransactionID != externalID {
			continue
		}
		line := storage.CloneLine(l)
		if e.Leg != models.LegDeductions {
			return &line, nil
		}
		if deductions == nil {
			deductions = &line
		}
	}
	if deductions != nil {
		return deductions, nil
	}
	return nil, models.ErrNotFound
}

func (m *MemoryLedgerStore) UpdateLine(_ context.Context, line models.LedgerLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mutateLine(line.ID, func(l *models.LedgerLine) {
		reconciled := l.Reconciled
		*l = storage.CloneLine(line)
		l.Reconciled = reconciled
	})
}

func (m *MemoryLedgerStore) MarkLineReconciled(_ context.Context, lineID string, reconciled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mutateLine(lineID, func(l *models.LedgerLine) { l.Reconciled = reconciled })
}

func (m *MemoryLedgerStore) mutateLine(lineID string, fn func(*models.LedgerLine)) error {
	for i := range m.statements {
		for j := range m.statements[i].Lines {
			if m.statements[i].Lines[j].ID == lineID {
				fn(&m.statements[i].Lines[j])
				return nil
			}
		}
	}
	for id, l := range m.queueLines {
		if l.ID == lineID {
			fn(&l)
			m.queueLines[id] = l
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MemoryLedgerStore) LoadCursor(_ context.Context, accountID string) (models.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.cursors[accountID]; ok {
		return c, nil
	}
	return models.Cursor{AccountID: accountID}, nil
}

func (m *MemoryLedgerStore) SaveCursor(_ context.Context, cursor models.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursors[cursor.AccountID] = cursor
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
