package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (p *PostgresLedgerStore) StatementExists(ctx context.Context, accountID, settlementID string) (bool, error) {
	const query = `SELECT 1 FROM statements WHERE account_id = $1 AND external_settlement_id = $2 LIMIT 1`

	var exists int
	err := p.db.QueryRowContext(ctx, query, accountID, settlementID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (p *PostgresLedgerStore) CreateStatement(ctx context.Context, stmt *models.Statement) (err error) {
	const query = `INSERT INTO statements (id, account_id, external_settlement_id, reference, date,
	opening_balance, closing_balance, reported_amount)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	_, err = dbTx.ExecContext(ctx, query, stmt.ID, stmt.AccountID, stmt.ExternalSettlementID, stmt.Reference,
		stmt.Date, stmt.OpeningBalance, stmt.ClosingBalance, stmt.ReportedAmount)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	if err != nil {
		return err
	}

	for i, line := range stmt.Lines {
		if err = saveLine(ctx, dbTx, line, i); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// UpdateStatement rewrites balances and lines. Lines keep their reconciled flag.
func (p *PostgresLedgerStore) UpdateStatement(ctx context.Context, stmt *models.Statement) (err error) {
	const updateQuery = `UPDATE statements SET opening_balance = $2, closing_balance = $3, reported_amount = $4
	WHERE id = $1`
	const pruneQuery = `DELETE FROM ledger_lines WHERE statement_id = $1 AND NOT (id = ANY($2))`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	res, err := dbTx.ExecContext(ctx, updateQuery, stmt.ID, stmt.OpeningBalance, stmt.ClosingBalance, stmt.ReportedAmount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = models.ErrNotFound
		return err
	}

	ids := make([]string, len(stmt.Lines))
	for i, l := range stmt.Lines {
		ids[i] = l.ID
	}
	if _, err = dbTx.ExecContext(ctx, pruneQuery, stmt.ID, pq.Array(ids)); err != nil {
		return err
	}

	for i, line := range stmt.Lines {
		if err = saveLine(ctx, dbTx, line, i); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func saveLine(ctx context.Context, dbTx *sql.Tx, line models.LedgerLine, position int) error {
	const query = `INSERT INTO ledger_lines (id, account_id, statement_id, queue_entry_id, position, kind, date,
	memo, ref, amount, external_transaction_id, owning_partner_id, info, reconciled)
	VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position, kind = EXCLUDED.kind, date = EXCLUDED.date,
	memo = EXCLUDED.memo, ref = EXCLUDED.ref, amount = EXCLUDED.amount,
	external_transaction_id = EXCLUDED.external_transaction_id,
	owning_partner_id = EXCLUDED.owning_partner_id, info = EXCLUDED.info`

	info, err := encodeJSON(line.Info)
	if err != nil {
		return err
	}
	_, err = dbTx.ExecContext(ctx, query, line.ID, line.AccountID, line.StatementID, line.QueueEntryID, position,
		string(line.Kind), line.Date, line.Memo, line.Ref, line.Amount, line.ExternalTransactionID,
		line.OwningPartnerID, info, line.Reconciled)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func (p *PostgresLedgerStore) ListStatements(ctx context.Context, accountID string) ([]models.Statement, error) {
	const query = `SELECT id, account_id, external_settlement_id, reference, date,
	opening_balance, closing_balance, reported_amount
	FROM statements WHERE account_id = $1 ORDER BY seq`

	return p.queryStatements(ctx, query, accountID)
}

func (p *PostgresLedgerStore) LastStatement(ctx context.Context, accountID string) (*models.Statement, error) {
	const query = `SELECT id, account_id, external_settlement_id, reference, date,
	opening_balance, closing_balance, reported_amount
	FROM statements WHERE account_id = $1 ORDER BY seq DESC LIMIT 1`

	stmts, err := p.queryStatements(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, models.ErrNotFound
	}
	return &stmts[0], nil
}

func (p *PostgresLedgerStore) queryStatements(ctx context.Context, query string, args ...any) ([]models.Statement, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var (
		stmts []models.Statement
		ids   []string
	)
	for rows.Next() {
		var s models.Statement
		if err := rows.Scan(&s.ID, &s.AccountID, &s.ExternalSettlementID, &s.Reference, &s.Date,
			&s.OpeningBalance, &s.ClosingBalance, &s.ReportedAmount); err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	lines, err := p.queryLines(ctx, `SELECT `+lineColumns+` FROM ledger_lines
	WHERE statement_id = ANY($1) ORDER BY statement_id, position`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byStatement := make(map[string][]models.LedgerLine, len(ids))
	for _, l := range lines {
		byStatement[l.StatementID] = append(byStatement[l.StatementID], l)
	}
	for i := range stmts {
		stmts[i].Lines = byStatement[stmts[i].ID]
	}
	return stmts, nil
}

const lineColumns = `id, account_id, COALESCE(statement_id, ''), COALESCE(queue_entry_id, ''), kind, date,
	memo, ref, amount, external_transaction_id, owning_partner_id, info, reconciled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(row rowScanner) (models.LedgerLine, error) {
	var (
		l    models.LedgerLine
		kind string
		info []byte
	)
	if err := row.Scan(&l.ID, &l.AccountID, &l.StatementID, &l.QueueEntryID, &kind, &l.Date,
		&l.Memo, &l.Ref, &l.Amount, &l.ExternalTransactionID, &l.OwningPartnerID, &info, &l.Reconciled); err != nil {
		return models.LedgerLine{}, err
	}
	l.Kind = models.LineKind(kind)
	l.Date = l.Date.UTC()
	if len(info) > 0 {
		if err := json.Unmarshal(info, &l.Info); err != nil {
			return models.LedgerLine{}, fmt.Errorf("decode info of line %s: %w", l.ID, err)
		}
	}
	return l, nil
}

func (p *PostgresLedgerStore) queryLines(ctx context.Context, query string, args ...any) ([]models.LedgerLine, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var lines []models.LedgerLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (p *PostgresLedgerStore) CreateQueueEntries(ctx context.Context, entries []models.QueueEntry) (inserted int, err error) {
	const query = `INSERT INTO queue_entries (id, account_id, balance_transaction_id, leg, transaction_id,
	type_code, payment_ref, amount, date, context, reason_of_exception)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT DO NOTHING`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	for _, e := range entries {
		var ctxJSON any
		if ctxJSON, err = encodeJSON(e.Context); err != nil {
			return 0, err
		}
		var res sql.Result
		res, err = dbTx.ExecContext(ctx, query, e.ID, e.AccountID, e.BalanceTransactionID, string(e.Leg),
			e.TransactionID, e.TypeCode, e.PaymentRef, e.Amount, e.Date, ctxJSON, e.ReasonOfException)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err = dbTx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

const entryColumns = `e.id, e.account_id, e.balance_transaction_id, e.leg, e.transaction_id, e.type_code,
	e.payment_ref, e.amount, e.date, e.context, e.reason_of_exception, e.created_at`

func scanEntry(row rowScanner) (models.QueueEntry, error) {
	var (
		e       models.QueueEntry
		leg     string
		ctxJSON []byte
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.BalanceTransactionID, &leg, &e.TransactionID, &e.TypeCode,
		&e.PaymentRef, &e.Amount, &e.Date, &ctxJSON, &e.ReasonOfException, &e.CreatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	e.Leg = models.QueueLeg(leg)
	e.Date = e.Date.UTC()
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &e.Context); err != nil {
			return models.QueueEntry{}, fmt.Errorf("decode context of entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func (p *PostgresLedgerStore) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, *models.LedgerLine, error) {
	const entryQuery = `SELECT ` + entryColumns + ` FROM queue_entries e WHERE e.id = $1`
	const lineQuery = `SELECT ` + lineColumns + ` FROM ledger_lines WHERE queue_entry_id = $1`

	entry, err := scanEntry(p.db.QueryRowContext(ctx, entryQuery, id))
	if err == sql.ErrNoRows {
		return nil, nil, models.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	line, err := scanLine(p.db.QueryRowContext(ctx, lineQuery, id))
	if err == sql.ErrNoRows {
		return &entry, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &entry, &line, nil
}

func (p *PostgresLedgerStore) ListPendingQueueEntries(ctx context.Context, accountID string, limit int) ([]models.QueueEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM queue_entries e
	LEFT JOIN ledger_lines l ON l.queue_entry_id = e.id
	WHERE l.id IS NULL AND ($1 = '' OR e.account_id = $1)
	ORDER BY e.date, e.seq LIMIT $2`

	return p.queryEntries(ctx, query, accountID, storage.ClampLimit(limit))
}

func (p *PostgresLedgerStore) ListQueueEntries(ctx context.Context, accountID string) ([]models.QueueEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM queue_entries e WHERE e.account_id = $1 ORDER BY e.seq`

	return p.queryEntries(ctx, query, accountID)
}

func (p *PostgresLedgerStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.QueueEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresLedgerStore) CreateQueueLine(ctx context.Context, entry models.QueueEntry, line models.LedgerLine) (err error) {
	const query = `UPDATE queue_entries SET reason_of_exception = $2 WHERE id = $1`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	res, err := dbTx.ExecContext(ctx, query, entry.ID, entry.ReasonOfException)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = models.ErrNotFound
		return err
	}

	line.QueueEntryID = entry.ID
	if err = saveLine(ctx, dbTx, line, 0); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresLedgerStore) DeleteQueueEntry(ctx context.Context, id string) (err error) {
	const lockQuery = `SELECT reconciled FROM ledger_lines WHERE queue_entry_id = $1 FOR UPDATE`
	const deleteLine = `DELETE FROM ledger_lines WHERE queue_entry_id = $1`
	const deleteEntry = `DELETE FROM queue_entries WHERE id = $1`

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	var reconciled bool
	err = dbTx.QueryRowContext(ctx, lockQuery, id).Scan(&reconciled)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if reconciled {
		err = &models.StateViolation{EntryID: id, State: models.QueueReconciled, Op: "delete"}
		return err
	}

	if _, err = dbTx.ExecContext(ctx, deleteLine, id); err != nil {
		return err
	}
	res, err := dbTx.ExecContext(ctx, deleteEntry, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = models.ErrNotFound
		return err
	}
	return dbTx.Commit()
}

// FindLineByExternalID prefers statement lines over queue lines, and the
// amount leg over the deductions leg of the same balance transaction.
func (p *PostgresLedgerStore) FindLineByExternalID(ctx context.Context, accountID, externalID string) (*models.LedgerLine, error) {
	const query = `SELECT ` + lineColumns + ` FROM ledger_lines
	WHERE account_id = $1 AND external_transaction_id = $2
	ORDER BY statement_id IS NULL,
	COALESCE(queue_entry_id IN (SELECT id FROM queue_entries WHERE leg = $3), false),
	position LIMIT 1`

	line, err := scanLine(p.db.QueryRowContext(ctx, query, accountID, externalID, string(models.LegDeductions)))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (p *PostgresLedgerStore) UpdateLine(ctx context.Context, line models.LedgerLine) error {
	const query = `UPDATE ledger_lines SET memo = $2, ref = $3, amount = $4, external_transaction_id = $5,
	owning_partner_id = $6, info = $7 WHERE id = $1`

	info, err := encodeJSON(line.Info)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, query, line.ID, line.Memo, line.Ref, line.Amount,
		line.ExternalTransactionID, line.OwningPartnerID, info)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresLedgerStore) MarkLineReconciled(ctx context.Context, lineID string, reconciled bool) error {
	const query = `UPDATE ledger_lines SET reconciled = $2 WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, lineID, reconciled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (p *PostgresLedgerStore) LoadCursor(ctx context.Context, accountID string) (models.Cursor, error) {
	const query = `SELECT last_settlement_id, last_balance_transaction_id, last_sync_at
	FROM sync_cursors WHERE account_id = $1`

	c := models.Cursor{AccountID: accountID}
	var lastSync sql.NullTime
	err := p.db.QueryRowContext(ctx, query, accountID).Scan(&c.LastSettlementID, &c.LastBalanceTransactionID, &lastSync)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return models.Cursor{}, err
	}
	if lastSync.Valid {
		c.LastSyncAt = lastSync.Time.UTC()
	}
	return c, nil
}

func (p *PostgresLedgerStore) SaveCursor(ctx context.Context, c models.Cursor) error {
	const query = `INSERT INTO sync_cursors (account_id, last_settlement_id, last_balance_transaction_id, last_sync_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (account_id) DO UPDATE SET last_settlement_id = EXCLUDED.last_settlement_id,
	last_balance_transaction_id = EXCLUDED.last_balance_transaction_id, last_sync_at = EXCLUDED.last_sync_at`

	var lastSync sql.NullTime
	if !c.LastSyncAt.IsZero() {
		lastSync = sql.NullTime{Time: c.LastSyncAt, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, query, c.AccountID, c.LastSettlementID, c.LastBalanceTransactionID, lastSync)
	return err
}

func (p *PostgresLedgerStore) FindTransactionOwner(ctx context.Context, provider, externalReference string) (string, bool, error) {
	const query = `SELECT partner_id FROM transaction_owners WHERE provider = $1 AND external_reference = $2`

	var partnerID string
	err := p.db.QueryRowContext(ctx, query, provider, externalReference).Scan(&partnerID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return partnerID, true, nil
}

// RegisterTransactionOwner records which partner owns a processor transaction.
func (p *PostgresLedgerStore) RegisterTransactionOwner(ctx context.Context, provider, externalReference, partnerID string) error {
	const query = `INSERT INTO transaction_owners (provider, external_reference, partner_id) VALUES ($1,$2,$3)
	ON CONFLICT (provider, external_reference) DO UPDATE SET partner_id = EXCLUDED.partner_id`

	_, err := p.db.ExecContext(ctx, query, provider, externalReference, partnerID)
	return err
}

// encodeJSON renders a map as a jsonb parameter; empty maps are stored as NULL.
func encodeJSON[T any](v map[string]T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
