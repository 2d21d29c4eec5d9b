// Package ingest runs the per-account sync paths against the processor feed.
//
// Every run buffers what it fetched in memory, writes it, and only then hands
// back the advanced cursor. RunSync and RunPull persist that cursor inside the
// run lock after the run returned without error, so a failed run is simply
// repeated.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/classifier"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/queue"
)

type Options struct {
	SettlementPageLimit int
	BalancePageLimit    int
	QueueBatchSize      int
}

type Service struct {
	feeds      interfaces.FeedClientProvider
	store      interfaces.LedgerStore
	classifier *classifier.Classifier
	assembler  *ledger.Assembler
	queue      *queue.Queue
	locker     interfaces.RunLocker
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(
	feeds interfaces.FeedClientProvider,
	store interfaces.LedgerStore,
	cls *classifier.Classifier,
	assembler *ledger.Assembler,
	q *queue.Queue,
	locker interfaces.RunLocker,
	opts Options,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		feeds:      feeds,
		store:      store,
		classifier: cls,
		assembler:  assembler,
		queue:      q,
		locker:     locker,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// exclusive runs fn holding the account's run lock.
func (s *Service) exclusive(ctx context.Context, accountID string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	release, acquired, err := s.locker.TryLock(ctx, accountID)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	if !acquired {
		return fmt.Errorf("account %s: %w", accountID, models.ErrRunInProgress)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release run lock failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}()
	return fn()
}

type SyncResult struct {
	Cursor models.Cursor
	// Created lists settlement ids that produced a new statement.
	Created []string
	// Existing lists settlement ids whose statement was already stored.
	Existing []string
	// Pending lists the first settlement not yet paid out and every newer
	// one; they wait so statements keep settlement order.
	Pending []string
	// Skipped lists failed settlements, which never become a statement.
	Skipped    []string
	Violations []*models.ContinuityViolation
}

// Sync turns every new paid-out settlement into a statement.
//
// Settlements are assembled oldest first and the run stops at the first one
// not yet paid out, so every statement opens at the previous closing balance.
// Failed settlements are skipped. The cursor advances to the newest settlement
// handled.
func (s *Service) Sync(ctx context.Context, account models.Account, cursor models.Cursor) (SyncResult, error) {
	result := SyncResult{Cursor: cursor}
	err := s.exclusive(ctx, account.ID, func() error {
		var err error
		result, err = s.sync(ctx, account, cursor)
		return err
	})
	return result, err
}

// RunSync syncs from the stored cursor and saves the advanced settlement
// position. Load, run and save all happen under the account's run lock.
func (s *Service) RunSync(ctx context.Context, account models.Account) (SyncResult, error) {
	var result SyncResult
	err := s.exclusive(ctx, account.ID, func() error {
		cursor, err := s.store.LoadCursor(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		if result, err = s.sync(ctx, account, cursor); err != nil {
			return err
		}
		return s.saveCursor(ctx, account.ID, func(c *models.Cursor) {
			c.LastSettlementID = result.Cursor.LastSettlementID
			c.LastSyncAt = result.Cursor.LastSyncAt
		})
	})
	return result, err
}

// saveCursor re-reads the stored cursor and writes back only what set changes.
// Callers hold the run lock.
func (s *Service) saveCursor(ctx context.Context, accountID string, set func(*models.Cursor)) error {
	cursor, err := s.store.LoadCursor(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	cursor.AccountID = accountID
	set(&cursor)
	if err := s.store.SaveCursor(ctx, cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

type fetchedSettlement struct {
	settlement   models.Settlement
	transactions []models.ExternalTransaction
}

func (s *Service) sync(ctx context.Context, account models.Account, cursor models.Cursor) (SyncResult, error) {
	result := SyncResult{Cursor: cursor}
	logger := s.logger.With(zap.String("account_id", account.ID))
	client := s.feeds.For(account)

	raw, err := client.Settlements(ctx, s.opts.SettlementPageLimit, func(st feed.Settlement) bool {
		return cursor.LastSettlementID != "" && st.ID == cursor.LastSettlementID
	})
	if err != nil {
		return result, fmt.Errorf("list settlements: %w", err)
	}

	var (
		fetched    []fetchedSettlement
		nextCursor = cursor.LastSettlementID
	)
	for i, rs := range raw {
		if rs.Status == models.SettlementFailed {
			result.Skipped = append(result.Skipped, rs.ID)
			nextCursor = rs.ID
			continue
		}
		if rs.Status != models.SettlementPaidOut {
			for _, waiting := range raw[i:] {
				if waiting.Status != models.SettlementFailed {
					result.Pending = append(result.Pending, waiting.ID)
				}
			}
			break
		}
		nextCursor = rs.ID

		exists, err := s.store.StatementExists(ctx, account.ID, rs.ID)
		if err != nil {
			return result, fmt.Errorf("check statement %s: %w", rs.ID, err)
		}
		if exists {
			result.Existing = append(result.Existing, rs.ID)
			continue
		}

		st, err := classifier.Settlement(rs)
		if err != nil {
			return result, err
		}
		txs, err := s.settlementTransactions(ctx, client, rs.ID)
		if err != nil {
			return result, fmt.Errorf("settlement %s: %w", rs.ID, err)
		}
		fetched = append(fetched, fetchedSettlement{settlement: st, transactions: txs})
	}

	for _, f := range fetched {
		res, err := s.assembler.Assemble(ctx, account, ledger.AssembleInput{
			Settlement:   f.settlement,
			Transactions: f.transactions,
		})
		if err != nil {
			return result, fmt.Errorf("assemble settlement %s: %w", f.settlement.ID, err)
		}
		if !res.Created {
			result.Existing = append(result.Existing, f.settlement.ID)
			continue
		}
		result.Created = append(result.Created, f.settlement.ID)
		if res.Violation != nil {
			result.Violations = append(result.Violations, res.Violation)
		}
	}

	result.Cursor.AccountID = account.ID
	result.Cursor.LastSettlementID = nextCursor
	result.Cursor.LastSyncAt = s.now()

	logger.Info("settlements synced",
		zap.Int("fetched", len(raw)),
		zap.Int("created", len(result.Created)),
		zap.Int("pending", len(result.Pending)),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("cursor", nextCursor))
	return result, nil
}

// settlementTransactions fetches and classifies every record of a settlement,
// in feed order: payments, refunds, captures, chargebacks.
func (s *Service) settlementTransactions(ctx context.Context, client interfaces.FeedClient, settlementID string) ([]models.ExternalTransaction, error) {
	var records []feed.Record

	payments, err := client.SettlementPayments(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("payments: %w", err)
	}
	for _, r := range payments {
		records = append(records, r)
	}
	refunds, err := client.SettlementRefunds(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("refunds: %w", err)
	}
	for _, r := range refunds {
		records = append(records, r)
	}
	captures, err := client.SettlementCaptures(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("captures: %w", err)
	}
	for _, r := range captures {
		records = append(records, r)
	}
	chargebacks, err := client.SettlementChargebacks(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("chargebacks: %w", err)
	}
	for _, r := range chargebacks {
		records = append(records, r)
	}

	return s.classifyAll(ctx, records)
}

func (s *Service) classifyAll(ctx context.Context, records []feed.Record) ([]models.ExternalTransaction, error) {
	txs := make([]models.ExternalTransaction, 0, len(records))
	for _, rec := range records {
		tx, ok, err := s.classifier.Classify(ctx, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

type PullResult struct {
	Cursor   models.Cursor
	Fetched  int
	Enqueued int
}

// Pull queues every balance movement newer than the cursor. Without a cursor
// the account's sync-from date bounds the first walk.
func (s *Service) Pull(ctx context.Context, account models.Account, cursor models.Cursor) (PullResult, error) {
	result := PullResult{Cursor: cursor}
	err := s.exclusive(ctx, account.ID, func() error {
		var err error
		result, err = s.pull(ctx, account, cursor)
		return err
	})
	return result, err
}

// RunPull pulls from the stored cursor and saves the advanced balance
// position under the account's run lock.
func (s *Service) RunPull(ctx context.Context, account models.Account) (PullResult, error) {
	var result PullResult
	err := s.exclusive(ctx, account.ID, func() error {
		cursor, err := s.store.LoadCursor(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		if result, err = s.pull(ctx, account, cursor); err != nil {
			return err
		}
		return s.saveCursor(ctx, account.ID, func(c *models.Cursor) {
			c.LastBalanceTransactionID = result.Cursor.LastBalanceTransactionID
			c.LastSyncAt = result.Cursor.LastSyncAt
		})
	})
	return result, err
}

func (s *Service) pull(ctx context.Context, account models.Account, cursor models.Cursor) (PullResult, error) {
	result := PullResult{Cursor: cursor}
	if account.BalanceID == "" {
		return result, &models.ValidationError{Record: account.ID, Reason: "account has no balance id"}
	}

	var stop func(feed.BalanceTransaction) bool
	switch {
	case cursor.LastBalanceTransactionID != "":
		last := cursor.LastBalanceTransactionID
		stop = func(bt feed.BalanceTransaction) bool { return bt.ID == last }
	case !account.SyncFrom.IsZero():
		from := account.SyncFrom
		stop = func(bt feed.BalanceTransaction) bool { return bt.CreatedAt.Before(from) }
	default:
		return result, &models.ValidationError{Record: account.ID, Reason: "no balance cursor and no sync-from date"}
	}

	raw, err := s.feeds.For(account).BalanceTransactions(ctx, account.BalanceID, s.opts.BalancePageLimit, stop)
	if err != nil {
		return result, fmt.Errorf("list balance transactions: %w", err)
	}
	result.Fetched = len(raw)
	if len(raw) == 0 {
		result.Cursor.AccountID = account.ID
		result.Cursor.LastSyncAt = s.now()
		return result, nil
	}

	records := make([]feed.Record, len(raw))
	for i, bt := range raw {
		records[i] = bt
	}
	txs, err := s.classifyAll(ctx, records)
	if err != nil {
		return result, err
	}

	n, err := s.queue.Enqueue(ctx, account.ID, queue.Entries(account.ID, txs))
	if err != nil {
		return result, err
	}
	result.Enqueued = n
	result.Cursor.AccountID = account.ID
	result.Cursor.LastBalanceTransactionID = raw[len(raw)-1].ID
	result.Cursor.LastSyncAt = s.now()
	return result, nil
}

// Drain materializes up to batchSize pending queue entries of the account.
func (s *Service) Drain(ctx context.Context, account models.Account, batchSize int) (queue.Report, error) {
	if batchSize <= 0 {
		batchSize = s.opts.QueueBatchSize
	}
	var report queue.Report
	err := s.exclusive(ctx, account.ID, func() error {
		var err error
		report, err = s.queue.Materialize(ctx, []models.Account{account}, batchSize)
		return err
	})
	return report, err
}

type RefreshResult struct {
	// Found is false when either the processor or the ledger does not know the payment.
	Found bool
	Line  *models.LedgerLine
}

// Refresh re-reads one payment and rewrites the descriptive fields of its line.
// Amounts and reconciliation are left untouched. It holds the run lock so a
// concurrent recheck cannot write the old memo back.
func (s *Service) Refresh(ctx context.Context, account models.Account, paymentID string) (RefreshResult, error) {
	var result RefreshResult
	err := s.exclusive(ctx, account.ID, func() error {
		var err error
		result, err = s.refresh(ctx, account, paymentID)
		return err
	})
	return result, err
}

func (s *Service) refresh(ctx context.Context, account models.Account, paymentID string) (RefreshResult, error) {
	if paymentID == "" {
		return RefreshResult{}, &models.ValidationError{Reason: "empty payment id"}
	}
	logger := s.logger.With(zap.String("account_id", account.ID), zap.String("payment_id", paymentID))

	client := s.feeds.For(account)
	payment, err := client.Payment(ctx, paymentID)
	if errors.Is(err, feed.ErrNotFound) {
		logger.Info("refresh: payment unknown to processor")
		return RefreshResult{}, nil
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	line, err := s.store.FindLineByExternalID(ctx, account.ID, paymentID)
	if errors.Is(err, models.ErrNotFound) {
		logger.Info("refresh: no ledger line for payment")
		return RefreshResult{}, nil
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("find line for %s: %w", paymentID, err)
	}

	metadata := classifier.MetadataMap(payment.Metadata)
	if payment.OrderID != "" {
		metadata = classifier.WithOrder(metadata, s.orderInfo(ctx, client, payment.OrderID))
	}
	info := make(map[string]any, len(line.Info)+len(metadata)+1)
	for k, v := range line.Info {
		info[k] = v
	}
	for k, v := range metadata {
		info[k] = v
	}
	if payment.OrderID != "" {
		info["order_id"] = payment.OrderID
	}

	if line.Kind == models.LineBalance {
		line.Memo = classifier.BalanceMemo(metadata, payment.Description, line.Ref, payment.ID)
	} else {
		line.Memo = classifier.Memo(metadata, payment.Description, models.KindPayment, payment.ID)
	}
	line.OwningPartnerID = s.classifier.Owner(ctx, payment.ID)
	if line.OwningPartnerID == "" && payment.OrderID != "" {
		line.OwningPartnerID = s.classifier.Owner(ctx, payment.OrderID)
	}
	line.Info = info

	if err := s.store.UpdateLine(ctx, *line); err != nil {
		return RefreshResult{}, fmt.Errorf("update line %s: %w", line.ID, err)
	}
	logger.Info("line refreshed", zap.String("line_id", line.ID))
	return RefreshResult{Found: true, Line: line}, nil
}

// orderInfo is best effort: a missing or unreachable order leaves the line
// described by the payment alone.
func (s *Service) orderInfo(ctx context.Context, client interfaces.FeedClient, orderID string) map[string]any {
	order, err := client.Order(ctx, orderID)
	if err != nil {
		s.logger.Warn("order lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	return classifier.OrderInfo(order)
}

// Order returns the flattened metadata and billing address of one order.
func (s *Service) Order(ctx context.Context, account models.Account, orderID string) (map[string]any, error) {
	if orderID == "" {
		return nil, &models.ValidationError{Reason: "empty order id"}
	}
	order, err := s.feeds.For(account).Order(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	info := classifier.OrderInfo(order)
	if info == nil {
		info = map[string]any{}
	}
	return info, nil
}

// Recheck re-fetches the latest limit settlements and re-derives every stored statement.
func (s *Service) Recheck(ctx context.Context, account models.Account, limit int) (ledger.RecheckReport, error) {
	var report ledger.RecheckReport
	err := s.exclusive(ctx, account.ID, func() error {
		var err error
		report, err = s.recheck(ctx, account, limit)
		return err
	})
	return report, err
}

func (s *Service) recheck(ctx context.Context, account models.Account, limit int) (ledger.RecheckReport, error) {
	if limit <= 0 {
		return ledger.RecheckReport{}, &models.ValidationError{Record: account.ID, Reason: "recheck limit must be positive"}
	}
	client := s.feeds.For(account)

	seen := 0
	raw, err := client.Settlements(ctx, s.opts.SettlementPageLimit, func(feed.Settlement) bool {
		seen++
		return seen > limit
	})
	if err != nil {
		return ledger.RecheckReport{}, fmt.Errorf("list settlements: %w", err)
	}

	fresh := make(map[string]ledger.RecheckBatch, len(raw))
	for _, rs := range raw {
		if rs.Status != models.SettlementPaidOut {
			continue
		}
		st, err := classifier.Settlement(rs)
		if err != nil {
			return ledger.RecheckReport{}, err
		}
		txs, err := s.settlementTransactions(ctx, client, rs.ID)
		if err != nil {
			return ledger.RecheckReport{}, fmt.Errorf("settlement %s: %w", rs.ID, err)
		}
		fresh[rs.ID] = ledger.RecheckBatch{Settlement: st, Transactions: txs}
	}

	return s.assembler.Recheck(ctx, account, fresh)
}

// Balances lists the processor balances visible to the account's key.
func (s *Service) Balances(ctx context.Context, account models.Account) ([]feed.Balance, error) {
	balances, err := s.feeds.For(account).Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	return balances, nil
}
