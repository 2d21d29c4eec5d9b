package interfaces

import (
	"context"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

type StatementStore interface {
	StatementExists(ctx context.Context, accountID, settlementID string) (bool, error)
	// CreateStatement stores the statement and its lines atomically.
	// A second statement for the same settlement returns models.ErrDuplicate.
	CreateStatement(ctx context.Context, stmt *models.Statement) error
	// UpdateStatement replaces balances and lines of an existing statement atomically.
	UpdateStatement(ctx context.Context, stmt *models.Statement) error
	// ListStatements returns the account's statements with lines, oldest first.
	ListStatements(ctx context.Context, accountID string) ([]models.Statement, error)
	// LastStatement returns the newest statement or models.ErrNotFound.
	LastStatement(ctx context.Context, accountID string) (*models.Statement, error)
}

type QueueStore interface {
	// CreateQueueEntries inserts entries in order, ignoring ones already present.
	// It returns how many were inserted.
	CreateQueueEntries(ctx context.Context, entries []models.QueueEntry) (int, error)
	GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, *models.LedgerLine, error)
	// ListPendingQueueEntries returns the oldest entries without a line.
	// An empty accountID means every account.
	ListPendingQueueEntries(ctx context.Context, accountID string, limit int) ([]models.QueueEntry, error)
	ListQueueEntries(ctx context.Context, accountID string) ([]models.QueueEntry, error)
	// CreateQueueLine stores the entry's enrichment fields and its line atomically.
	CreateQueueLine(ctx context.Context, entry models.QueueEntry, line models.LedgerLine) error
	// DeleteQueueEntry removes the entry and its line unless the line is reconciled.
	DeleteQueueEntry(ctx context.Context, id string) error
}

type LineStore interface {
	FindLineByExternalID(ctx context.Context, accountID, externalID string) (*models.LedgerLine, error)
	UpdateLine(ctx context.Context, line models.LedgerLine) error
	MarkLineReconciled(ctx context.Context, lineID string, reconciled bool) error
}

type CursorStore interface {
	LoadCursor(ctx context.Context, accountID string) (models.Cursor, error)
	SaveCursor(ctx context.Context, cursor models.Cursor) error
}

// PartnerDirectory resolves the local party owning a processor transaction.
type PartnerDirectory interface {
	FindTransactionOwner(ctx context.Context, provider, externalReference string) (string, bool, error)
}

type LedgerStore interface {
	StatementStore
	QueueStore
	LineStore
	CursorStore
	PartnerDirectory
}
