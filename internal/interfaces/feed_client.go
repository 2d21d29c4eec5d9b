package interfaces

import (
	"context"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// FeedClient is the processor API as seen by one account.
type FeedClient interface {
	Settlements(ctx context.Context, limit int, stop func(feed.Settlement) bool) ([]feed.Settlement, error)
	SettlementPayments(ctx context.Context, settlementID string) ([]feed.Payment, error)
	SettlementRefunds(ctx context.Context, settlementID string) ([]feed.Refund, error)
	SettlementCaptures(ctx context.Context, settlementID string) ([]feed.Capture, error)
	SettlementChargebacks(ctx context.Context, settlementID string) ([]feed.Chargeback, error)
	Balances(ctx context.Context) ([]feed.Balance, error)
	BalanceTransactions(ctx context.Context, balanceID string, limit int, stop func(feed.BalanceTransaction) bool) ([]feed.BalanceTransaction, error)
	Payment(ctx context.Context, id string) (*feed.Payment, error)
	Order(ctx context.Context, id string) (*feed.Order, error)
}

// FeedClientProvider returns the client authenticated for an account.
type FeedClientProvider interface {
	For(account models.Account) FeedClient
}

// FeedClientProviderFunc adapts a function to FeedClientProvider.
type FeedClientProviderFunc func(account models.Account) FeedClient

func (f FeedClientProviderFunc) For(account models.Account) FeedClient { return f(account) }

var _ FeedClient = (*feed.Client)(nil)
