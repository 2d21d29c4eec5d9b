// Package app wires configuration into the running components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/classifier"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/config"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events/kafka"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ingest"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/lock"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/queue"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage/memory"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage/postgres"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     interfaces.LedgerStore
	Publisher interfaces.EventPublisher
	Feeds     interfaces.FeedClientProvider
	Queue     *queue.Queue
	Service   *ingest.Service
	Accounts  []models.Account

	closers []func() error
}

// New builds every component named by cfg. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	accounts, err := cfg.ModelAccounts()
	if err != nil {
		return nil, err
	}
	a.Accounts = accounts

	tolerance, err := cfg.Tolerance()
	if err != nil {
		return nil, err
	}

	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.Store = postgres.NewPostgresLedgerStore(db)
	default:
		a.Store = memory.NewMemoryLedgerStore()
	}

	a.Publisher = events.Discard
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewPublisher(cfg.KafkaBrokers)
		a.closers = append(a.closers, p.Close)
		a.Publisher = p
	}

	var locker interfaces.RunLocker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		locker = lock.NewRedisLocker(client, 0, logger)
	}

	pool := feed.NewPool(feed.Config{
		BaseURL:         cfg.Feed.BaseURL,
		Timeout:         cfg.Feed.Timeout,
		BreakerFailures: cfg.Feed.BreakerFailures,
		BreakerCooldown: cfg.Feed.BreakerCooldown,
		Logger:          logger,
	})
	a.Feeds = interfaces.FeedClientProviderFunc(func(account models.Account) interfaces.FeedClient {
		return pool.For(account)
	})

	cls := classifier.New(cfg.Provider, a.Store, logger)
	builder := ledger.NewLineBuilder(cfg.Provider, tolerance)
	a.Queue = queue.New(a.Store, a.Feeds, cls, builder, a.Publisher, logger)
	a.Service = ingest.NewService(
		a.Feeds, a.Store, cls,
		ledger.NewAssembler(a.Store, builder, a.Publisher, logger),
		a.Queue, locker,
		ingest.Options{
			SettlementPageLimit: cfg.SettlementPageLimit,
			BalancePageLimit:    cfg.BalancePageLimit,
			QueueBatchSize:      cfg.QueueBatchSize,
		},
		logger,
	)
	return a, nil
}

// Account returns the configured account with id.
func (a *App) Account(id string) (models.Account, error) {
	for _, acc := range a.Accounts {
		if acc.ID == id {
			return acc, nil
		}
	}
	return models.Account{}, fmt.Errorf("account %q: %w", id, models.ErrNotFound)
}

// OpenDB connects to the configured postgres database.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	if cfg.Store != config.StorePostgres {
		return nil, errors.New("store is not postgres")
	}
	return postgres.Open(ctx, cfg.DatabaseURL)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
