package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/app"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/config"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/events/kafka"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ingest"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/ledger"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/queue"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/storage/postgres"
)

// withApp opens the app for the command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "startup failed", Err: err}
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("shutdown failed", zap.Error(err))
		}
		_ = a.Logger.Sync()
	}()
	return fn(ctx, a)
}

// collector gathers per-account results from concurrent runs.
type collector[T any] struct {
	mu      sync.Mutex
	results map[string]T
}

func (c *collector[T]) add(accountID string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]T)
	}
	c.results[accountID] = v
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Build statements from new paid-out settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
				accounts, err := opts.selected(a)
				if err != nil {
					return err
				}
				var results collector[ingest.SyncResult]
				runErr := forEachAccount(ctx, accounts, a.Config.Concurrency, func(ctx context.Context, acc models.Account) error {
					res, err := a.Service.RunSync(ctx, acc)
					if err != nil {
						return err
					}
					results.add(acc.ID, res)
					return nil
				})

				violations := 0
				err = output(cmd.OutOrStdout(), opts.Format, results.results, func(w io.Writer) {
					for id, res := range results.results {
						fmt.Fprintf(w, "%s: created=%d existing=%d pending=%d cursor=%s\n",
							id, len(res.Created), len(res.Existing), len(res.Pending), res.Cursor.LastSettlementID)
						for _, v := range res.Violations {
							fmt.Fprintf(w, "  %v\n", v)
						}
					}
				})
				for _, res := range results.results {
					violations += len(res.Violations)
				}
				if runErr != nil {
					return &ExitError{Code: ExitCommandError, Message: "sync failed", Err: runErr}
				}
				if err != nil {
					return err
				}
				if violations > 0 {
					return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d continuity violations", violations)}
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Queue new balance movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
				accounts, err := opts.selected(a)
				if err != nil {
					return err
				}
				var results collector[ingest.PullResult]
				runErr := forEachAccount(ctx, accounts, a.Config.Concurrency, func(ctx context.Context, acc models.Account) error {
					res, err := a.Service.RunPull(ctx, acc)
					if err != nil {
						return err
					}
					results.add(acc.ID, res)
					return nil
				})
				if err := output(cmd.OutOrStdout(), opts.Format, results.results, func(w io.Writer) {
					for id, res := range results.results {
						fmt.Fprintf(w, "%s: fetched=%d enqueued=%d cursor=%s\n",
							id, res.Fetched, res.Enqueued, res.Cursor.LastBalanceTransactionID)
					}
				}); err != nil {
					return err
				}
				if runErr != nil {
					return &ExitError{Code: ExitCommandError, Message: "pull failed", Err: runErr}
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}
	var batch int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Turn pending queue entries into ledger lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
				accounts, err := opts.selected(a)
				if err != nil {
					return err
				}
				var results collector[queue.Report]
				runErr := forEachAccount(ctx, accounts, a.Config.Concurrency, func(ctx context.Context, acc models.Account) error {
					report, err := a.Service.Drain(ctx, acc, batch)
					if err != nil {
						return err
					}
					results.add(acc.ID, report)
					return nil
				})
				if err := output(cmd.OutOrStdout(), opts.Format, results.results, func(w io.Writer) {
					for id, r := range results.results {
						fmt.Fprintf(w, "%s: created=%d exceptions=%d\n", id, r.Created, len(r.Exceptions))
						for _, e := range r.Exceptions {
							fmt.Fprintf(w, "  %s (%s): %s\n", e.EntryID, e.BalanceTransactionID, e.Reason)
						}
					}
				}); err != nil {
					return err
				}
				if runErr != nil {
					return &ExitError{Code: ExitCommandError, Message: "drain failed", Err: runErr}
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&batch, "batch", 0, "entries per run (default queue_batch_size)")
	return cmd
}

func NewRecheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}
	var limit int

	cmd := &cobra.Command{
		Use:   "recheck",
		Short: "Re-derive statements from the latest settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
				if limit <= 0 {
					limit = a.Config.RecheckLimit
				}
				accounts, err := opts.selected(a)
				if err != nil {
					return err
				}
				var results collector[ledger.RecheckReport]
				runErr := forEachAccount(ctx, accounts, a.Config.Concurrency, func(ctx context.Context, acc models.Account) error {
					report, err := a.Service.Recheck(ctx, acc, limit)
					if err != nil {
						return err
					}
					results.add(acc.ID, report)
					return nil
				})
				if err := output(cmd.OutOrStdout(), opts.Format, results.results, func(w io.Writer) {
					for id, r := range results.results {
						fmt.Fprintf(w, "%s: updated=%v added=%d removed=%d kept_reconciled=%d\n",
							id, r.Updated, r.LinesAdded, r.LinesRemoved, len(r.KeptReconciled))
					}
				}); err != nil {
					return err
				}
				if runErr != nil {
					return &ExitError{Code: ExitCommandError, Message: "recheck failed", Err: runErr}
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "settlements to re-fetch (default recheck_limit)")
	return cmd
}

func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "refresh <payment-id>",
		Short: "Re-read one payment and update its ledger line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				acc, err := a.Account(accountID)
				if err != nil {
					return err
				}
				res, err := a.Service.Refresh(ctx, acc, args[0])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts.Format, res, func(w io.Writer) {
					if !res.Found {
						fmt.Fprintf(w, "%s: not found\n", args[0])
						return
					}
					fmt.Fprintf(w, "%s: line %s memo=%q owner=%q\n", args[0], res.Line.ID, res.Line.Memo, res.Line.OwningPartnerID)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "order <order-id>",
		Short: "Show the metadata and billing address of one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				acc, err := a.Account(accountID)
				if err != nil {
					return err
				}
				info, err := a.Service.Order(ctx, acc, args[0])
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts.Format, info, func(w io.Writer) {
					keys := make([]string, 0, len(info))
					for k := range info {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(w, "%s: %v\n", k, info[k])
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func NewBalancesCommand(rootOpts *RootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List the processor balances of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				acc, err := a.Account(accountID)
				if err != nil {
					return err
				}
				balances, err := a.Service.Balances(ctx, acc)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), rootOpts.Format, balances, func(w io.Writer) {
					for _, b := range balances {
						available := ""
						if b.AvailableAmount != nil {
							available = b.AvailableAmount.Value + " " + b.AvailableAmount.Currency
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.ID, b.Currency, b.Status, available)
					}
				})
			})
		},
	}
	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func NewConsumeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Apply reconciliation events from accounting until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if len(a.Config.KafkaBrokers) == 0 {
					return &ExitError{Code: ExitCommandError, Message: "consume needs kafka_brokers"}
				}
				consumer := kafka.NewReconciliationConsumer(a.Config.KafkaBrokers, a.Config.KafkaGroupID, a.Queue, a.Logger)
				defer consumer.Close()
				a.Logger.Info("consuming reconciliation events", zap.Strings("brokers", a.Config.KafkaBrokers))
				return consumer.Run(ctx)
			})
		},
	}
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return &ExitError{Code: ExitCommandError, Message: "migrate needs store: postgres"}
			}
			db, err := app.OpenDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
