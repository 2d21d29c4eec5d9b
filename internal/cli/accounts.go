package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/app"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// AccountOptions selects the accounts a command runs for.
type AccountOptions struct {
	*RootOptions
	AccountID string
	All       bool
}

func (o *AccountOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.AccountID, "account", "a", "", "account id")
	cmd.Flags().BoolVar(&o.All, "all", false, "run for every configured account")
	cmd.MarkFlagsMutuallyExclusive("account", "all")
	cmd.MarkFlagsOneRequired("account", "all")
}

func (o *AccountOptions) selected(a *app.App) ([]models.Account, error) {
	if o.All {
		return a.Accounts, nil
	}
	acc, err := a.Account(o.AccountID)
	if err != nil {
		return nil, err
	}
	return []models.Account{acc}, nil
}

// forEachAccount runs fn for every account, at most concurrency at a time.
// One account failing does not stop the others; all failures are joined.
func forEachAccount(ctx context.Context, accounts []models.Account, concurrency int, fn func(context.Context, models.Account) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		sem  = make(chan struct{}, concurrency)
	)
	for _, acc := range accounts {
		wg.Add(1)
		sem <- struct{}{}
		go func(acc models.Account) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, acc); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("account %s: %w", acc.ID, err))
				mu.Unlock()
			}
		}(acc)
	}
	wg.Wait()
	return errors.Join(errs...)
}
