package interfaces

import "context"

// RunLocker keeps runs for the same account from overlapping.
type RunLocker interface {
	// TryLock acquires the account's run lock without waiting.
	// The returned release func must be called when the run ends.
	TryLock(ctx context.Context, accountID string) (release func(context.Context) error, acquired bool, err error)
}
