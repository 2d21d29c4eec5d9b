// Package lock keeps runs for the same account from overlapping.
package lock

import (
	"context"
	"sync"
)

// LocalLocker serializes runs inside one process.
type LocalLocker struct {
	muMap map[string]*sync.Mutex // one mutex per account
	mapMu sync.Mutex             // protects muMap itself
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{muMap: make(map[string]*sync.Mutex)}
}

func (l *LocalLocker) getAccountLock(accountID string) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

// TryLock never waits: a busy account reports acquired == false.
func (l *LocalLocker) TryLock(_ context.Context, accountID string) (func(context.Context) error, bool, error) {
	mu := l.getAccountLock(accountID)
	if !mu.TryLock() {
		return nil, false, nil
	}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(mu.Unlock)
		return nil
	}
	return release, true, nil
}
