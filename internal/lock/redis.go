package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix = "ledgersync:run:"
	// DefaultExpiry bounds how long a crashed run keeps its account locked.
	DefaultExpiry = 10 * time.Minute
)

// ErrLockNotHeld is returned by release when the lock expired or was taken over.
var ErrLockNotHeld = errors.New("run lock not held")

// RedisLocker serializes runs across processes sharing one Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, expiry time.Duration, logger *zap.Logger) *RedisLocker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: DefaultKeyPrefix,
		expiry: expiry,
		logger: logger,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, accountID string) (func(context.Context) error, bool, error) {
	key := l.prefix + accountID
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			l.logger.Debug("run lock busy", zap.String("account_id", accountID))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire run lock %s: %w", key, err)
	}

	release := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release run lock %s: %w", key, err)
		}
		if !ok {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}

// isContention reports whether the lock is simply held elsewhere.
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
