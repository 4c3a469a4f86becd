package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"offcut-ledger-backend/internal/apperror"
)

// Locker gives one caller at a time exclusive use of a session token.
// Contenders fail fast with apperror.ErrSessionBusy instead of waiting.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

func lockKey(token string) string { return fmt.Sprintf("ingest:lock:%s", token) }

// Acquire obtains the token lock. The returned release func must be called
// once the operation finishes.
func (l *Locker) Acquire(ctx context.Context, token string) (func(), error) {
	lock, err := l.client.Obtain(ctx, lockKey(token), l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperror.ErrSessionBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain session lock: %w", err)
	}
	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
