// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

var errLockHeld = errors.New("lock held by another owner")

// Locker is a single-instance Redis lock: SET NX PX to acquire and a
// compare-and-delete script to release. The lease expires on its own if
// the holder dies.
type Locker struct {
	redis   redis.UniversalClient
	prefix  string
	lease   time.Duration
	maxWait time.Duration
}

var _ recovery.Locker = (*Locker)(nil)

// NewLocker creates a Locker. Locks are leased for lease and acquisition is
// abandoned after maxWait.
func NewLocker(client redis.UniversalClient, prefix string, lease, maxWait time.Duration) *Locker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &Locker{redis: client, prefix: prefix, lease: lease, maxWait: maxWait}
}

// Lock acquires key, retrying with exponential backoff while another owner
// holds it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + ":lock:" + key
	owner := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = l.maxWait

	err := backoff.Retry(func() error {
		ok, err := l.redis.SetNX(ctx, lockKey, owner, l.lease).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
	case errors.Is(err, errLockHeld):
		return nil, recovery.ErrLockTimeout
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, storageError(err)
	}

	return func() {
		// Release even if the caller's context is already cancelled.
		if err := unlockScript.Run(context.WithoutCancel(ctx), l.redis, []string{lockKey}, owner).Err(); err != nil {
			slog.Error("redis_unlock_failed", "key", lockKey, "error", err)
		}
	}, nil
}
