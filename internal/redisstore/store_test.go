// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/redisstore"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

const (
	ttl         = 15 * time.Minute
	maxAttempts = 3
	purpose     = models.PurposePasswordReset
	account     = int64(42)
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return mr, client
}

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, client := newTestRedis(t)
	return redisstore.New(client, "test"), mr
}

var now = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestCreateAndFind(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, account, purpose, "042917", now, ttl, maxAttempts)
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:token:"+created.ID))
	assert.Equal(t, "0", mr.HGet("test:token:"+created.ID, "used"))

	found, err := store.FindActive(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, account, found.AccountID)
	assert.Equal(t, now.Add(ttl).UnixMilli(), found.ExpiresAt.UnixMilli())

	byCode, err := store.FindActiveByCode(ctx, account, purpose, "042917", now)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCode.ID)

	_, err = store.FindActiveByCode(ctx, account, purpose, "042918", now)
	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)

	_, err = store.FindActiveByCode(ctx, account, purpose, "042917", now.Add(ttl))
	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)
}

func TestSupersedeAndCreate(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, n, err := store.SupersedeAndCreate(ctx, account, purpose, "111111", now, ttl, maxAttempts)
	require.NoError(t, err)
	assert.Zero(t, n)

	second, n, err := store.SupersedeAndCreate(ctx, account, purpose, "222222", now.Add(time.Second), ttl, maxAttempts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := store.FindActive(ctx, account, purpose, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := store.GetToken(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.Used)
	require.NotNil(t, old.UsedAt)

	latest, err := store.FindLatest(ctx, account, purpose)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestSupersedeAndCreate_ConcurrentSingleActive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_, _, err := store.SupersedeAndCreate(ctx, account, purpose, "123456", now, ttl, maxAttempts)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	count, err := store.CountRecentlyCreated(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)

	// Invalidating reports how many tokens were active: exactly one
	active, err := store.InvalidateActive(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestInvalidateActive_Idempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	n, err := store.InvalidateActive(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.Create(ctx, account, purpose, "123456", now, ttl, maxAttempts)
	require.NoError(t, err)

	n, err = store.InvalidateActive(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.InvalidateActive(ctx, account, purpose, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncrementAttempt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Create(ctx, account, purpose, "123456", now, ttl, maxAttempts)
	require.NoError(t, err)

	for want := 1; want <= maxAttempts; want++ {
		n, err := store.IncrementAttempt(ctx, tok.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := store.IncrementAttempt(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, n)

	_, err = store.FindActiveByCode(ctx, account, purpose, "123456", now)
	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)

	_, err = store.IncrementAttempt(ctx, "missing")
	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)
}

func TestIncrementAttempt_Concurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Create(ctx, account, purpose, "123456", now, ttl, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 30 {
		wg.Go(func() {
			_, err := store.IncrementAttempt(ctx, tok.ID)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	got, err := store.GetToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.AttemptCount)
}

func TestMarkUsed(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	tok, err := store.Create(ctx, account, purpose, "123456", now, ttl, maxAttempts)
	require.NoError(t, err)

	changed, err := store.MarkUsed(ctx, tok.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkUsed(ctx, tok.ID, now)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = store.MarkUsed(ctx, "missing", now)
	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)

	members, err := mr.ZMembers("test:idx:used")
	require.NoError(t, err)
	assert.Equal(t, []string{tok.ID}, members)
}

func TestDeleteExpiredAndUsed(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	expired, err := store.Create(ctx, account, purpose, "111111", now.Add(-time.Hour), ttl, maxAttempts)
	require.NoError(t, err)
	live, err := store.Create(ctx, account, purpose, "222222", now, ttl, maxAttempts)
	require.NoError(t, err)
	oldUsed, err := store.Create(ctx, account, purpose, "333333", now.Add(-8*24*time.Hour), ttl, maxAttempts)
	require.NoError(t, err)
	_, err = store.MarkUsed(ctx, oldUsed.ID, now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	recentUsed, err := store.Create(ctx, account, purpose, "444444", now.Add(-time.Hour), ttl, maxAttempts)
	require.NoError(t, err)
	_, err = store.MarkUsed(ctx, recentUsed.ID, now.Add(-time.Hour))
	require.NoError(t, err)

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, mr.Exists("test:token:"+expired.ID))

	n, err = store.DeleteUsedOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, mr.Exists("test:token:"+oldUsed.ID))

	assert.True(t, mr.Exists("test:token:"+live.ID))
	assert.True(t, mr.Exists("test:token:"+recentUsed.ID))

	members, err := mr.ZMembers("test:tokens:42:password_reset")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{live.ID, recentUsed.ID}, members)
}

func TestCountRecentlyCreated(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := range 4 {
		_, _, err := store.SupersedeAndCreate(ctx, account, purpose, "123456", now.Add(time.Duration(-i)*20*time.Minute), ttl, maxAttempts)
		require.NoError(t, err)
	}

	n, err := store.CountRecentlyCreated(ctx, account, purpose, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = store.CountRecentlyCreated(ctx, account, purpose, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFindLatest_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.FindLatest(context.Background(), account, purpose)

	assert.ErrorIs(t, err, recovery.ErrTokenNotFound)
}

func TestStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	ctx := context.Background()

	_, _, err := store.SupersedeAndCreate(ctx, account, purpose, "123456", now, ttl, maxAttempts)
	assert.ErrorIs(t, err, recovery.ErrStorage)

	_, err = store.FindActive(ctx, account, purpose, now)
	assert.ErrorIs(t, err, recovery.ErrStorage)

	_, err = store.CountRecentlyCreated(ctx, account, purpose, now)
	assert.ErrorIs(t, err, recovery.ErrStorage)
}
