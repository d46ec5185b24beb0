// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/keylock"
	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/otp"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenStore fails every cleanup call and counts them.
type brokenStore struct {
	recovery.TokenStore
	calls atomic.Int32
}

func (s *brokenStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	s.calls.Add(1)
	return 0, recovery.ErrStorage
}

func (s *brokenStore) DeleteUsedOlderThan(context.Context, time.Time) (int64, error) {
	s.calls.Add(1)
	return 0, errors.New("disk full")
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()
	purpose := models.PurposePasswordReset

	// Expired and never used, older than the daily window
	_, err := f.repo.Create(ctx, f.user.ID, purpose, "111111", now.Add(-25*time.Hour), 15*time.Minute, 3)
	require.NoError(t, err)

	// Expired but still counted by the daily limit
	counted, err := f.repo.Create(ctx, f.user.ID, purpose, "444444", now.Add(-2*time.Hour), 15*time.Minute, 3)
	require.NoError(t, err)

	// Used eight days ago
	old, err := f.repo.Create(ctx, f.user.ID, purpose, "222222", now.Add(-8*24*time.Hour), 15*time.Minute, 3)
	require.NoError(t, err)
	_, err = f.repo.MarkUsed(ctx, old.ID, now.Add(-8*24*time.Hour))
	require.NoError(t, err)

	// Used yesterday, still within retention
	recent, err := f.repo.Create(ctx, f.user.ID, purpose, "333333", now.Add(-24*time.Hour), 15*time.Minute, 3)
	require.NoError(t, err)
	_, err = f.repo.MarkUsed(ctx, recent.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)

	// Active
	f.request(t, "a@x.com")

	res := f.svc.Cleanup(ctx)

	assert.Equal(t, recovery.CleanupResult{ExpiredDeleted: 1, UsedDeleted: 1}, res)

	var remaining []string
	require.NoError(t, f.repo.DB().SelectContext(ctx, &remaining, `SELECT id FROM recovery_tokens`))
	assert.Contains(t, remaining, recent.ID)
	assert.Contains(t, remaining, counted.ID)
	assert.Len(t, remaining, 3)
	_, err = f.repo.FindActive(ctx, f.user.ID, purpose, now)
	assert.NoError(t, err)

	// Second pass has nothing left to do
	assert.Equal(t, recovery.CleanupResult{}, f.svc.Cleanup(ctx))
}

func TestCleanup_InterleavedKeepsRateLimit(t *testing.T) {
	f := newFixture(t, func(o *recovery.Options) {
		o.HourlyLimit = 0
		o.DailyLimit = 2
	})
	ctx := context.Background()

	for range 6 {
		f.request(t, "a@x.com")
		f.clock.Advance(20 * time.Minute)
		f.svc.Cleanup(ctx)
	}

	assert.Equal(t, 2, f.notifier.CodeCount())

	// Once the window has passed, cleanup removes them and issuing resumes
	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, recovery.CleanupResult{ExpiredDeleted: 2}, f.svc.Cleanup(ctx))
	assert.Equal(t, recovery.StatusSuccess, f.request(t, "a@x.com").Status)
}

func TestCleanup_NoLimitsDeletesOnExpiry(t *testing.T) {
	f := newFixture(t, func(o *recovery.Options) {
		o.HourlyLimit = 0
		o.DailyLimit = 0
	})
	ctx := context.Background()

	f.request(t, "a@x.com")
	f.clock.Advance(16 * time.Minute)

	assert.Equal(t, recovery.CleanupResult{ExpiredDeleted: 1}, f.svc.Cleanup(ctx))
}

func TestCleanup_SwallowsStorageErrors(t *testing.T) {
	store := &brokenStore{}
	svc := recovery.NewService(store, nil, nil, otp.New(), keylock.New(), recovery.Options{})

	res := svc.Cleanup(context.Background())

	assert.Equal(t, recovery.CleanupResult{}, res)
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestRunCleanupLoop(t *testing.T) {
	store := &brokenStore{}
	svc := recovery.NewService(store, nil, nil, otp.New(), keylock.New(), recovery.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunCleanupLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return store.calls.Load() >= 6
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}

func TestRunCleanupLoop_DisabledInterval(t *testing.T) {
	store := &brokenStore{}
	svc := recovery.NewService(store, nil, nil, otp.New(), keylock.New(), recovery.Options{})

	svc.RunCleanupLoop(context.Background(), 0)

	assert.Zero(t, store.calls.Load())
}
