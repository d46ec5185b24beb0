// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
)

// TokenStore persists recovery tokens. Every method is atomic with respect
// to the single-active-token invariant.
type TokenStore interface {
	// SupersedeAndCreate marks every active token for the account and
	// purpose as used and inserts a new one, in one transaction. It returns
	// the new token and the number of tokens superseded.
	SupersedeAndCreate(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, int64, error)
	InvalidateActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (int64, error)
	Create(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, error)
	FindActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (*models.RecoveryToken, error)
	FindActiveByCode(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time) (*models.RecoveryToken, error)
	// FindLatest returns the most recently created token regardless of state.
	FindLatest(ctx context.Context, accountID int64, purpose models.Purpose) (*models.RecoveryToken, error)
	// IncrementAttempt bumps the attempt counter unless it already reached
	// the ceiling and returns the resulting count.
	IncrementAttempt(ctx context.Context, tokenID string) (int, error)
	// MarkUsed reports whether this call performed the transition.
	MarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteUsedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountRecentlyCreated(ctx context.Context, accountID int64, purpose models.Purpose, since time.Time) (int64, error)
}

// AccountDirectory resolves identifiers and owns the credential.
type AccountDirectory interface {
	Resolve(ctx context.Context, id Identifier) (*models.Account, error)
	UpdateCredential(ctx context.Context, accountID int64, credentialHash string) error
}

// Notifier delivers codes and change confirmations out of band.
type Notifier interface {
	SendCode(ctx context.Context, account *models.Account, channel models.Channel, code string, ttl time.Duration) error
	SendConfirmation(ctx context.Context, account *models.Account) error
}

// CodeGenerator produces one-time codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// Locker serialises work on a single key across callers.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}
