// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

// Times are persisted as Unix milliseconds.
type tokenRow struct {
	ID           string        `db:"id"`
	AccountID    int64         `db:"account_id"`
	Purpose      string        `db:"purpose"`
	CodeHash     string        `db:"code_hash"`
	CodeSalt     string        `db:"code_salt"`
	CreatedAt    int64         `db:"created_at"`
	ExpiresAt    int64         `db:"expires_at"`
	AttemptCount int           `db:"attempt_count"`
	MaxAttempts  int           `db:"max_attempts"`
	Used         bool          `db:"used"`
	UsedAt       sql.NullInt64 `db:"used_at"`
}

func (row *tokenRow) token() *models.RecoveryToken {
	t := &models.RecoveryToken{
		ID:           row.ID,
		AccountID:    row.AccountID,
		Purpose:      models.Purpose(row.Purpose),
		CodeHash:     row.CodeHash,
		CodeSalt:     row.CodeSalt,
		CreatedAt:    time.UnixMilli(row.CreatedAt),
		ExpiresAt:    time.UnixMilli(row.ExpiresAt),
		AttemptCount: row.AttemptCount,
		MaxAttempts:  row.MaxAttempts,
		Used:         row.Used,
	}
	if row.UsedAt.Valid {
		usedAt := time.UnixMilli(row.UsedAt.Int64)
		t.UsedAt = &usedAt
	}
	return t
}

const tokenColumns = `id, account_id, purpose, code_hash, code_salt, created_at, expires_at, attempt_count, max_attempts, used, used_at`

const activeCondition = `account_id = ? AND purpose = ? AND used = 0 AND expires_at > ? AND attempt_count < max_attempts`

// SupersedeAndCreate invalidates the active token and inserts a new one in a
// single immediate transaction, so concurrent requests for the same account
// serialise on the write lock.
func (r *Repository) SupersedeAndCreate(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, int64, error) {
	now = now.Truncate(time.Millisecond)
	token, err := models.NewRecoveryToken(accountID, purpose, code, now, ttl, maxAttempts)
	if err != nil {
		return nil, 0, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, storageError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	superseded, err := invalidateActive(ctx, tx, accountID, purpose, now)
	if err != nil {
		return nil, 0, storageError(err)
	}
	if err := insertToken(ctx, tx, token); err != nil {
		return nil, 0, storageError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, storageError(err)
	}

	return token, superseded, nil
}

// InvalidateActive marks every active token for the account and purpose as
// used and returns how many were affected.
func (r *Repository) InvalidateActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (int64, error) {
	n, err := invalidateActive(ctx, r.db, accountID, purpose, now)
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

// Create inserts a new token. Callers are responsible for invalidating the
// previous one first; SupersedeAndCreate does both.
func (r *Repository) Create(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, error) {
	token, err := models.NewRecoveryToken(accountID, purpose, code, now.Truncate(time.Millisecond), ttl, maxAttempts)
	if err != nil {
		return nil, err
	}
	if err := insertToken(ctx, r.db, token); err != nil {
		return nil, storageError(err)
	}
	return token, nil
}

// FindActive returns the active token for the account and purpose.
func (r *Repository) FindActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (*models.RecoveryToken, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+tokenColumns+` FROM recovery_tokens WHERE `+activeCondition+` ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		accountID, purpose, now.UnixMilli())
	if err != nil {
		return nil, tokenError(err)
	}
	return row.token(), nil
}

// FindActiveByCode returns the active token only if code matches it.
func (r *Repository) FindActiveByCode(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time) (*models.RecoveryToken, error) {
	var rows []tokenRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+tokenColumns+` FROM recovery_tokens WHERE `+activeCondition+` ORDER BY created_at DESC, rowid DESC`,
		accountID, purpose, now.UnixMilli())
	if err != nil {
		return nil, storageError(err)
	}

	for i := range rows {
		t := rows[i].token()
		if t.Matches(code) {
			return t, nil
		}
	}
	return nil, recovery.ErrTokenNotFound
}

// FindLatest returns the newest token for the account and purpose in any state.
func (r *Repository) FindLatest(ctx context.Context, accountID int64, purpose models.Purpose) (*models.RecoveryToken, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+tokenColumns+` FROM recovery_tokens WHERE account_id = ? AND purpose = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		accountID, purpose)
	if err != nil {
		return nil, tokenError(err)
	}
	return row.token(), nil
}

// IncrementAttempt is a compare-and-increment: the counter never passes
// max_attempts. At the ceiling the current count is returned unchanged.
func (r *Repository) IncrementAttempt(ctx context.Context, tokenID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`UPDATE recovery_tokens SET attempt_count = attempt_count + 1
		 WHERE id = ? AND attempt_count < max_attempts
		 RETURNING attempt_count`, tokenID)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, storageError(err)
	}

	err = r.db.GetContext(ctx, &count, `SELECT attempt_count FROM recovery_tokens WHERE id = ?`, tokenID)
	if err != nil {
		return 0, tokenError(err)
	}
	return count, nil
}

// MarkUsed transitions the token to used. Returns false if it already was.
func (r *Repository) MarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_tokens SET used = 1, used_at = ? WHERE id = ? AND used = 0`,
		now.UnixMilli(), tokenID)
	if err != nil {
		return false, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM recovery_tokens WHERE id = ?)`, tokenID); err != nil {
		return false, storageError(err)
	}
	if !exists {
		return false, recovery.ErrTokenNotFound
	}
	return false, nil
}

// DeleteExpired removes unused tokens past their expiry. Used tokens are
// kept for the retention window and removed by DeleteUsedOlderThan.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(ctx, `used = 0 AND expires_at <= ?`, now.UnixMilli())
}

// DeleteUsedOlderThan removes used tokens consumed before cutoff.
func (r *Repository) DeleteUsedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.deleteWhere(ctx, `used = 1 AND used_at < ?`, cutoff.UnixMilli())
}

// CountRecentlyCreated counts tokens issued since the given time.
func (r *Repository) CountRecentlyCreated(ctx context.Context, accountID int64, purpose models.Purpose, since time.Time) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM recovery_tokens WHERE account_id = ? AND purpose = ? AND created_at >= ?`,
		accountID, purpose, since.UnixMilli())
	if err != nil {
		return 0, storageError(err)
	}
	return count, nil
}

func (r *Repository) deleteWhere(ctx context.Context, cond string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_tokens WHERE `+cond, args...)
	if err != nil {
		return 0, storageError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

func invalidateActive(ctx context.Context, db sqlx.ExecerContext, accountID int64, purpose models.Purpose, now time.Time) (int64, error) {
	ms := now.UnixMilli()
	res, err := db.ExecContext(ctx,
		`UPDATE recovery_tokens SET used = 1, used_at = ? WHERE `+activeCondition,
		ms, accountID, purpose, ms)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insertToken(ctx context.Context, db sqlx.ExecerContext, t *models.RecoveryToken) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO recovery_tokens (id, account_id, purpose, code_hash, code_salt, created_at, expires_at, attempt_count, max_attempts, used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 0)`,
		t.ID, t.AccountID, t.Purpose, t.CodeHash, t.CodeSalt,
		t.CreatedAt.UnixMilli(), t.ExpiresAt.UnixMilli(), t.MaxAttempts)
	return err
}

func tokenError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return recovery.ErrTokenNotFound
	}
	return storageError(err)
}
