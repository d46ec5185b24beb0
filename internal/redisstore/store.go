// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package redisstore keeps recovery tokens and reset locks in Redis so
// several service instances can share them. Every mutation runs as a Lua
// script and is therefore atomic on the server.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

// DefaultPrefix namespaces all keys written by the store and the locker.
const DefaultPrefix = "otp"

// Store implements recovery.TokenStore.
//
// Layout, with p being the prefix:
//
//	p:token:<id>                    hash with the token fields, times in ms
//	p:tokens:<account>:<purpose>    sorted set of token ids by created_at
//	p:idx:expiry                    unused token ids by expires_at
//	p:idx:used                      used token ids by used_at
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ recovery.TokenStore = (*Store)(nil)

// New creates a Store. An empty prefix selects DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) tokenPrefix() string { return s.prefix + ":token:" }
func (s *Store) setPrefix() string   { return s.prefix + ":tokens:" }
func (s *Store) expiryKey() string   { return s.prefix + ":idx:expiry" }
func (s *Store) usedKey() string     { return s.prefix + ":idx:used" }

func (s *Store) tokenKey(id string) string {
	return s.tokenPrefix() + id
}

func (s *Store) accountKey(accountID int64, purpose models.Purpose) string {
	return s.setPrefix() + strconv.FormatInt(accountID, 10) + ":" + string(purpose)
}

// SupersedeAndCreate invalidates the active token and stores a new one in
// one script invocation.
func (s *Store) SupersedeAndCreate(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, int64, error) {
	token, err := models.NewRecoveryToken(accountID, purpose, code, now.Truncate(time.Millisecond), ttl, maxAttempts)
	if err != nil {
		return nil, 0, err
	}

	superseded, err := supersedeScript.Run(ctx, s.redis, s.createKeys(token), s.createArgs(token, now)...).Int64()
	if err != nil {
		return nil, 0, storageError(err)
	}
	return token, superseded, nil
}

// InvalidateActive marks every active token for the account and purpose as used.
func (s *Store) InvalidateActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (int64, error) {
	keys := []string{s.accountKey(accountID, purpose), s.expiryKey(), s.usedKey()}
	n, err := invalidateScript.Run(ctx, s.redis, keys, now.UnixMilli(), s.tokenPrefix()).Int64()
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

// Create stores a new token without touching existing ones.
func (s *Store) Create(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*models.RecoveryToken, error) {
	token, err := models.NewRecoveryToken(accountID, purpose, code, now.Truncate(time.Millisecond), ttl, maxAttempts)
	if err != nil {
		return nil, err
	}

	if err := createScript.Run(ctx, s.redis, s.createKeys(token), s.createArgs(token, now)...).Err(); err != nil {
		return nil, storageError(err)
	}
	return token, nil
}

func (s *Store) createKeys(t *models.RecoveryToken) []string {
	return []string{s.accountKey(t.AccountID, t.Purpose), s.expiryKey(), s.usedKey(), s.tokenKey(t.ID)}
}

func (s *Store) createArgs(t *models.RecoveryToken, now time.Time) []any {
	return []any{
		now.UnixMilli(), s.tokenPrefix(),
		t.ID, t.AccountID, string(t.Purpose), t.CodeHash, t.CodeSalt,
		t.CreatedAt.UnixMilli(), t.ExpiresAt.UnixMilli(), t.MaxAttempts,
	}
}

// FindActive returns the newest active token.
func (s *Store) FindActive(ctx context.Context, accountID int64, purpose models.Purpose, now time.Time) (*models.RecoveryToken, error) {
	tokens, err := s.list(ctx, accountID, purpose, -1)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.IsActive(now) {
			return t, nil
		}
	}
	return nil, recovery.ErrTokenNotFound
}

// FindActiveByCode returns the active token matching code.
func (s *Store) FindActiveByCode(ctx context.Context, accountID int64, purpose models.Purpose, code string, now time.Time) (*models.RecoveryToken, error) {
	tokens, err := s.list(ctx, accountID, purpose, -1)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.IsActive(now) && t.Matches(code) {
			return t, nil
		}
	}
	return nil, recovery.ErrTokenNotFound
}

// FindLatest returns the newest token in any state.
func (s *Store) FindLatest(ctx context.Context, accountID int64, purpose models.Purpose) (*models.RecoveryToken, error) {
	tokens, err := s.list(ctx, accountID, purpose, 0)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, recovery.ErrTokenNotFound
	}
	return tokens[0], nil
}

// IncrementAttempt bumps the counter unless it reached the ceiling.
func (s *Store) IncrementAttempt(ctx context.Context, tokenID string) (int, error) {
	n, err := incrementScript.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}).Int()
	if err != nil {
		return 0, storageError(err)
	}
	if n < 0 {
		return 0, recovery.ErrTokenNotFound
	}
	return n, nil
}

// MarkUsed transitions the token to used and reports whether it changed.
func (s *Store) MarkUsed(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	keys := []string{s.tokenKey(tokenID), s.expiryKey(), s.usedKey()}
	n, err := markUsedScript.Run(ctx, s.redis, keys, now.UnixMilli(), tokenID).Int()
	if err != nil {
		return false, storageError(err)
	}
	if n < 0 {
		return false, recovery.ErrTokenNotFound
	}
	return n == 1, nil
}

// DeleteExpired removes unused tokens whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.purge(ctx, s.expiryKey(), strconv.FormatInt(now.UnixMilli(), 10), "0")
}

// DeleteUsedOlderThan removes used tokens consumed before cutoff.
func (s *Store) DeleteUsedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.purge(ctx, s.usedKey(), "("+strconv.FormatInt(cutoff.UnixMilli(), 10), "1")
}

// CountRecentlyCreated counts tokens created at or after since.
func (s *Store) CountRecentlyCreated(ctx context.Context, accountID int64, purpose models.Purpose, since time.Time) (int64, error) {
	n, err := s.redis.ZCount(ctx, s.accountKey(accountID, purpose), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

func (s *Store) purge(ctx context.Context, index, maxScore, used string) (int64, error) {
	n, err := purgeScript.Run(ctx, s.redis, []string{index}, maxScore, s.tokenPrefix(), s.setPrefix(), used).Int64()
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

// list loads the account's tokens newest first. stop is the last index to
// fetch, -1 for all.
func (s *Store) list(ctx context.Context, accountID int64, purpose models.Purpose, stop int64) ([]*models.RecoveryToken, error) {
	ids, err := s.redis.ZRevRange(ctx, s.accountKey(accountID, purpose), 0, stop).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.tokenKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	tokens := make([]*models.RecoveryToken, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		t, err := decodeToken(fields)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func decodeToken(fields map[string]string) (*models.RecoveryToken, error) {
	var errs []error
	num := func(name string) int64 {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", name, err))
		}
		return v
	}

	t := &models.RecoveryToken{
		ID:           fields["id"],
		AccountID:    num("account_id"),
		Purpose:      models.Purpose(fields["purpose"]),
		CodeHash:     fields["code_hash"],
		CodeSalt:     fields["code_salt"],
		CreatedAt:    time.UnixMilli(num("created_at")),
		ExpiresAt:    time.UnixMilli(num("expires_at")),
		AttemptCount: int(num("attempt_count")),
		MaxAttempts:  int(num("max_attempts")),
		Used:         fields["used"] == "1",
	}
	if raw, ok := fields["used_at"]; ok && raw != "" {
		usedAt := time.UnixMilli(num("used_at"))
		t.UsedAt = &usedAt
	}

	if len(errs) > 0 {
		return nil, storageError(fmt.Errorf("corrupt token %s: %w", t.ID, errors.Join(errs...)))
	}
	return t, nil
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", recovery.ErrStorage, err)
}
