// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package redisstore

import (
	"context"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

// GetToken loads a single token.
func (s *Store) GetToken(ctx context.Context, tokenID string) (*models.RecoveryToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return nil, storageError(err)
	}
	if len(fields) == 0 {
		return nil, recovery.ErrTokenNotFound
	}
	return decodeToken(fields)
}
