// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
)

// GetToken retrieves a token by ID.
func (r *Repository) GetToken(ctx context.Context, tokenID string) (*models.RecoveryToken, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row, `SELECT `+tokenColumns+` FROM recovery_tokens WHERE id = ?`, tokenID)
	if err != nil {
		return nil, tokenError(err)
	}
	return row.token(), nil
}
