// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

const userColumns = `id, email, COALESCE(phone, '') AS phone, password_hash, created_at, updated_at`

// CreateUser creates a new user. Email and phone are stored in the form
// ParseIdentifier produces so Resolve finds them. An empty phone is stored
// as NULL.
func (r *Repository) CreateUser(ctx context.Context, email, phone, passwordHash string) (*models.Account, error) {
	email, err := normalize(email, models.ChannelEmail)
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}

	var phoneArg any
	if phone != "" {
		if phone, err = normalize(phone, models.ChannelSMS); err != nil {
			return nil, fmt.Errorf("phone: %w", err)
		}
		phoneArg = phone
	}

	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, phone, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		email, phoneArg, passwordHash, now, now)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Account{
		ID:           id,
		Email:        email,
		Phone:        phone,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUserByEmail retrieves a user by their email address
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.Account, error) {
	var user models.Account
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// GetUserByPhone retrieves a user by their phone number
func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (*models.Account, error) {
	var user models.Account
	if err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone); err != nil {
		return nil, wrapError(err)
	}
	return &user, nil
}

// UpdateUserPassword updates a user's password hash
func (r *Repository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve looks up the account behind a parsed identifier.
func (r *Repository) Resolve(ctx context.Context, id recovery.Identifier) (*models.Account, error) {
	var (
		user *models.Account
		err  error
	)
	switch id.Channel {
	case models.ChannelEmail:
		user, err = r.GetUserByEmail(ctx, id.Value)
	case models.ChannelSMS:
		user, err = r.GetUserByPhone(ctx, id.Value)
	default:
		return nil, recovery.ErrAccountNotFound
	}

	if errors.Is(err, ErrNotFound) {
		return nil, recovery.ErrAccountNotFound
	}
	if err != nil {
		return nil, storageError(err)
	}
	return user, nil
}

// UpdateCredential stores a new password hash. Writing the same hash twice
// is harmless.
func (r *Repository) UpdateCredential(ctx context.Context, accountID int64, credentialHash string) error {
	err := r.UpdateUserPassword(ctx, accountID, credentialHash)
	if errors.Is(err, ErrNotFound) {
		return recovery.ErrAccountNotFound
	}
	if err != nil {
		return storageError(err)
	}
	return nil
}

func normalize(raw string, want models.Channel) (string, error) {
	id, err := recovery.ParseIdentifier(raw)
	if err != nil {
		return "", err
	}
	if id.Channel != want {
		return "", recovery.ErrInvalidIdentifier
	}
	return id.Value, nil
}
