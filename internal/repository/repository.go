// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vinovest/sqlx"

	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// Repository provides SQL access to accounts and recovery tokens.
// It implements recovery.AccountDirectory and recovery.TokenStore.
type Repository struct {
	db *sqlx.DB
}

var (
	_ recovery.AccountDirectory = (*Repository)(nil)
	_ recovery.TokenStore       = (*Repository)(nil)
)

// New creates a new Repository instance
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying connection for direct access
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// wrapError converts driver errors to repository errors
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// storageError marks err as a persistence fault for the recovery service.
func storageError(err error) error {
	return fmt.Errorf("%w: %w", recovery.ErrStorage, err)
}
