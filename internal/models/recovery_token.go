// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Purpose scopes a recovery token. At most one token per account and
// purpose is active at any time.
type Purpose string

const (
	PurposePasswordReset Purpose = "password_reset"
)

// TokenState classifies a token at a point in time.
type TokenState string

const (
	TokenActive    TokenState = "active"
	TokenExhausted TokenState = "exhausted"
	TokenExpired   TokenState = "expired"
	TokenUsed      TokenState = "used"
)

// codeSaltLength is the number of random bytes salting each stored code.
const codeSaltLength = 16

// RecoveryToken is a one-time passcode issued to an account.
// The code itself is never stored, only its salted SHA256 hash.
type RecoveryToken struct { //nolint:govet // fieldalignment: readability over optimization
	ID           string     `json:"id"`
	AccountID    int64      `json:"account_id"`
	Purpose      Purpose    `json:"purpose"`
	CodeHash     string     `json:"-"`
	CodeSalt     string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	Used         bool       `json:"used"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

// NewRecoveryToken builds an unsaved token for code. The returned token
// carries a fresh ID, salt and hash and expires ttl after now.
func NewRecoveryToken(accountID int64, purpose Purpose, code string, now time.Time, ttl time.Duration, maxAttempts int) (*RecoveryToken, error) {
	salt, err := NewCodeSalt()
	if err != nil {
		return nil, err
	}
	return &RecoveryToken{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Purpose:     purpose,
		CodeHash:    HashCode(salt, code),
		CodeSalt:    salt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		MaxAttempts: maxAttempts,
	}, nil
}

// IsExpired reports whether the token's active window has passed.
func (t *RecoveryToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsExhausted reports whether the attempt ceiling has been reached.
func (t *RecoveryToken) IsExhausted() bool {
	return t.AttemptCount >= t.MaxAttempts
}

// IsActive reports whether the token can still be verified.
func (t *RecoveryToken) IsActive(now time.Time) bool {
	return !t.Used && !t.IsExpired(now) && !t.IsExhausted()
}

// State returns the most specific classification of the token.
// Used wins over exhausted, exhausted over expired.
func (t *RecoveryToken) State(now time.Time) TokenState {
	switch {
	case t.Used:
		return TokenUsed
	case t.IsExhausted():
		return TokenExhausted
	case t.IsExpired(now):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Matches compares code against the stored hash in constant time.
func (t *RecoveryToken) Matches(code string) bool {
	candidate := HashCode(t.CodeSalt, code)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(t.CodeHash)) == 1
}

// NewCodeSalt returns a fresh hex encoded salt for HashCode.
func NewCodeSalt() (string, error) {
	b := make([]byte, codeSaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashCode computes the storage form of a code: hex(sha256(salt || code)).
func HashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + code))
	return hex.EncodeToString(sum[:])
}
