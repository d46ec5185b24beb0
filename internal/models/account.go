// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// Channel is the out-of-band delivery channel for a recovery code.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Account is a row of the account directory.
type Account struct { //nolint:govet // fieldalignment not critical for models
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Destination returns the address the account is reached at on the given
// channel, or "" if the account has none.
func (a *Account) Destination(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return a.Email
	case ChannelSMS:
		return a.Phone
	default:
		return ""
	}
}
