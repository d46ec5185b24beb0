// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package notify routes recovery messages to the email or SMS transport.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
)

var (
	ErrNoDestination      = errors.New("account has no address for channel")
	ErrChannelUnavailable = errors.New("channel not configured")
	ErrUnsupportedChannel = errors.New("unsupported channel")
)

// Mailer sends the localized recovery mails.
type Mailer interface {
	SendCode(ctx context.Context, to, code string, minutes int) error
	SendConfirmation(ctx context.Context, to string) error
}

// TextSender delivers a single text message to a phone number.
type TextSender interface {
	Send(ctx context.Context, to, text string) error
}

// Dispatcher implements recovery.Notifier. A nil transport disables its
// channel.
type Dispatcher struct {
	mail Mailer
	sms  TextSender
}

var _ recovery.Notifier = (*Dispatcher)(nil)

func NewDispatcher(mail Mailer, sms TextSender) *Dispatcher {
	return &Dispatcher{mail: mail, sms: sms}
}

func (d *Dispatcher) SendCode(ctx context.Context, account *models.Account, channel models.Channel, code string, ttl time.Duration) error {
	if channel != models.ChannelEmail && channel != models.ChannelSMS {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, channel)
	}
	to := account.Destination(channel)
	if to == "" {
		return fmt.Errorf("%w: %s", ErrNoDestination, channel)
	}
	minutes := Minutes(ttl)

	if channel == models.ChannelEmail {
		if d.mail == nil {
			return fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
		}
		return d.mail.SendCode(ctx, to, code, minutes)
	}

	if d.sms == nil {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
	}
	text := i18n.TData(ctx, "recovery_code_sms", map[string]any{
		"Code":    code,
		"Minutes": minutes,
	})
	return d.sms.Send(ctx, to, text)
}

// SendConfirmation prefers email and falls back to SMS.
func (d *Dispatcher) SendConfirmation(ctx context.Context, account *models.Account) error {
	if account.Email != "" && d.mail != nil {
		return d.mail.SendConfirmation(ctx, account.Email)
	}
	if account.Phone != "" && d.sms != nil {
		return d.sms.Send(ctx, account.Phone, i18n.T(ctx, "recovery_confirmation_sms"))
	}
	return ErrNoDestination
}

// Minutes rounds ttl up to whole minutes, never below one.
func Minutes(ttl time.Duration) int {
	return max(int(math.Ceil(ttl.Minutes())), 1)
}
