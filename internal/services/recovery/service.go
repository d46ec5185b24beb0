// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package recovery implements credential recovery with short-lived,
// single-use numeric codes delivered out of band.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"codeberg.org/oliverandrich/otp-recovery/internal/models"
)

// Options tunes the service. Zero values for Purpose, CodeTTL, MaxAttempts,
// UsedRetention and Now fall back to the defaults; a zero limit disables
// that window and a zero ResponseFloor disables padding.
type Options struct {
	Purpose           models.Purpose
	CodeTTL           time.Duration
	MaxAttempts       int
	UsedRetention     time.Duration
	HourlyLimit       int
	DailyLimit        int
	MinPasswordLength int
	ResponseFloor     time.Duration
	Now               func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Purpose:           models.PurposePasswordReset,
		CodeTTL:           15 * time.Minute,
		MaxAttempts:       3,
		UsedRetention:     7 * 24 * time.Hour,
		HourlyLimit:       5,
		DailyLimit:        10,
		MinPasswordLength: 8,
		ResponseFloor:     300 * time.Millisecond,
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Purpose == "" {
		o.Purpose = d.Purpose
	}
	if o.CodeTTL <= 0 {
		o.CodeTTL = d.CodeTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.UsedRetention <= 0 {
		o.UsedRetention = d.UsedRetention
	}
	if o.MinPasswordLength <= 0 {
		o.MinPasswordLength = d.MinPasswordLength
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Service orchestrates the recovery flow. It is stateless apart from its
// collaborators and safe for concurrent use.
type Service struct {
	store     TokenStore
	directory AccountDirectory
	notifier  Notifier
	generator CodeGenerator
	locker    Locker
	opts      Options
}

// NewService wires a service from its collaborators.
func NewService(store TokenStore, directory AccountDirectory, notifier Notifier, generator CodeGenerator, locker Locker, opts Options) *Service {
	return &Service{
		store:     store,
		directory: directory,
		notifier:  notifier,
		generator: generator,
		locker:    locker,
		opts:      opts.withDefaults(),
	}
}

// RequestRecovery issues a new code for the account behind identifier.
// Unknown identifiers get the same success result as known ones.
func (s *Service) RequestRecovery(ctx context.Context, identifier string) (RequestResult, error) {
	return s.padded(ctx, func() (RequestResult, error) {
		return s.issue(ctx, identifier, "recovery_request")
	})
}

// ResendRecovery behaves exactly like RequestRecovery: the previous code is
// superseded and the same rate limits apply.
func (s *Service) ResendRecovery(ctx context.Context, identifier string) (RequestResult, error) {
	return s.padded(ctx, func() (RequestResult, error) {
		return s.issue(ctx, identifier, "recovery_resend")
	})
}

// padded runs fn and holds the result back until ResponseFloor has passed,
// so response timing does not tell known identifiers from unknown ones.
func (s *Service) padded(ctx context.Context, fn func() (RequestResult, error)) (RequestResult, error) {
	start := time.Now()
	res, err := fn()

	if wait := s.opts.ResponseFloor - time.Since(start); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return RequestResult{}, ctx.Err()
		}
	}

	return res, err
}

func (s *Service) issue(ctx context.Context, raw, event string) (RequestResult, error) {
	generic := RequestResult{Status: StatusSuccess, ExpiryMinutes: s.expiryMinutes()}
	now := s.opts.Now()

	id, acc, err := s.resolve(ctx, raw)
	if err != nil {
		return RequestResult{}, err
	}
	if acc == nil {
		slog.Info(event, "purpose", s.opts.Purpose, "reason", "account_not_found")
		return generic, nil
	}

	out, window, err := s.createLocked(ctx, acc.ID)
	if err != nil {
		return RequestResult{}, err
	}
	if window != "" {
		slog.Warn(event, "account_id", acc.ID, "purpose", s.opts.Purpose, "reason", "rate_limited", "window", window)
		return RequestResult{Status: StatusRateLimited}, nil
	}

	if err := s.notifier.SendCode(ctx, acc, id.Channel, out.code, s.opts.CodeTTL); err != nil {
		slog.Warn(event, "account_id", acc.ID, "purpose", s.opts.Purpose, "reason", "delivery_failed", "channel", id.Channel, "error", err)
		// The code never reached the user, so it must not stay guessable.
		if _, markErr := s.store.MarkUsed(context.WithoutCancel(ctx), out.token.ID, now); markErr != nil {
			slog.Error("recovery_token_discard_failed", "account_id", acc.ID, "token_id", out.token.ID, "error", markErr)
		}
		return RequestResult{Status: StatusDeliveryFailed}, nil
	}

	slog.Info(event, "account_id", acc.ID, "purpose", s.opts.Purpose, "reason", "issued",
		"channel", id.Channel, "token_id", out.token.ID, "superseded", out.superseded)

	return generic, nil
}

// issued is a freshly stored token together with its plaintext code.
type issued struct {
	token      *models.RecoveryToken
	code       string
	superseded int64
}

// createLocked checks the rate limits and stores a new token under the
// account lock, so concurrent requests cannot all pass the same count.
// A non-empty window means the request was rate limited.
func (s *Service) createLocked(ctx context.Context, accountID int64) (issued, string, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(accountID, s.opts.Purpose))
	if err != nil {
		return issued{}, "", storageFault(err)
	}
	defer unlock()

	now := s.opts.Now()

	window, err := s.rateLimited(ctx, accountID, now)
	if err != nil || window != "" {
		return issued{}, window, err
	}

	code, err := s.generator.Generate()
	if err != nil {
		return issued{}, "", fmt.Errorf("failed to generate code: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return issued{}, "", err
	}

	token, superseded, err := s.store.SupersedeAndCreate(ctx, accountID, s.opts.Purpose, code, now, s.opts.CodeTTL, s.opts.MaxAttempts)
	if err != nil {
		return issued{}, "", storageFault(err)
	}
	return issued{token: token, code: code, superseded: superseded}, "", nil
}

// VerifyRecovery checks a code without consuming it. A wrong guess against
// an active token counts as an attempt.
func (s *Service) VerifyRecovery(ctx context.Context, identifier, code string) (VerifyResult, error) {
	now := s.opts.Now()

	_, acc, err := s.resolve(ctx, identifier)
	if err != nil {
		return VerifyResult{}, err
	}
	if acc == nil {
		slog.Info("recovery_verify_failed", "purpose", s.opts.Purpose, "reason", "account_not_found")
		return VerifyResult{Status: StatusInvalid}, nil
	}

	token, err := s.store.FindActiveByCode(ctx, acc.ID, s.opts.Purpose, code, now)
	if errors.Is(err, ErrTokenNotFound) {
		if err := s.rejectGuess(ctx, acc.ID, now, "recovery_verify_failed"); err != nil {
			return VerifyResult{}, err
		}
		return VerifyResult{Status: StatusInvalid}, nil
	}
	if err != nil {
		return VerifyResult{}, storageFault(err)
	}

	slog.Info("recovery_verify_success", "account_id", acc.ID, "purpose", s.opts.Purpose, "token_id", token.ID)
	return VerifyResult{Status: StatusSuccess}, nil
}

// ResetPassword consumes a valid code and replaces the account credential.
// Concurrent resets for one account are serialised, so a code changes the
// credential at most once.
func (s *Service) ResetPassword(ctx context.Context, identifier, code, newCredential, confirmCredential string) (ResetResult, error) {
	if newCredential != confirmCredential {
		return validationFailed("passwords do not match"), nil
	}
	if utf8.RuneCountInString(newCredential) < s.opts.MinPasswordLength {
		return validationFailed(fmt.Sprintf("password must be at least %d characters", s.opts.MinPasswordLength)), nil
	}

	now := s.opts.Now()

	_, acc, err := s.resolve(ctx, identifier)
	if err != nil {
		return ResetResult{}, err
	}
	if acc == nil {
		slog.Info("recovery_reset_failed", "purpose", s.opts.Purpose, "reason", "account_not_found")
		return invalidReset(), nil
	}

	res, err := s.resetLocked(ctx, acc, code, newCredential, now)
	if err != nil || res.Status != StatusSuccess {
		return res, err
	}

	if err := s.notifier.SendConfirmation(ctx, acc); err != nil {
		slog.Warn("recovery_confirmation_failed", "account_id", acc.ID, "purpose", s.opts.Purpose, "error", err)
	}

	return res, nil
}

func (s *Service) resetLocked(ctx context.Context, acc *models.Account, code, newCredential string, now time.Time) (ResetResult, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(acc.ID, s.opts.Purpose))
	if err != nil {
		return ResetResult{}, storageFault(err)
	}
	defer unlock()

	token, err := s.store.FindActiveByCode(ctx, acc.ID, s.opts.Purpose, code, now)
	if errors.Is(err, ErrTokenNotFound) {
		if err := s.rejectGuess(ctx, acc.ID, now, "recovery_reset_failed"); err != nil {
			return ResetResult{}, err
		}
		return invalidReset(), nil
	}
	if err != nil {
		return ResetResult{}, storageFault(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newCredential), bcrypt.DefaultCost)
	if err != nil {
		return ResetResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	// The token stays active if this fails, so the user can retry.
	if err := s.directory.UpdateCredential(ctx, acc.ID, string(hash)); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			slog.Warn("recovery_reset_failed", "account_id", acc.ID, "purpose", s.opts.Purpose, "reason", "account_vanished")
			return invalidReset(), nil
		}
		return ResetResult{}, storageFault(err)
	}

	changed, err := s.store.MarkUsed(ctx, token.ID, now)
	if err != nil {
		return ResetResult{}, storageFault(err)
	}
	if !changed {
		// A concurrent request superseded the token after the lookup. The
		// credential change still happened exactly once, under the lock.
		slog.Warn("recovery_reset_token_superseded", "account_id", acc.ID, "purpose", s.opts.Purpose, "token_id", token.ID)
	}

	if n, err := s.store.InvalidateActive(ctx, acc.ID, s.opts.Purpose, now); err != nil {
		slog.Warn("recovery_invalidate_failed", "account_id", acc.ID, "purpose", s.opts.Purpose, "error", err)
	} else if n > 0 {
		slog.Info("recovery_invalidated_concurrent", "account_id", acc.ID, "purpose", s.opts.Purpose, "count", n)
	}

	slog.Info("recovery_reset_success", "account_id", acc.ID, "purpose", s.opts.Purpose, "token_id", token.ID)
	return ResetResult{Status: StatusSuccess}, nil
}

// rejectGuess records a failed code check. The attempt counter only moves
// when there is an active token the guess was made against; otherwise the
// most specific reason is logged.
func (s *Service) rejectGuess(ctx context.Context, accountID int64, now time.Time, event string) error {
	active, err := s.store.FindActive(ctx, accountID, s.opts.Purpose, now)
	switch {
	case err == nil:
		count, err := s.store.IncrementAttempt(ctx, active.ID)
		if err != nil {
			return storageFault(err)
		}
		reason := "wrong_code"
		if count >= active.MaxAttempts {
			reason = "wrong_code_exhausted"
		}
		slog.Warn(event, "account_id", accountID, "purpose", s.opts.Purpose, "reason", reason,
			"token_id", active.ID, "attempts", count, "max_attempts", active.MaxAttempts)
		return nil
	case !errors.Is(err, ErrTokenNotFound):
		return storageFault(err)
	}

	reason := "no_token"
	latest, err := s.store.FindLatest(ctx, accountID, s.opts.Purpose)
	switch {
	case err == nil:
		reason = string(latest.State(now))
	case !errors.Is(err, ErrTokenNotFound):
		return storageFault(err)
	}

	slog.Warn(event, "account_id", accountID, "purpose", s.opts.Purpose, "reason", reason)
	return nil
}

// resolve parses and looks up an identifier. A nil account with a nil error
// means the identifier is malformed or unknown.
func (s *Service) resolve(ctx context.Context, raw string) (Identifier, *models.Account, error) {
	id, err := ParseIdentifier(raw)
	if err != nil {
		return Identifier{}, nil, nil
	}

	acc, err := s.directory.Resolve(ctx, id)
	if errors.Is(err, ErrAccountNotFound) {
		return id, nil, nil
	}
	if err != nil {
		return id, nil, storageFault(err)
	}
	return id, acc, nil
}

type rateWindow struct {
	name  string
	limit int
	span  time.Duration
}

// rateWindows lists the enabled issuance limits.
func (s *Service) rateWindows() []rateWindow {
	var windows []rateWindow
	for _, w := range []rateWindow{
		{"hourly", s.opts.HourlyLimit, time.Hour},
		{"daily", s.opts.DailyLimit, 24 * time.Hour},
	} {
		if w.limit > 0 {
			windows = append(windows, w)
		}
	}
	return windows
}

// rateLimited returns the name of the exceeded window, or "".
func (s *Service) rateLimited(ctx context.Context, accountID int64, now time.Time) (string, error) {
	for _, w := range s.rateWindows() {
		count, err := s.store.CountRecentlyCreated(ctx, accountID, s.opts.Purpose, now.Add(-w.span))
		if err != nil {
			return "", storageFault(err)
		}
		if count >= int64(w.limit) {
			return w.name, nil
		}
	}
	return "", nil
}

func (s *Service) expiryMinutes() int {
	return int(s.opts.CodeTTL / time.Minute)
}

func lockKey(accountID int64, purpose models.Purpose) string {
	return fmt.Sprintf("recovery:%d:%s", accountID, purpose)
}

// storageFault maps a collaborator error into the service's error contract.
func storageFault(err error) error {
	if errors.Is(err, ErrStorage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
