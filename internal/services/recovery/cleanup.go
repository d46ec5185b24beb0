// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"context"
	"log/slog"
	"time"
)

// Cleanup purges expired tokens and used tokens past the retention window.
// Tokens still inside the widest enabled rate-limit window are kept, since
// the limits count them. Storage errors are logged and swallowed; the next
// run retries.
func (s *Service) Cleanup(ctx context.Context) CleanupResult {
	now := s.opts.Now()
	window := s.retainFor()
	var res CleanupResult

	expired, err := s.store.DeleteExpired(ctx, now.Add(-window))
	if err != nil {
		slog.Error("recovery_cleanup_failed", "step", "expired", "error", err)
	} else {
		res.ExpiredDeleted = expired
	}

	used, err := s.store.DeleteUsedOlderThan(ctx, now.Add(-max(s.opts.UsedRetention, window)))
	if err != nil {
		slog.Error("recovery_cleanup_failed", "step", "used", "error", err)
	} else {
		res.UsedDeleted = used
	}

	slog.Info("recovery_cleanup", "expired_deleted", res.ExpiredDeleted, "used_deleted", res.UsedDeleted)
	return res
}

// retainFor is the longest span the rate limits look back over.
func (s *Service) retainFor() time.Duration {
	var span time.Duration
	for _, w := range s.rateWindows() {
		span = max(span, w.span)
	}
	return span
}

// RunCleanupLoop runs Cleanup immediately and then every interval until ctx
// is done.
func (s *Service) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.Cleanup(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
