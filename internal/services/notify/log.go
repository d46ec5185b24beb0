// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them. It stands
// in for both transports when none is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) SendCode(ctx context.Context, to, code string, minutes int) error {
	l.logger.InfoContext(ctx, "dev_delivery", "kind", "code", "to", to, "code", code, "minutes", minutes)
	return nil
}

func (l *LogSender) SendConfirmation(ctx context.Context, to string) error {
	l.logger.InfoContext(ctx, "dev_delivery", "kind", "confirmation", "to", to)
	return nil
}

func (l *LogSender) Send(ctx context.Context, to, text string) error {
	l.logger.InfoContext(ctx, "dev_delivery", "kind", "sms", "to", to, "text", text)
	return nil
}
