// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/otp-recovery/internal/config"
	"codeberg.org/oliverandrich/otp-recovery/internal/database"
	"codeberg.org/oliverandrich/otp-recovery/internal/keylock"
	"codeberg.org/oliverandrich/otp-recovery/internal/redisstore"
	"codeberg.org/oliverandrich/otp-recovery/internal/repository"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/email"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/notify"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/otp"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/sms"
	"github.com/redis/go-redis/v9"
	"github.com/vinovest/sqlx"
)

// App holds the wired recovery service and the connections behind it.
type App struct {
	DB      *sqlx.DB
	Redis   *redis.Client // nil when tokens live in SQLite
	Repo    *repository.Repository
	Service *recovery.Service
}

// Build opens the stores named in cfg and wires the recovery service.
// Accounts always live in SQLite; tokens and reset locks move to Redis when
// a Redis URL is configured.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app := &App{DB: db, Repo: repository.New(db)}

	var (
		store  recovery.TokenStore = app.Repo
		locker recovery.Locker     = keylock.New()
	)

	if cfg.Redis.URL != "" {
		opts, parseErr := redis.ParseURL(cfg.Redis.URL)
		if parseErr != nil {
			_ = app.Close()
			return nil, fmt.Errorf("invalid redis url: %w", parseErr)
		}
		app.Redis = redis.NewClient(opts)
		if pingErr := app.Redis.Ping(ctx).Err(); pingErr != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", pingErr)
		}
		store = redisstore.New(app.Redis, cfg.Redis.Prefix)
		locker = redisstore.NewLocker(app.Redis, cfg.Redis.Prefix, 0, 0)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Service = recovery.NewService(store, app.Repo, notifier, otp.New(), locker, recoveryOptions(cfg))

	slog.Info("recovery service ready",
		"token_store", storeName(app.Redis),
		"code_ttl", cfg.Recovery.CodeTTL,
		"max_attempts", cfg.Recovery.MaxAttempts,
	)

	return app, nil
}

// Close releases the Redis client and the database.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// newNotifier picks the delivery transports. Without an SMTP host both
// channels are logged instead of delivered.
func newNotifier(cfg *config.Config) (*notify.Dispatcher, error) {
	if cfg.SMTP.Host == "" {
		slog.Warn("no SMTP host configured, recovery codes are written to the log")
		dev := notify.NewLogSender(slog.Default())
		return notify.NewDispatcher(dev, dev), nil
	}

	mailer, err := email.NewService(&cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("failed to configure email: %w", err)
	}

	if cfg.SMS.GatewayURL == "" {
		return notify.NewDispatcher(mailer, nil), nil
	}

	texter, err := sms.NewClient(&cfg.SMS, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to configure sms: %w", err)
	}

	return notify.NewDispatcher(mailer, texter), nil
}

func recoveryOptions(cfg *config.Config) recovery.Options {
	return recovery.Options{
		Purpose:           recovery.DefaultOptions().Purpose,
		CodeTTL:           cfg.Recovery.CodeTTL,
		MaxAttempts:       cfg.Recovery.MaxAttempts,
		UsedRetention:     cfg.Recovery.UsedRetention,
		HourlyLimit:       cfg.Recovery.HourlyLimit,
		DailyLimit:        cfg.Recovery.DailyLimit,
		MinPasswordLength: cfg.Recovery.MinPasswordLength,
		ResponseFloor:     cfg.Recovery.ResponseFloor,
	}
}

func storeName(client *redis.Client) string {
	if client != nil {
		return "redis"
	}
	return "sqlite"
}

// redisPinger adapts a Redis client to handlers.Pinger.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
