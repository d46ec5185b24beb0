// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/otp-recovery/internal/config"
	"codeberg.org/oliverandrich/otp-recovery/internal/database"
	"codeberg.org/oliverandrich/otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/otp-recovery/internal/repository"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"
)

// Cleanup runs a single cleanup pass, for use from an external scheduler.
func Cleanup(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(logOutput(cmd), cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("failed to close stores", "error", closeErr)
		}
	}()

	res := app.Service.Cleanup(ctx)
	fmt.Fprintf(cmd.Root().Writer, "expired deleted: %d\nused deleted: %d\n", res.ExpiredDeleted, res.UsedDeleted)
	return nil
}

// Migrate returns a command action that runs step against the configured
// database and prints the resulting schema version. The database is opened
// without auto-migration, so down and reset act on the schema as found.
func Migrate(step func(*sql.DB) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		cfg := config.NewFromCLI(cmd)
		setupLogger(logOutput(cmd), cfg.Log.Level, cfg.Log.Format)

		db, err := database.Connect(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := step(db.DB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		version, err := database.Version(db.DB)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		slog.Info("migrations done", "dsn", cfg.Database.DSN, "version", version)
		fmt.Fprintf(cmd.Root().Writer, "schema version: %d\n", version)
		return nil
	}
}

// AddUser seeds an account in the directory.
func AddUser(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	setupLogger(logOutput(cmd), cfg.Log.Level, cfg.Log.Format)

	email := cmd.String("email")
	if email == "" {
		return errors.New("--email is required")
	}

	var hash string
	if password := cmd.String("password"); password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		hash = string(b)
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	user, err := repository.New(db).CreateUser(ctx, email, cmd.String("phone"), hash)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(cmd.Root().Writer, "created user %d (%s)\n", user.ID, user.Email)
	return nil
}
