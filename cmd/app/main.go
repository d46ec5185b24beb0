// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"fmt"
	"os"

	"codeberg.org/oliverandrich/otp-recovery/internal/config"
	"codeberg.org/oliverandrich/otp-recovery/internal/database"
	"codeberg.org/oliverandrich/otp-recovery/internal/server"
	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd := &cli.Command{
		Name:    "otp-recovery",
		Usage:   "Credential recovery with one-time codes",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags:   config.Flags(),
		Action:  server.Run,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API",
				Action: server.Run,
			},
			{
				Name:   "cleanup",
				Usage:  "Delete expired and old used codes once",
				Action: server.Cleanup,
			},
			{
				Name:  "migrate",
				Usage: "Manage database migrations",
				Commands: []*cli.Command{
					{Name: "up", Usage: "Apply pending migrations", Action: server.Migrate(database.RunMigrations)},
					{Name: "down", Usage: "Roll back the last migration", Action: server.Migrate(database.MigrateDown)},
					{Name: "reset", Usage: "Roll back all migrations", Action: server.Migrate(database.MigrateReset)},
				},
			},
			{
				Name:  "user",
				Usage: "Manage accounts",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "Create an account",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "email", Usage: "Email address", Required: true},
							&cli.StringFlag{Name: "phone", Usage: "Phone number in international format"},
							&cli.StringFlag{Name: "password", Usage: "Initial password", Sources: cli.EnvVars("USER_PASSWORD")},
						},
						Action: server.AddUser,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
