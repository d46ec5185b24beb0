// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{MaxBodySize: 64},
		Log:    LogConfig{Level: "info", Format: "text"},
		Recovery: RecoveryConfig{
			CodeTTL:           15 * time.Minute,
			MaxAttempts:       3,
			UsedRetention:     7 * 24 * time.Hour,
			HourlyLimit:       5,
			DailyLimit:        10,
			MinPasswordLength: 8,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"json logs", func(c *Config) { c.Log.Format = "json" }, ""},
		{"limits disabled", func(c *Config) { c.Recovery.HourlyLimit = 0; c.Recovery.DailyLimit = 0 }, ""},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"zero ttl", func(c *Config) { c.Recovery.CodeTTL = 0 }, "code ttl"},
		{"zero attempts", func(c *Config) { c.Recovery.MaxAttempts = 0 }, "max attempts"},
		{"zero retention", func(c *Config) { c.Recovery.UsedRetention = 0 }, "used retention"},
		{"negative limit", func(c *Config) { c.Recovery.DailyLimit = -1 }, "rate limits"},
		{"zero password length", func(c *Config) { c.Recovery.MinPasswordLength = 0 }, "min password length"},
		{"zero body size", func(c *Config) { c.Server.MaxBodySize = 0 }, "max body size"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "rate limit"},
		{"smtp without from", func(c *Config) { c.SMTP.Host = "smtp.example.com" }, "smtp from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFlags(t *testing.T) {
	flags := Flags()

	assert.NotEmpty(t, flags)

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	for _, name := range []string{
		"config", "host", "port", "rate-limit", "log-level", "database-dsn",
		"redis-url", "smtp-host", "sms-gateway-url",
		"code-ttl", "max-attempts", "hourly-limit", "daily-limit", "response-floor", "cleanup-interval",
	} {
		assert.True(t, flagNames[name], "should have %s flag", name)
	}
}

func TestNewFromCLI(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.NotNil(t, cfg)
			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.InDelta(t, 1.0, cfg.Server.RateLimit, 0.0001)
			assert.Equal(t, "info", cfg.Log.Level)
			assert.Equal(t, "text", cfg.Log.Format)
			assert.Empty(t, cfg.Redis.URL)
			assert.Equal(t, "otp", cfg.Redis.Prefix)
			assert.Equal(t, 587, cfg.SMTP.Port)
			assert.True(t, cfg.SMTP.TLS)
			assert.Equal(t, 3, cfg.SMS.RetryMax)

			assert.Equal(t, 15*time.Minute, cfg.Recovery.CodeTTL)
			assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
			assert.Equal(t, 7*24*time.Hour, cfg.Recovery.UsedRetention)
			assert.Equal(t, 5, cfg.Recovery.HourlyLimit)
			assert.Equal(t, 10, cfg.Recovery.DailyLimit)
			assert.Equal(t, 8, cfg.Recovery.MinPasswordLength)
			assert.Equal(t, 300*time.Millisecond, cfg.Recovery.ResponseFloor)
			assert.Equal(t, time.Hour, cfg.Recovery.CleanupInterval)

			assert.NoError(t, cfg.Validate())
			return nil
		},
	}

	err := app.Run(context.Background(), []string{"test"})
	assert.NoError(t, err)
}

func TestNewFromCLI_WithCustomValues(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 9000, cfg.Server.Port)
			assert.Equal(t, "debug", cfg.Log.Level)
			assert.Equal(t, "./data/test.db", cfg.Database.DSN)
			assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
			assert.Equal(t, 10*time.Minute, cfg.Recovery.CodeTTL)
			assert.Equal(t, 0, cfg.Recovery.HourlyLimit)

			return nil
		},
	}

	args := []string{
		"test",
		"--host", "0.0.0.0",
		"--port", "9000",
		"--log-level", "debug",
		"--database-dsn", "./data/test.db",
		"--redis-url", "redis://localhost:6379/0",
		"--code-ttl", "10m",
		"--hourly-limit", "0",
	}
	err := app.Run(context.Background(), args)
	assert.NoError(t, err)
}

func TestNewFromCLI_FromEnv(t *testing.T) {
	t.Setenv("RECOVERY_MAX_ATTEMPTS", "5")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
			assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
			return nil
		},
	}

	assert.NoError(t, app.Run(context.Background(), []string{"test"}))
}

func TestNewFromCLI_FromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.toml")
	content := `
[server]
port = 9100

[redis]
url = "redis://cache:6379/1"

[recovery]
max_attempts = 4
code_ttl = "20m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, 9100, cfg.Server.Port)
			assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
			assert.Equal(t, 4, cfg.Recovery.MaxAttempts)
			assert.Equal(t, 20*time.Minute, cfg.Recovery.CodeTTL)
			return nil
		},
	}

	assert.NoError(t, app.Run(context.Background(), []string{"test", "--config", path}))
}
