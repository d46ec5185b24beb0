// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/database"
	"codeberg.org/oliverandrich/otp-recovery/internal/models"
	"codeberg.org/oliverandrich/otp-recovery/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestUser creates a test user in the database. phone may be empty.
func NewTestUser(t *testing.T, repo *repository.Repository, email, phone string) *models.Account {
	t.Helper()
	ctx := context.Background()
	user, err := repo.CreateUser(ctx, email, phone, "$2a$10$initialhashinitialhashinitialhashinitialhashinitial")
	require.NoError(t, err)
	return user
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SentCode records one Notifier.SendCode call.
type SentCode struct {
	AccountID int64
	Channel   models.Channel
	Code      string
	TTL       time.Duration
}

// Notifier records deliveries and can be told to fail.
type Notifier struct {
	mu            sync.Mutex
	Codes         []SentCode
	Confirmations []int64
	FailCodes     error
	FailConfirm   error
}

// SendCode records the code unless FailCodes is set.
func (n *Notifier) SendCode(_ context.Context, account *models.Account, channel models.Channel, code string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailCodes != nil {
		return n.FailCodes
	}
	n.Codes = append(n.Codes, SentCode{AccountID: account.ID, Channel: channel, Code: code, TTL: ttl})
	return nil
}

// SendConfirmation records the account unless FailConfirm is set.
func (n *Notifier) SendConfirmation(_ context.Context, account *models.Account) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.FailConfirm != nil {
		return n.FailConfirm
	}
	n.Confirmations = append(n.Confirmations, account.ID)
	return nil
}

// LastCode returns the most recently delivered code.
func (n *Notifier) LastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.Codes, "no code delivered")
	return n.Codes[len(n.Codes)-1].Code
}

// CodeCount returns the number of delivered codes.
func (n *Notifier) CodeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Codes)
}

// ConfirmationCount returns the number of delivered confirmations.
func (n *Notifier) ConfirmationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Confirmations)
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// JSONBody wraps a JSON literal as a request body.
func JSONBody(s string) io.Reader {
	return strings.NewReader(s)
}
