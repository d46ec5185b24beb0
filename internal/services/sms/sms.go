// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package sms sends text messages through an HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/otp-recovery/internal/config"
	"github.com/hashicorp/go-retryablehttp"
)

// Client posts messages to the configured gateway. Transport errors and 5xx
// responses are retried; other non-2xx responses fail immediately.
type Client struct {
	http   *retryablehttp.Client
	url    string
	apiKey string
	sender string
}

type message struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// NewClient creates a gateway client. Retry logging goes to logger.
func NewClient(cfg *config.SMSConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("SMS gateway URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = max(cfg.RetryMax, 0)
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = logger

	return &Client{
		http:   rc,
		url:    cfg.GatewayURL,
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
	}, nil
}

// Send delivers text to the phone number to.
func (c *Client) Send(ctx context.Context, to, text string) error {
	body, err := json.Marshal(message{To: to, From: c.sender, Message: text})
	if err != nil {
		return fmt.Errorf("encoding sms: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending sms: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sending sms: gateway returned %s", resp.Status)
	}

	return nil
}
