// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"

	"codeberg.org/oliverandrich/otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
	"github.com/labstack/echo/v4"
)

// RecoveryHandlers exposes the recovery service as a JSON API.
type RecoveryHandlers struct {
	svc *recovery.Service
}

// NewRecovery creates a new RecoveryHandlers instance.
func NewRecovery(svc *recovery.Service) *RecoveryHandlers {
	return &RecoveryHandlers{svc: svc}
}

// IdentifierRequest is the request body for requesting or resending a code.
type IdentifierRequest struct {
	Identifier string `json:"identifier"`
}

// VerifyRequest is the request body for checking a code.
type VerifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// ResetRequest is the request body for setting a new password.
type ResetRequest struct {
	Identifier      string `json:"identifier"`
	Code            string `json:"code"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Request issues a recovery code.
func (h *RecoveryHandlers) Request(c echo.Context) error {
	return h.issue(c, "request", h.svc.RequestRecovery)
}

// Resend supersedes the current code with a fresh one.
func (h *RecoveryHandlers) Resend(c echo.Context) error {
	return h.issue(c, "resend", h.svc.ResendRecovery)
}

func (h *RecoveryHandlers) issue(c echo.Context, op string, fn func(context.Context, string) (recovery.RequestResult, error)) error {
	var req IdentifierRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c)
	}

	ctx := c.Request().Context()
	res, err := fn(ctx, req.Identifier)
	if err != nil {
		return ServiceError(c, op, err)
	}

	body := response{Status: string(res.Status), ExpiryMinutes: res.ExpiryMinutes}
	switch res.Status {
	case recovery.StatusSuccess:
		body.Message = i18n.T(ctx, "recovery_request_accepted")
	case recovery.StatusRateLimited:
		body.Message = i18n.T(ctx, "recovery_rate_limited")
	case recovery.StatusDeliveryFailed:
		body.Message = i18n.T(ctx, "recovery_delivery_failed")
	}

	return c.JSON(httpStatus(res.Status), body)
}

// Verify checks a code without consuming it.
func (h *RecoveryHandlers) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c)
	}

	ctx := c.Request().Context()
	res, err := h.svc.VerifyRecovery(ctx, req.Identifier, req.Code)
	if err != nil {
		return ServiceError(c, "verify", err)
	}

	body := response{Status: string(res.Status), Message: i18n.T(ctx, "recovery_invalid_code")}
	if res.Status == recovery.StatusSuccess {
		body.Message = i18n.T(ctx, "recovery_verify_success")
	}

	return c.JSON(httpStatus(res.Status), body)
}

// Reset consumes the code and sets the new password.
func (h *RecoveryHandlers) Reset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest(c)
	}

	ctx := c.Request().Context()
	res, err := h.svc.ResetPassword(ctx, req.Identifier, req.Code, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		return ServiceError(c, "reset", err)
	}

	body := response{Status: string(res.Status), Message: res.Message}
	switch res.Status {
	case recovery.StatusSuccess:
		body.Message = i18n.T(ctx, "recovery_reset_success")
	case recovery.StatusInvalid:
		body.Message = i18n.T(ctx, "recovery_invalid_code")
	}

	return c.JSON(httpStatus(res.Status), body)
}
