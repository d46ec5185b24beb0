// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/otp-recovery/internal/i18n"
	"codeberg.org/oliverandrich/otp-recovery/internal/services/recovery"
	"github.com/labstack/echo/v4"
)

const (
	statusBadRequest  = "bad_request"
	statusUnavailable = "unavailable"
	statusError       = "error"
)

// response is the JSON body of every recovery endpoint.
type response struct {
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	ExpiryMinutes int    `json:"expiry_minutes,omitempty"`
}

// BadRequest answers a body that could not be decoded.
func BadRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, response{
		Status:  statusBadRequest,
		Message: i18n.T(c.Request().Context(), "recovery_bad_request"),
	})
}

// ServiceError maps an error returned by the recovery service. Storage
// faults and interrupted requests become 503, anything else 500.
func ServiceError(c echo.Context, op string, err error) error {
	ctx := c.Request().Context()
	msg := i18n.T(ctx, "recovery_service_unavailable")

	switch {
	case errors.Is(err, recovery.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		slog.Warn("recovery_unavailable", "op", op, "error", err)
		return c.JSON(http.StatusServiceUnavailable, response{Status: statusUnavailable, Message: msg})
	default:
		slog.Error("recovery_failed", "op", op, "error", err)
		return c.JSON(http.StatusInternalServerError, response{Status: statusError, Message: msg})
	}
}

// httpStatus is the response code for a service outcome.
func httpStatus(s recovery.Status) int {
	switch s {
	case recovery.StatusSuccess:
		return http.StatusOK
	case recovery.StatusRateLimited:
		return http.StatusTooManyRequests
	case recovery.StatusDeliveryFailed:
		return http.StatusBadGateway
	case recovery.StatusInvalid:
		return http.StatusBadRequest
	case recovery.StatusValidationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
