// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

// Status is the externally visible outcome of a recovery operation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusRateLimited     Status = "rate_limited"
	StatusDeliveryFailed  Status = "delivery_failed"
	StatusInvalid         Status = "invalid"
	StatusValidationError Status = "validation_error"
)

// MessageInvalid is the single message returned for unknown identifiers and
// wrong, expired, exhausted or consumed codes.
const MessageInvalid = "invalid or expired code"

// RequestResult is returned by RequestRecovery and ResendRecovery. It never
// reveals whether the identifier belongs to an account.
type RequestResult struct {
	Status        Status `json:"status"`
	ExpiryMinutes int    `json:"expiry_minutes,omitempty"`
}

// VerifyResult is returned by VerifyRecovery.
type VerifyResult struct {
	Status Status `json:"status"`
}

// ResetResult is returned by ResetPassword.
type ResetResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CleanupResult reports how many tokens a cleanup pass removed.
type CleanupResult struct {
	ExpiredDeleted int64 `json:"expired_deleted"`
	UsedDeleted    int64 `json:"used_deleted"`
}

func invalidReset() ResetResult {
	return ResetResult{Status: StatusInvalid, Message: MessageInvalid}
}

func validationFailed(msg string) ResetResult {
	return ResetResult{Status: StatusValidationError, Message: msg}
}
