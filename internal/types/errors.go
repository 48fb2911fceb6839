package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a stable machine-readable error identifier. The prefix
// (before the first underscore-delimited group) determines the HTTP
// status; see AppError.HTTPStatus.
type ErrorCode string

const (
	// Validation (400)
	ErrCodeInvalidJSON        ErrorCode = "validation_invalid_json"
	ErrCodeMissingField       ErrorCode = "validation_missing_field"
	ErrCodeInvalidFeature     ErrorCode = "validation_invalid_feature"
	ErrCodeInvalidCouponCode  ErrorCode = "validation_invalid_coupon_code"
	ErrCodeInvalidPlanTier    ErrorCode = "validation_invalid_plan_tier"
	ErrCodeInvalidStatus      ErrorCode = "validation_invalid_status"
	ErrCodeInvalidUserID      ErrorCode = "validation_invalid_user_id"
	ErrCodeInvalidRetention   ErrorCode = "validation_invalid_retention"
	ErrCodeWebhookBadPayload  ErrorCode = "validation_webhook_bad_payload"

	// Auth (401)
	ErrCodeAdminKeyMissing ErrorCode = "auth_admin_key_missing"
	ErrCodeAdminKeyInvalid ErrorCode = "auth_admin_key_invalid"
	ErrCodeWebhookBadSig   ErrorCode = "auth_webhook_bad_signature"

	// Not found (404)
	ErrCodeEntitlementNotFound ErrorCode = "not_found_entitlement"

	// Conflict (409)
	ErrCodeConcurrentUpdate ErrorCode = "conflict_concurrent_update"

	// Upstream dependencies (503)
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamRedis       ErrorCode = "upstream_counter_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// Internal (500)
	ErrCodeInternalDB ErrorCode = "internal_database"
	ErrCodeInternal   ErrorCode = "internal_error"
)

// AppError is the service-wide error type. Code drives the HTTP mapping,
// Message is safe for clients, Err carries the wrapped cause for logs.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the code prefix to an HTTP status.
func (e *AppError) HTTPStatus() int {
	code := string(e.Code)
	switch {
	case strings.HasPrefix(code, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "forbidden_"):
		return http.StatusForbidden
	case strings.HasPrefix(code, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(code, "limit_"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(code, "upstream_"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError builds an AppError wrapping err.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewValidationError builds a client-facing 400 with optional field details.
func NewValidationError(code ErrorCode, message string, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Details: details}
}

// AsAppError extracts an *AppError from err's chain, or wraps err as an
// internal error so every failure path produces a uniform envelope.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: ErrCodeInternal, Message: "internal error", Err: err}
}
