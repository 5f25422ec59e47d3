package types

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the session layer.
const (
	ErrNotConnected          = "not_connected"
	ErrAccountKeyUnavailable = "account_key_unavailable"
	ErrSubAccountUnavailable = "sub_account_unavailable"
	ErrNoFundingAddress      = "no_funding_address"
	ErrWalletUnsupported     = "wallet_unsupported"
	ErrNoRecipient           = "no_recipient_configured"
	ErrPermissionDenied      = "permission_denied"
	ErrPaymentFailed         = "payment_failed"
	ErrInvalidConfig         = "invalid_config"
	ErrProviderFailure       = "provider_failure"
)

// SessionError is the typed error returned across the public surface.
type SessionError struct {
	Code    string
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError builds a SessionError without a wrapped cause.
func NewSessionError(code, message string) *SessionError {
	return &SessionError{Code: code, Message: message}
}

// WrapSessionError builds a SessionError around an underlying cause.
func WrapSessionError(code, message string, err error) *SessionError {
	return &SessionError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code string) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
