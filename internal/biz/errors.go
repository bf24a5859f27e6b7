package biz

import "errors"

var (
	ErrStateNotFound   = errors.New("authorization state not found")
	ErrStateExists     = errors.New("authorization state already exists")
	ErrCSRFState       = errors.New("missing, unknown or expired state")
	ErrProvider        = errors.New("identity provider returned an error")
	ErrCodeExchange    = errors.New("authorization code exchange failed")
	ErrSessionNotFound = errors.New("session not found")
)

// FailureReason is the generic error code carried by a failed callback redirect.
type FailureReason string

const (
	ReasonProviderError        FailureReason = "provider_error"
	ReasonMissingState         FailureReason = "missing_state"
	ReasonMissingCode          FailureReason = "missing_code"
	ReasonInvalidState         FailureReason = "invalid_state"
	ReasonAuthenticationFailed FailureReason = "authentication_failed"
	ReasonServerError          FailureReason = "server_error"
)
