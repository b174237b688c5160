package core

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedChallenge             = errors.New("malformed challenge")
	ErrInvalidOrExpiredChallenge      = errors.New("invalid or expired challenge")
	ErrChallengeCollision             = errors.New("challenge token collision")
	ErrUnsupportedNetwork             = errors.New("unsupported network")
	ErrInvalidAddress                 = errors.New("invalid address")
	ErrDuplicateAddress               = errors.New("address already registered")
	ErrDuplicateUsername              = errors.New("username already taken")
	ErrInvalidUsername                = errors.New("invalid username")
	ErrFieldRequired                  = errors.New("this field is required")
	ErrAccountNotFound                = errors.New("account not found")
	ErrSignatureInvalid               = errors.New("invalid signature")
	ErrVerificationBackendUnavailable = errors.New("verification backend unavailable")

	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidToken     = errors.New("invalid token")
)

// ValidationError tags a client input error with the request field it belongs to.
// An empty Field means the error applies to the request as a whole.
type ValidationError struct {
	Field string
	Err   error
}

// NewValidationError wraps err for field
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is caused by client input rather than by
// a failing dependency.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrVerificationBackendUnavailable), errors.Is(err, ErrChallengeCollision):
		return false
	case errors.Is(err, ErrMalformedChallenge),
		errors.Is(err, ErrInvalidOrExpiredChallenge),
		errors.Is(err, ErrUnsupportedNetwork),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrDuplicateAddress),
		errors.Is(err, ErrDuplicateUsername),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrSignatureInvalid):
		return true
	}
	var verr *ValidationError
	return errors.As(err, &verr)
}
