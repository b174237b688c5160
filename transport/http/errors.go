package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/cryptolock/core"
)

// nonFieldErrors is the key for errors that belong to the request as a whole
const nonFieldErrors = "__all__"

const (
	msgInvalidCredentials  = "Please enter a correct address or signature."
	msgBackendUnavailable  = "Error connecting to verification backend"
	msgInvalidSignature    = "Invalid signature"
	msgMalformedChallenge  = "Malformed challenge"
	msgExpiredChallenge    = "Invalid or expired challenge"
	msgInternal            = "Internal server error"
	msgFieldRequired       = "This field is required."
	msgInvalidAddress      = "Invalid address"
	msgUnsupportedNetwork  = "Unsupported network"
	msgDuplicateAddress    = "This address is already registered."
	msgDuplicateUsername   = "A user with that username already exists."
	msgInvalidUsername     = "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	msgInvalidRequest      = "Invalid request"
	msgAuthorizationHeader = "Invalid authorization header"
)

type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	if field == "" {
		field = nonFieldErrors
	}
	f[field] = append(f[field], msg)
}

func errorsBody(field, msg string) gin.H {
	fe := fieldErrors{}
	fe.add(field, msg)
	return gin.H{"errors": fe}
}

// redeemFailure maps a login or signup error to a status and an error body
func redeemFailure(err error, signup bool) (int, gin.H) {
	switch {
	case errors.Is(err, core.ErrVerificationBackendUnavailable):
		return http.StatusServiceUnavailable, errorsBody("", msgBackendUnavailable)
	case !core.IsClientError(err):
		return http.StatusInternalServerError, errorsBody("", msgInternal)
	case errors.Is(err, core.ErrMalformedChallenge):
		return http.StatusBadRequest, errorsBody("challenge", msgMalformedChallenge)
	case errors.Is(err, core.ErrInvalidOrExpiredChallenge):
		return http.StatusBadRequest, errorsBody("challenge", msgExpiredChallenge)
	}

	if !signup && (errors.Is(err, core.ErrAccountNotFound) || errors.Is(err, core.ErrSignatureInvalid)) {
		return http.StatusBadRequest, errorsBody("", msgInvalidCredentials)
	}
	if errors.Is(err, core.ErrSignatureInvalid) {
		return http.StatusBadRequest, errorsBody("signature", msgInvalidSignature)
	}

	fe := fieldErrors{}
	collectFieldErrors(err, fe)
	if len(fe) == 0 {
		fe.add("", msgInvalidCredentials)
	}
	return http.StatusBadRequest, gin.H{"errors": fe}
}

func collectFieldErrors(err error, fe fieldErrors) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			collectFieldErrors(e, fe)
		}
		return
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		fe.add(verr.Field, fieldMessage(verr.Err))
	}
}

func fieldMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrFieldRequired):
		return msgFieldRequired
	case errors.Is(err, core.ErrDuplicateAddress):
		return msgDuplicateAddress
	case errors.Is(err, core.ErrDuplicateUsername):
		return msgDuplicateUsername
	case errors.Is(err, core.ErrInvalidUsername):
		return msgInvalidUsername
	case errors.Is(err, core.ErrUnsupportedNetwork):
		return msgUnsupportedNetwork
	case errors.Is(err, core.ErrInvalidAddress):
		return msgInvalidAddress
	}
	return err.Error()
}
