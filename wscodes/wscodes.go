// Package wscodes holds the status strings carried by websocket responses and maps API errors
// onto them.
package wscodes

import (
	"errors"

	"carpool/carpool"
)

const (
	// StatusSuccess is given when a request completed.
	StatusSuccess = "OK"

	// StatusUpdate is given on every delivery pushed by a live observation.
	StatusUpdate = "UPDATE"

	// StatusStreamClosed is given once when a live observation ends.
	StatusStreamClosed = "STREAM_CLOSED"

	// StatusFailure is given for failures the client cannot act on.
	StatusFailure = "FAILURE"

	// StatusBadRequest is given when the message is missing a field the endpoint needs.
	StatusBadRequest = "BAD_REQUEST"

	// StatusEndpointNotValid is given when the message is using an unsupported endpoint.
	StatusEndpointNotValid = "ENDPOINT_NOT_VALID"

	// StatusNotAuthenticated is given when the request needs a session and there is none.
	StatusNotAuthenticated = "NOT_AUTHENTICATED"

	// StatusEndpointUnauthorized is given when the user is not allowed to perform an action.
	StatusEndpointUnauthorized = "ENDPOINT_UNAUTHORIZED"

	// StatusValidationFailed is given when the request's input was rejected.
	StatusValidationFailed = "VALIDATION_FAILED"

	// StatusNotFound is given when the trip, event, user or child does not exist.
	StatusNotFound = "NOT_FOUND"

	// StatusMalformedData is given when stored data could not be decoded.
	StatusMalformedData = "MALFORMED_DATA"

	// StatusSignInFailed is given when signing in or linking an account failed.
	StatusSignInFailed = "SIGN_IN_FAILED"

	// StatusSearchSuperseded is given when a newer search replaced this one.
	StatusSearchSuperseded = "SEARCH_SUPERSEDED"
)

// GenericText replaces the message of errors whose text is not meant for users.
const GenericText = "something went wrong"

// ForError returns the status and user facing text for err. Validation and authorization
// failures keep their message; anything else gets GenericText.
func ForError(err error) (status, text string) {
	var signInFailed *carpool.SignInFailedError
	switch {
	case err == nil:
		return StatusSuccess, ""
	case errors.Is(err, carpool.ErrSearchSuperseded):
		return StatusSearchSuperseded, err.Error()
	case errors.Is(err, carpool.ErrValidation):
		return StatusValidationFailed, err.Error()
	case errors.Is(err, carpool.ErrUnauthorized):
		return StatusEndpointUnauthorized, err.Error()
	case errors.Is(err, carpool.ErrNotAuthenticated):
		return StatusNotAuthenticated, err.Error()
	case errors.As(err, &signInFailed), errors.Is(err, carpool.ErrIdentityProvider):
		return StatusSignInFailed, GenericText
	case errors.Is(err, carpool.ErrNotFound):
		return StatusNotFound, GenericText
	case errors.Is(err, carpool.ErrMalformedData):
		return StatusMalformedData, GenericText
	default:
		return StatusFailure, GenericText
	}
}
