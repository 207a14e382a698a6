package carpool

import (
	"errors"
	"fmt"

	"carpool/identity"
	"carpool/tree"
)

// Error kinds. Every error returned by the API matches exactly one of them with errors.Is, except
// ErrSearchSuperseded and transport errors from the store.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrMalformedData    = tree.ErrMalformed
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("not authorized")
	ErrIdentityProvider = identity.ErrProvider
	ErrNotFound         = errors.New("not found")
)

// kindError is a specific error that also matches its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func validation(msg string) error   { return &kindError{kind: ErrValidation, msg: msg} }
func unauthorized(msg string) error { return &kindError{kind: ErrUnauthorized, msg: msg} }
func notFound(msg string) error     { return &kindError{kind: ErrNotFound, msg: msg} }

var (
	ErrEmptyDescription        = validation("the trip needs a description")
	ErrNoChildName             = validation("the child needs a name")
	ErrEventEndTimeBeforeStart = validation("the event cannot end before it starts")
	ErrEmptySearch             = validation("enter a name to search for")
	ErrEmptyComment            = validation("the comment is empty")
	ErrLocationInvalid         = validation("the location is invalid")
	ErrInvalidLeg              = validation("a leg is either dropOff or pickUp")
	ErrCannotFriendYourself    = validation("you cannot add yourself as a friend")

	ErrNotYourTripToDelete             = unauthorized("only the organizer can delete this trip")
	ErrAnonymousUsersCannotCreateTrips = unauthorized("sign up with your name to create trips")
	ErrNotYourLeg                      = unauthorized("only the driver or the organizer can unclaim this leg")

	ErrNoSuchTrip  = notFound("no such trip")
	ErrNoSuchUser  = notFound("no such user")
	ErrNoSuchEvent = notFound("no such event")
)

// ErrSearchSuperseded is returned by a search whose results were discarded because a later search
// for a different query was started.
var ErrSearchSuperseded = errors.New("search superseded by a later query")

// SignInFailedError is returned by SignUp when the anonymous session could not be linked to the
// new credential.
type SignInFailedError struct {
	Err error
}

func (e *SignInFailedError) Error() string {
	return fmt.Sprintf("sign in failed: %v", e.Err)
}

func (e *SignInFailedError) Unwrap() error {
	return e.Err
}
