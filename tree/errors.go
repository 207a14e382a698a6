package tree

import (
	"errors"
	"fmt"
)

// ErrMalformed is the kind shared by every decode failure caused by the shape of remote data.
var ErrMalformed = errors.New("malformed server data")

var (
	// ErrInvalidJSONType is given when a scalar or null is found where a keyed object was
	// expected, or a value has the wrong JSON type.
	ErrInvalidJSONType error = &malformedError{msg: "invalid json type"}

	// ErrNoChild is given when a required child is missing.
	ErrNoChild error = &malformedError{msg: "missing required child"}
)

type malformedError struct {
	msg string
}

func (e *malformedError) Error() string {
	return e.msg
}

func (e *malformedError) Is(target error) bool {
	return target == ErrMalformed
}

// InvalidType reports that the node at key holds a value of the wrong JSON type.
func InvalidType(key string, v interface{}) error {
	return fmt.Errorf("%w: %q holds %T", ErrInvalidJSONType, key, v)
}
