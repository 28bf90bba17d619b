package docql

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter rejects a request as a whole; no partial plan is returned.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrMissingSource is returned when a from or join target cannot be resolved.
	ErrMissingSource = fmt.Errorf("%w: missing source", ErrInvalidParameter)

	// ErrMissingRequiredField is returned when a request omits a required key.
	ErrMissingRequiredField = fmt.Errorf("%w: missing required field", ErrInvalidParameter)
)

// Warning records input that was accepted leniently: a malformed literal that
// became null, an unknown command or comparator that fell back to the default.
type Warning struct {
	Input   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%q: %s", w.Input, w.Message)
}

func invalidParam(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
