package provider

import (
	"errors"
	"fmt"
)

// TransientError marks a provider failure that is safe to retry:
// timeouts, connection resets and 5xx-class responses. Anything else
// (auth failures, 4xx, malformed responses) is terminal.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient provider error (%d) on %s: %v", e.Status, e.Op, e.Err)
	}
	return fmt.Sprintf("transient provider error on %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
