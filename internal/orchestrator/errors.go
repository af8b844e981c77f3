// ABOUTME: Error types surfaced by the orchestrator before streaming begins
// ABOUTME: The gateway maps these onto HTTP status codes

package orchestrator

import (
	"errors"
	"fmt"
)

// ValidationError rejects a turn request before anything is sent upstream.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
