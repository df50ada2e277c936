package app

import (
	"errors"
	"fmt"
)

// Errors returned by App. ErrInvalidInput is wrapped with a message meant for
// the caller; ErrInvalidCredentials covers both unknown email and wrong password.
var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAnalysisFailed     = errors.New("document analysis failed")
	ErrCompletionFailed   = errors.New("chat completion failed")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
