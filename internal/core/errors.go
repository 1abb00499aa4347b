package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks errors caused by the request rather than the server.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned for unknown users and wrong passwords.
	ErrUnauthorized = errors.New("invalid credentials")
	// ErrNotAnImage is returned when a stored file cannot be rendered as a thumbnail.
	ErrNotAnImage = errors.New("file is not a supported image")
)

// ValidationError carries a message meant for the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
