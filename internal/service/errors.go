package service

import (
	"errors"
	"fmt"
)

// Error kinds returned by the service. Match them with errors.Is.
var (
	ErrNotReady     = errors.New("model not loaded")
	ErrInvalidInput = errors.New("invalid input")
	ErrSynthesis    = errors.New("synthesis failed")
	ErrPanic        = errors.New("inference panicked")
)

// Error carries a kind and the cause. Its message is the cause's message.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: ErrInvalidInput, Err: fmt.Errorf(format, args...)}
}

func synthesisError(err error) error {
	return &Error{Kind: ErrSynthesis, Err: err}
}
