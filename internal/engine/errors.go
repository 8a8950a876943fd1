package engine

import "fmt"

// ValidationError marks input the caller can fix; the server maps it to 400.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError marks an operation rejected by current state; mapped to 409.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

func conflict(format string, args ...any) error {
	return ConflictError{Msg: fmt.Sprintf(format, args...)}
}
