package task

import "errors"

var (
	// ErrUnknownClass means a class outside the fixed set reached a component
	// that resolves classes. It is a configuration or programming error.
	ErrUnknownClass = errors.New("unknown execution class")

	// ErrInvalidRequest is returned when a submitted task has out-of-range fields.
	ErrInvalidRequest = errors.New("invalid task request")
)
