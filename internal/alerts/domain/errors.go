package alerts

import "errors"

var (
	// ErrNotFound indicates a missing alert or alert event.
	ErrNotFound = errors.New("alert: not found")
	// ErrInvalidDefinition indicates an alert that fails validation.
	ErrInvalidDefinition = errors.New("alert: invalid definition")
)
