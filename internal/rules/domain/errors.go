package rules

import "errors"

var (
	// ErrNotFound indicates a missing rule.
	ErrNotFound = errors.New("rule: not found")
	// ErrInvalidDefinition indicates a rule that fails validation.
	ErrInvalidDefinition = errors.New("rule: invalid definition")
)
