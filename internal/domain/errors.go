package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any vendor call.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing credential, group, or setting.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write rejected because of an existing record.
	ErrConflict = errors.New("conflict")
)
