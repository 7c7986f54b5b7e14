package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyText     = errors.New("context item text cannot be empty")
	ErrMissingURI    = errors.New("context item URI is required")
	ErrUnknownSource = errors.New("unknown context item source")
	ErrInvalidRange  = errors.New("invalid line range")
)
