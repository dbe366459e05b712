package errs

import (
	"errors"
)

// Closed error taxonomy. Services wrap these with context; the HTTP
// handler maps them to status codes and nothing else inspects messages.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
)
