// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request collides with existing state.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates the input fails domain validation.
var ErrValidation = errors.New("validation failed")
