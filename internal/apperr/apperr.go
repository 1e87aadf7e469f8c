// Package apperr defines the error kinds shared across the service.
// Callers wrap one of the sentinels with context and match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for bad client input (upload extension, size range, link duration).
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied is returned when the requester's tier lacks a capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned for unknown images and unknown or expired links.
	ErrNotFound = errors.New("not found")
	// ErrDecode is returned when image bytes are not a supported raster format.
	ErrDecode = errors.New("image decode failed")
	// ErrConfiguration is returned when required seed data is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// Wrap annotates kind with a message while keeping it matchable by errors.Is.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Is reports whether err is of the given kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
