package domain

import "errors"

var (
	// ErrNotFound indicates a slot, request, or record is absent.
	// Always recoverable: surfaced to the user as "not available".
	ErrNotFound = errors.New("not found")

	// ErrNoCandidates indicates the allocator has nothing to draw for a service.
	ErrNoCandidates = errors.New("no candidates available")

	// ErrInvalidInput indicates malformed user input (number format, IDs).
	ErrInvalidInput = errors.New("invalid input")
)
