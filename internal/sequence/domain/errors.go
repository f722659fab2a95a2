package domain

import "errors"

var (
	// ErrAllocationUnavailable is returned when the counter store
	// cannot be reached. No document row exists in that case.
	ErrAllocationUnavailable = errors.New("allocation_unavailable")
)
