package dispatch

import "errors"

var (
	// ErrInvalidInput is returned when the request fails validation.
	ErrInvalidInput = errors.New("invalid dispatch request")

	// ErrInProgress is returned when another dispatch holds the campaign lock.
	ErrInProgress = errors.New("campaign dispatch already in progress")
)
