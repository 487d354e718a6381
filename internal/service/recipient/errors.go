package recipient

import "errors"

// Sentinel errors for the recipient state store.
var (
	ErrNotFound          = errors.New("recipient record not found")
	ErrDuplicate         = errors.New("recipient already exists for campaign")
	ErrInvalidTransition = errors.New("unknown recipient transition")
)
