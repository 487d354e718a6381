package reply

import "errors"

// Sentinel errors for the reply correlator.
var (
	// ErrUnattributable means the inbound message carries no known
	// correlation token. Nothing is persisted.
	ErrUnattributable = errors.New("reply cannot be attributed to a recipient")
	ErrMalformed      = errors.New("malformed inbound notification")
)
