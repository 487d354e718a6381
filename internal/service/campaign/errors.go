package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound       = errors.New("campaign not found")
	ErrAlreadyExists  = errors.New("campaign already exists")
	ErrInvalidInput   = errors.New("invalid campaign input")
	ErrInvalidCounter = errors.New("unknown aggregate counter")
)
