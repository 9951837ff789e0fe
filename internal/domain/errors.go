package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrMissingUserID    = errors.New("userId must not be empty")
	ErrMissingContent   = errors.New("content must not be empty")
	ErrMissingRecipient = errors.New("recipient must not be empty")
	ErrInvalidChannel   = errors.New("invalid channel: must be EMAIL, SMS, WHATSAPP, or PUSH")
	ErrInvalidType      = errors.New("invalid notification type")
	ErrInvalidPriority  = errors.New("invalid priority: must be between 1 and 4")
	ErrProviderNotReady = errors.New("provider is not configured for this channel")
	ErrBulkEmpty        = errors.New("bulk request must contain at least one notification")
	ErrBulkTooLarge     = errors.New("bulk request exceeds maximum of 1000 notifications")
	ErrEnqueueFailed    = errors.New("could not enqueue notification job")
)
