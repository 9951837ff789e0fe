package domain

import "time"

// CreateNotificationRequest is the inbound payload for a single notification.
// Channel and Priority are optional; absent values are resolved from the
// user's preferences at submission time.
type CreateNotificationRequest struct {
	UserID           string            `json:"userId"`
	NotificationType NotificationType  `json:"notificationType"`
	Channel          *Channel          `json:"channel,omitempty"`
	Content          string            `json:"content"`
	Subject          *string           `json:"subject,omitempty"`
	Recipient        string            `json:"recipient"`
	Priority         *Priority         `json:"priority,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// Validate defends against malformed input even though the HTTP layer
// validates first: missing userId, content, or recipient is always rejected.
func (r *CreateNotificationRequest) Validate() error {
	if r.UserID == "" {
		return ErrMissingUserID
	}
	if r.Content == "" {
		return ErrMissingContent
	}
	if r.Recipient == "" {
		return ErrMissingRecipient
	}
	if r.Channel != nil && !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.Priority != nil && !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.NotificationType != "" && !r.NotificationType.IsValid() {
		return ErrInvalidType
	}
	return nil
}

// BulkNotificationRequest wraps a slice of notification requests.
type BulkNotificationRequest struct {
	Notifications []CreateNotificationRequest `json:"notifications"`
}

// BulkItemResult is the per-item outcome of a bulk submission.
type BulkItemResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	UserID        string `json:"userId"`
	Error         string `json:"error,omitempty"`
}

// TransactionFilter holds query parameters for the admin transaction listing.
type TransactionFilter struct {
	TransactionID *string
	UserID        *string
	Status        *Status
	Channel       *Channel
	FailureReason *string // case-insensitive substring match
	StartDate     *time.Time
	EndDate       *time.Time
	Limit         int
	Offset        int
}

// ErrorLogFilter holds query parameters for the admin failed-notification listing.
type ErrorLogFilter struct {
	ErrorType *ErrorKind
	Retryable *bool
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// StatusCounts aggregates transactions by status for dashboards.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Retry      int `json:"retry"`
	Failed     int `json:"failed"` // FAILED and DEAD_LETTER grouped
}

// ChannelStats is the per-channel analytics row. Rates are percentages
// rounded to two decimals.
type ChannelStats struct {
	Channel     Channel `json:"channel"`
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	Retry       int     `json:"retry"`
	DeadLetter  int     `json:"deadLetter"`
	SuccessRate float64 `json:"successRate"`
	FailureRate float64 `json:"failureRate"`
}

// ErrorTypeCount is one bucket of the error-type breakdown.
type ErrorTypeCount struct {
	ErrorType ErrorKind `json:"errorType"`
	Count     int       `json:"count"`
}

// RetryableCount is one bucket of the retryable breakdown.
type RetryableCount struct {
	Retryable bool `json:"retryable"`
	Count     int  `json:"count"`
}

// ErrorAnalytics is the response of the error analytics endpoint.
type ErrorAnalytics struct {
	TotalErrors        int              `json:"totalErrors"`
	ErrorTypeBreakdown []ErrorTypeCount `json:"errorTypeBreakdown"`
	RetryableBreakdown []RetryableCount `json:"retryableBreakdown"`
	RecentErrors       []*ErrorLog      `json:"recentErrors"`
}
