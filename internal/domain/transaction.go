package domain

import "time"

// Channel is the delivery medium for a notification.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPush     Channel = "PUSH"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

// AllChannels lists every channel in its stable presentation order.
// Preference resolution and analytics both rely on this ordering.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush}

// NotificationType categorises the business intent of a notification.
type NotificationType string

const (
	TypeTransactional NotificationType = "TRANSACTIONAL"
	TypeMarketing     NotificationType = "MARKETING"
	TypeSystem        NotificationType = "SYSTEM"
	TypeAlert         NotificationType = "ALERT"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeTransactional, TypeMarketing, TypeSystem, TypeAlert:
		return true
	}
	return false
}

// Priority controls queue selection and in-queue ordering. Higher is sooner.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// Status tracks the lifecycle of a transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusRetry      Status = "RETRY"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// IsTerminal reports whether no further delivery attempt may occur.
// FAILED is an analytics alias of DEAD_LETTER and is treated as terminal too.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDeadLetter, StatusFailed:
		return true
	}
	return false
}

// Transaction is the persistent record of one notification submission
// across its entire lifecycle. Created by the dispatcher, mutated only
// by the worker thereafter, never deleted.
type Transaction struct {
	TransactionID    string            `json:"transactionId"`
	UserID           string            `json:"userId"`
	NotificationType NotificationType  `json:"notificationType"`
	Channel          Channel           `json:"channel"`
	Status           Status            `json:"status"`
	Content          string            `json:"content"`
	Subject          *string           `json:"subject,omitempty"`
	Recipient        string            `json:"recipient"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	Priority         Priority          `json:"priority"`
	RetryCount       int               `json:"retryCount"`
	MaxRetries       int               `json:"maxRetries"`
	FailureReason    *string           `json:"failureReason,omitempty"`
	NextRetryAt      *time.Time        `json:"nextRetryAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	SentAt           *time.Time        `json:"sentAt,omitempty"`
	FailedAt         *time.Time        `json:"failedAt,omitempty"`
}

// ErrorLog is an append-only per-transaction failure record.
type ErrorLog struct {
	ID               string            `json:"id"`
	TransactionID    string            `json:"transactionId"`
	ErrorType        ErrorKind         `json:"errorType"`
	ErrorMessage     string            `json:"errorMessage"`
	ErrorStack       *string           `json:"errorStack,omitempty"`
	ErrorCode        *string           `json:"errorCode,omitempty"`
	Retryable        bool              `json:"retryable"`
	ProviderResponse map[string]any    `json:"providerResponse,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// Job is the queue payload: the snapshot of transaction fields a worker
// needs to perform one delivery attempt. Workers re-read the transaction
// from the store before acting; the store stays authoritative.
type Job struct {
	TransactionID string            `json:"transactionId"`
	UserID        string            `json:"userId"`
	Channel       Channel           `json:"channel"`
	Recipient     string            `json:"recipient"`
	Subject       *string           `json:"subject,omitempty"`
	Content       string            `json:"content"`
	Priority      Priority          `json:"priority"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}
