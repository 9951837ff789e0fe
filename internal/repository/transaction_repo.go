package repository

import (
	"context"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// TransactionRepository defines all persistence operations for transactions
// and their error logs. The pgx implementation is in pg_transaction_repo.go.
// Tests use a hand-written mock (mock_transaction_repo.go).
//
// State-transition methods carry a CAS guard: terminal rows (SENT,
// DEAD_LETTER) are never overwritten, which makes redelivered jobs no-ops.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, int, error)

	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	MarkSent(ctx context.Context, id string, providerResponse map[string]any, sentAt time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, reason string) error
	MarkDeadLetter(ctx context.Context, id string, reason string, failedAt time.Time) error

	AppendErrorLog(ctx context.Context, log *domain.ErrorLog) error
	ErrorLogs(ctx context.Context, transactionID string) ([]*domain.ErrorLog, error)
	ListErrorLogs(ctx context.Context, filter domain.ErrorLogFilter) ([]*domain.ErrorLog, int, error)

	FindDueRetries(ctx context.Context, now time.Time) ([]*domain.Transaction, error)
	FindStalePending(ctx context.Context, olderThan time.Time) ([]*domain.Transaction, error)

	CountByStatus(ctx context.Context, userID *string) (*domain.StatusCounts, error)
	ChannelStats(ctx context.Context, from, to *time.Time) ([]domain.ChannelStats, error)
	ErrorAnalytics(ctx context.Context, from, to *time.Time) (*domain.ErrorAnalytics, error)
}

// PreferenceRepository persists per-user channel preferences.
type PreferenceRepository interface {
	// GetOrCreate returns the stored row, creating defaults on first read.
	// Idempotent under concurrent creation: the insert loser reads the
	// winner's row.
	GetOrCreate(ctx context.Context, userID string) (*domain.Preferences, error)
	// Update upserts the row, overwriting only the supplied fields,
	// and returns the resulting full row.
	Update(ctx context.Context, userID string, update *domain.PreferencesUpdate) (*domain.Preferences, error)
}
