package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/dispatch/internal/domain"
)

const transactionColumns = `transaction_id, user_id, notification_type, channel, status,
	       content, subject, recipient, metadata, priority,
	       retry_count, max_retries, failure_reason, next_retry_at,
	       created_at, updated_at, sent_at, failed_at`

type pgTransactionRepository struct {
	pool *pgxpool.Pool
}

// NewPgTransactionRepository returns a TransactionRepository backed by PostgreSQL.
func NewPgTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &pgTransactionRepository{pool: pool}
}

func (r *pgTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions
			(transaction_id, user_id, notification_type, channel, status,
			 content, subject, recipient, metadata, priority,
			 retry_count, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.TransactionID, t.UserID, t.NotificationType, t.Channel, t.Status,
		t.Content, t.Subject, t.Recipient, t.Metadata, t.Priority,
		t.RetryCount, t.MaxRetries, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *pgTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions WHERE transaction_id = $1`, id)

	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *pgTransactionRepository) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	countQuery := "SELECT COUNT(*) FROM transactions" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT `+transactionColumns+`
		FROM transactions%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	return transactions, total, err
}

// UpdateStatus advances a non-terminal row to the given status.
// Terminal rows (SENT, FAILED, DEAD_LETTER) are left untouched so that a
// redelivered job cannot resurrect a finished transaction.
func (r *pgTransactionRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE transaction_id = $2
		  AND status NOT IN ('SENT','FAILED','DEAD_LETTER')`, status, id)
	return err
}

func (r *pgTransactionRepository) MarkSent(ctx context.Context, id string, providerResponse map[string]any, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'SENT',
		    sent_at = $1,
		    failure_reason = NULL,
		    next_retry_at = NULL,
		    metadata = jsonb_set(metadata, '{providerResponse}', COALESCE($2::jsonb, 'null'::jsonb)),
		    updated_at = NOW()
		WHERE transaction_id = $3
		  AND status NOT IN ('SENT','FAILED','DEAD_LETTER')`,
		sentAt, providerResponse, id)
	return err
}

func (r *pgTransactionRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'RETRY',
		    retry_count = $1,
		    next_retry_at = $2,
		    failure_reason = $3,
		    updated_at = NOW()
		WHERE transaction_id = $4
		  AND status NOT IN ('SENT','FAILED','DEAD_LETTER')`,
		retryCount, nextRetry, reason, id)
	return err
}

func (r *pgTransactionRepository) MarkDeadLetter(ctx context.Context, id string, reason string, failedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'DEAD_LETTER',
		    failure_reason = $1,
		    failed_at = $2,
		    next_retry_at = NULL,
		    updated_at = NOW()
		WHERE transaction_id = $3
		  AND status NOT IN ('SENT','FAILED','DEAD_LETTER')`,
		reason, failedAt, id)
	return err
}

func (r *pgTransactionRepository) AppendErrorLog(ctx context.Context, l *domain.ErrorLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO error_logs
			(id, transaction_id, error_type, error_message, error_stack,
			 error_code, retryable, provider_response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.ID, l.TransactionID, l.ErrorType, l.ErrorMessage, l.ErrorStack,
		l.ErrorCode, l.Retryable, l.ProviderResponse, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

func (r *pgTransactionRepository) ErrorLogs(ctx context.Context, transactionID string) ([]*domain.ErrorLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, error_type, error_message, error_stack,
		       error_code, retryable, provider_response, created_at
		FROM error_logs
		WHERE transaction_id = $1
		ORDER BY created_at DESC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get error logs: %w", err)
	}
	defer rows.Close()
	return scanErrorLogs(rows)
}

func (r *pgTransactionRepository) ListErrorLogs(ctx context.Context, f domain.ErrorLogFilter) ([]*domain.ErrorLog, int, error) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.ErrorType != nil {
		add("error_type = $%d", *f.ErrorType)
	}
	if f.Retryable != nil {
		add("retryable = $%d", *f.Retryable)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM error_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count error logs: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, transaction_id, error_type, error_message, error_stack,
		       error_code, retryable, provider_response, created_at
		FROM error_logs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list error logs: %w", err)
	}
	defer rows.Close()

	logs, err := scanErrorLogs(rows)
	return logs, total, err
}

func (r *pgTransactionRepository) FindDueRetries(ctx context.Context, now time.Time) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'RETRY'
		  AND next_retry_at <= $1
		LIMIT 500`, now)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *pgTransactionRepository) FindStalePending(ctx context.Context, olderThan time.Time) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PENDING'
		  AND created_at <= $1
		LIMIT 500`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("find stale pending: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (r *pgTransactionRepository) CountByStatus(ctx context.Context, userID *string) (*domain.StatusCounts, error) {
	where := ""
	var args []any
	if userID != nil {
		where = " WHERE user_id = $1"
		args = append(args, *userID)
	}

	rows, err := r.pool.Query(ctx,
		"SELECT status, COUNT(*) FROM transactions"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := &domain.StatusCounts{}
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts.Total += n
		switch status {
		case domain.StatusPending:
			counts.Pending += n
		case domain.StatusQueued:
			counts.Queued += n
		case domain.StatusProcessing:
			counts.Processing += n
		case domain.StatusSent:
			counts.Sent += n
		case domain.StatusRetry:
			counts.Retry += n
		case domain.StatusFailed, domain.StatusDeadLetter:
			counts.Failed += n
		}
	}
	return counts, rows.Err()
}

func (r *pgTransactionRepository) ChannelStats(ctx context.Context, from, to *time.Time) ([]domain.ChannelStats, error) {
	where, args := buildDateRangeWhere(from, to)

	rows, err := r.pool.Query(ctx,
		"SELECT channel, status, COUNT(*) FROM transactions"+where+" GROUP BY channel, status", args...)
	if err != nil {
		return nil, fmt.Errorf("channel stats: %w", err)
	}
	defer rows.Close()

	byChannel := make(map[domain.Channel]*domain.ChannelStats)
	for rows.Next() {
		var channel domain.Channel
		var status domain.Status
		var n int
		if err := rows.Scan(&channel, &status, &n); err != nil {
			return nil, err
		}
		cs, ok := byChannel[channel]
		if !ok {
			cs = &domain.ChannelStats{Channel: channel}
			byChannel[channel] = cs
		}
		cs.Total += n
		switch status {
		case domain.StatusSent:
			cs.Sent += n
		case domain.StatusFailed:
			cs.Failed += n
		case domain.StatusDeadLetter:
			cs.DeadLetter += n
			cs.Failed += n
		case domain.StatusPending, domain.StatusQueued, domain.StatusProcessing:
			cs.Pending += n
		case domain.StatusRetry:
			cs.Retry += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable channel ordering regardless of map iteration.
	var stats []domain.ChannelStats
	for _, c := range domain.AllChannels {
		cs, ok := byChannel[c]
		if !ok {
			continue
		}
		if cs.Total > 0 {
			cs.SuccessRate = roundRate(float64(cs.Sent) / float64(cs.Total) * 100)
			cs.FailureRate = roundRate(float64(cs.Failed) / float64(cs.Total) * 100)
		}
		stats = append(stats, *cs)
	}
	return stats, nil
}

func (r *pgTransactionRepository) ErrorAnalytics(ctx context.Context, from, to *time.Time) (*domain.ErrorAnalytics, error) {
	where, args := buildDateRangeWhere(from, to)
	analytics := &domain.ErrorAnalytics{
		ErrorTypeBreakdown: []domain.ErrorTypeCount{},
		RetryableBreakdown: []domain.RetryableCount{},
		RecentErrors:       []*domain.ErrorLog{},
	}

	rows, err := r.pool.Query(ctx,
		"SELECT error_type, COUNT(*) FROM error_logs"+where+" GROUP BY error_type ORDER BY COUNT(*) DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("error type breakdown: %w", err)
	}
	for rows.Next() {
		var b domain.ErrorTypeCount
		if err := rows.Scan(&b.ErrorType, &b.Count); err != nil {
			rows.Close()
			return nil, err
		}
		analytics.TotalErrors += b.Count
		analytics.ErrorTypeBreakdown = append(analytics.ErrorTypeBreakdown, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx,
		"SELECT retryable, COUNT(*) FROM error_logs"+where+" GROUP BY retryable", args...)
	if err != nil {
		return nil, fmt.Errorf("retryable breakdown: %w", err)
	}
	for rows.Next() {
		var b domain.RetryableCount
		if err := rows.Scan(&b.Retryable, &b.Count); err != nil {
			rows.Close()
			return nil, err
		}
		analytics.RetryableBreakdown = append(analytics.RetryableBreakdown, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, transaction_id, error_type, error_message, error_stack,
		       error_code, retryable, provider_response, created_at
		FROM error_logs`+where+`
		ORDER BY created_at DESC
		LIMIT 50`, args...)
	if err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}
	defer rows.Close()

	recent, err := scanErrorLogs(rows)
	if err != nil {
		return nil, err
	}
	analytics.RecentErrors = recent
	return analytics, nil
}

// ---- helpers ----

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.TransactionID, &t.UserID, &t.NotificationType, &t.Channel, &t.Status,
		&t.Content, &t.Subject, &t.Recipient, &t.Metadata, &t.Priority,
		&t.RetryCount, &t.MaxRetries, &t.FailureReason, &t.NextRetryAt,
		&t.CreatedAt, &t.UpdatedAt, &t.SentAt, &t.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var result []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanErrorLogs(rows pgx.Rows) ([]*domain.ErrorLog, error) {
	var result []*domain.ErrorLog
	for rows.Next() {
		var l domain.ErrorLog
		err := rows.Scan(
			&l.ID, &l.TransactionID, &l.ErrorType, &l.ErrorMessage, &l.ErrorStack,
			&l.ErrorCode, &l.Retryable, &l.ProviderResponse, &l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, &l)
	}
	return result, rows.Err()
}

// buildTransactionWhere builds a parameterised WHERE clause from a TransactionFilter.
func buildTransactionWhere(f domain.TransactionFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.TransactionID != nil {
		add("transaction_id = $%d", *f.TransactionID)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.FailureReason != nil {
		add("failure_reason ILIKE $%d", "%"+*f.FailureReason+"%")
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildDateRangeWhere(from, to *time.Time) (string, []any) {
	var conditions []string
	var args []any
	if from != nil {
		args = append(args, *from)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func roundRate(v float64) float64 {
	return math.Round(v*100) / 100
}
