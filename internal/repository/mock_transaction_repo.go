package repository

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// MockTransactionRepository is a hand-written, in-memory implementation of
// TransactionRepository used in unit tests. No mock-generation library needed.
type MockTransactionRepository struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction
	errorLogs    []*domain.ErrorLog

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr  error
	GetByIDErr error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		transactions: make(map[string]*domain.Transaction),
	}
}

func (m *MockTransactionRepository) Create(_ context.Context, t *domain.Transaction) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *t
	m.transactions[t.TransactionID] = &clone
	return nil
}

func (m *MockTransactionRepository) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MockTransactionRepository) List(_ context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Transaction
	for _, t := range m.transactions {
		if f.TransactionID != nil && t.TransactionID != *f.TransactionID {
			continue
		}
		if f.UserID != nil && t.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Channel != nil && t.Channel != *f.Channel {
			continue
		}
		if f.FailureReason != nil {
			if t.FailureReason == nil ||
				!strings.Contains(strings.ToLower(*t.FailureReason), strings.ToLower(*f.FailureReason)) {
				continue
			}
		}
		clone := *t
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, len(result), nil
}

func (m *MockTransactionRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && !t.Status.IsTerminal() {
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockTransactionRepository) MarkSent(_ context.Context, id string, providerResponse map[string]any, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && !t.Status.IsTerminal() {
		t.Status = domain.StatusSent
		t.SentAt = &sentAt
		t.FailureReason = nil
		t.NextRetryAt = nil
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata["providerResponse"] = providerResponse
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockTransactionRepository) ScheduleRetry(_ context.Context, id string, retryCount int, nextRetry time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && !t.Status.IsTerminal() {
		t.Status = domain.StatusRetry
		t.RetryCount = retryCount
		t.NextRetryAt = &nextRetry
		t.FailureReason = &reason
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockTransactionRepository) MarkDeadLetter(_ context.Context, id string, reason string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transactions[id]; ok && !t.Status.IsTerminal() {
		t.Status = domain.StatusDeadLetter
		t.FailureReason = &reason
		t.FailedAt = &failedAt
		t.NextRetryAt = nil
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MockTransactionRepository) AppendErrorLog(_ context.Context, l *domain.ErrorLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *l
	m.errorLogs = append(m.errorLogs, &clone)
	return nil
}

func (m *MockTransactionRepository) ErrorLogs(_ context.Context, transactionID string) ([]*domain.ErrorLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ErrorLog
	for _, l := range m.errorLogs {
		if l.TransactionID == transactionID {
			clone := *l
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MockTransactionRepository) ListErrorLogs(_ context.Context, f domain.ErrorLogFilter) ([]*domain.ErrorLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ErrorLog
	for _, l := range m.errorLogs {
		if f.ErrorType != nil && l.ErrorType != *f.ErrorType {
			continue
		}
		if f.Retryable != nil && l.Retryable != *f.Retryable {
			continue
		}
		clone := *l
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (m *MockTransactionRepository) FindDueRetries(_ context.Context, now time.Time) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Transaction
	for _, t := range m.transactions {
		if t.Status == domain.StatusRetry && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			clone := *t
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockTransactionRepository) FindStalePending(_ context.Context, olderThan time.Time) ([]*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Transaction
	for _, t := range m.transactions {
		if t.Status == domain.StatusPending && !t.CreatedAt.After(olderThan) {
			clone := *t
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockTransactionRepository) CountByStatus(_ context.Context, userID *string) (*domain.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := &domain.StatusCounts{}
	for _, t := range m.transactions {
		if userID != nil && t.UserID != *userID {
			continue
		}
		counts.Total++
		switch t.Status {
		case domain.StatusPending:
			counts.Pending++
		case domain.StatusQueued:
			counts.Queued++
		case domain.StatusProcessing:
			counts.Processing++
		case domain.StatusSent:
			counts.Sent++
		case domain.StatusRetry:
			counts.Retry++
		case domain.StatusFailed, domain.StatusDeadLetter:
			counts.Failed++
		}
	}
	return counts, nil
}

func (m *MockTransactionRepository) ChannelStats(_ context.Context, _, _ *time.Time) ([]domain.ChannelStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byChannel := make(map[domain.Channel]*domain.ChannelStats)
	for _, t := range m.transactions {
		cs, ok := byChannel[t.Channel]
		if !ok {
			cs = &domain.ChannelStats{Channel: t.Channel}
			byChannel[t.Channel] = cs
		}
		cs.Total++
		switch t.Status {
		case domain.StatusSent:
			cs.Sent++
		case domain.StatusFailed:
			cs.Failed++
		case domain.StatusDeadLetter:
			cs.DeadLetter++
			cs.Failed++
		case domain.StatusPending, domain.StatusQueued, domain.StatusProcessing:
			cs.Pending++
		case domain.StatusRetry:
			cs.Retry++
		}
	}
	var stats []domain.ChannelStats
	for _, c := range domain.AllChannels {
		cs, ok := byChannel[c]
		if !ok {
			continue
		}
		if cs.Total > 0 {
			cs.SuccessRate = math.Round(float64(cs.Sent)/float64(cs.Total)*10000) / 100
			cs.FailureRate = math.Round(float64(cs.Failed)/float64(cs.Total)*10000) / 100
		}
		stats = append(stats, *cs)
	}
	return stats, nil
}

func (m *MockTransactionRepository) ErrorAnalytics(_ context.Context, _, _ *time.Time) (*domain.ErrorAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	analytics := &domain.ErrorAnalytics{
		ErrorTypeBreakdown: []domain.ErrorTypeCount{},
		RetryableBreakdown: []domain.RetryableCount{},
	}
	byType := make(map[domain.ErrorKind]int)
	byRetryable := make(map[bool]int)
	for _, l := range m.errorLogs {
		analytics.TotalErrors++
		byType[l.ErrorType]++
		byRetryable[l.Retryable]++
		clone := *l
		analytics.RecentErrors = append(analytics.RecentErrors, &clone)
	}
	for kind, n := range byType {
		analytics.ErrorTypeBreakdown = append(analytics.ErrorTypeBreakdown, domain.ErrorTypeCount{ErrorType: kind, Count: n})
	}
	for retryable, n := range byRetryable {
		analytics.RetryableBreakdown = append(analytics.RetryableBreakdown, domain.RetryableCount{Retryable: retryable, Count: n})
	}
	if len(analytics.RecentErrors) > 50 {
		analytics.RecentErrors = analytics.RecentErrors[:50]
	}
	return analytics, nil
}
