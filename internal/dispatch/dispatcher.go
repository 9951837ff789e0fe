// Package dispatch is the submission path: it resolves the effective
// channel and priority from user preferences, persists the transaction,
// and enqueues the delivery job.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/preference"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
)

// bulkBatchSize bounds how many submissions run concurrently in a bulk
// request; each batch completes before the next starts.
const bulkBatchSize = 50

// Submission is what the HTTP layer gets back from a successful submit.
type Submission struct {
	TransactionID string
	Channel       domain.Channel
	Priority      domain.Priority
}

// Dispatcher validates requests, resolves routing, persists the
// transaction, and enqueues the job. All collaborators are injected at
// construction; there is no ambient service locator.
type Dispatcher struct {
	repo       repository.TransactionRepository
	prefs      *preference.Store
	broker     queue.Broker
	providers  *provider.Registry
	maxRetries int
	logger     *zap.Logger
}

func NewDispatcher(
	repo repository.TransactionRepository,
	prefs *preference.Store,
	broker queue.Broker,
	providers *provider.Registry,
	maxRetries int,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		prefs:      prefs,
		broker:     broker,
		providers:  providers,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Submit processes one notification request:
//
//  1. resolve the effective channel (request override, else first preferred
//     channel, else EMAIL)
//  2. resolve the effective priority (request override, else the channel's
//     stored priority, else MEDIUM)
//  3. persist the transaction in PENDING
//  4. enqueue on the priority queue for HIGH/URGENT, else the regular queue
//
// If the row is created but the job cannot be enqueued, the transaction is
// rolled forward to DEAD_LETTER with a synthetic error log instead of being
// stranded in PENDING.
func (d *Dispatcher) Submit(ctx context.Context, req domain.CreateNotificationRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	channel, priority, err := d.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if !d.providers.Ready(channel) {
		// Refused up front, but still recorded for the audit trail.
		return nil, d.recordUnready(ctx, req, channel, priority)
	}

	now := time.Now().UTC()
	notificationType := req.NotificationType
	if notificationType == "" {
		notificationType = domain.TypeTransactional
	}
	t := &domain.Transaction{
		TransactionID:    uuid.New().String(),
		UserID:           req.UserID,
		NotificationType: notificationType,
		Channel:          channel,
		Status:           domain.StatusPending,
		Content:          req.Content,
		Subject:          req.Subject,
		Recipient:        req.Recipient,
		Metadata:         req.Metadata,
		Priority:         priority,
		RetryCount:       0,
		MaxRetries:       d.maxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	// Stamp the submission's correlation ID so the admin endpoints can
	// trace the request through the worker and error logs.
	if id := domain.CorrelationIDFrom(ctx); id != "" {
		t.Metadata[domain.MetadataCorrelationKey] = id
	}

	if err := d.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	queueName := queue.QueueRegular
	if priority >= domain.PriorityHigh {
		queueName = queue.QueuePriority
	}

	job := jobFromTransaction(t)
	if err := d.broker.Enqueue(ctx, queueName, job, queue.EnqueueOptions{
		JobID:    t.TransactionID,
		Priority: priority,
	}); err != nil {
		d.rollForward(ctx, t, err)
		return nil, domain.ErrEnqueueFailed
	}

	if err := d.repo.UpdateStatus(ctx, t.TransactionID, domain.StatusQueued); err != nil {
		d.logger.Error("failed to update status to queued",
			zap.String("transaction_id", t.TransactionID), zap.Error(err))
	}

	d.logger.Info("notification submitted",
		zap.String("transaction_id", t.TransactionID),
		zap.String("user_id", t.UserID),
		zap.String("channel", string(channel)),
		zap.Int("priority", int(priority)),
		zap.String("queue", queueName),
		zap.String("correlation_id", domain.CorrelationIDFrom(ctx)),
	)

	return &Submission{
		TransactionID: t.TransactionID,
		Channel:       channel,
		Priority:      priority,
	}, nil
}

// SubmitBulk fans submissions out in batches of bulkBatchSize, awaiting
// each batch before starting the next, and collects per-item results.
// A per-item failure never aborts the rest of the request.
func (d *Dispatcher) SubmitBulk(ctx context.Context, requests []domain.CreateNotificationRequest) ([]domain.BulkItemResult, error) {
	if len(requests) == 0 {
		return nil, domain.ErrBulkEmpty
	}
	if len(requests) > 1000 {
		return nil, domain.ErrBulkTooLarge
	}

	results := make([]domain.BulkItemResult, len(requests))

	for start := 0; start < len(requests); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(requests) {
			end = len(requests)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				req := requests[i]
				sub, err := d.Submit(ctx, req)
				if err != nil {
					results[i] = domain.BulkItemResult{
						Success: false,
						UserID:  req.UserID,
						Error:   err.Error(),
					}
					return
				}
				results[i] = domain.BulkItemResult{
					Success:       true,
					TransactionID: sub.TransactionID,
					UserID:        req.UserID,
				}
			}(i)
		}
		wg.Wait()
	}

	return results, nil
}

// resolve computes the effective channel and priority for a request.
func (d *Dispatcher) resolve(ctx context.Context, req domain.CreateNotificationRequest) (domain.Channel, domain.Priority, error) {
	var channel domain.Channel
	if req.Channel != nil {
		channel = *req.Channel
	} else {
		preferred, err := d.prefs.PreferredChannels(ctx, req.UserID)
		if err != nil {
			return "", 0, err
		}
		if len(preferred) > 0 {
			channel = preferred[0]
		} else {
			channel = domain.ChannelEmail
		}
	}

	var priority domain.Priority
	if req.Priority != nil {
		priority = *req.Priority
	} else {
		chanPri, err := d.prefs.ChannelPriority(ctx, req.UserID, channel)
		if err != nil {
			return "", 0, err
		}
		priority = chanPri
		if priority == 0 {
			priority = domain.PriorityMedium
		}
	}

	return channel, priority, nil
}

// recordUnready persists the refused submission as a dead-lettered
// transaction with a non-retryable error log, then surfaces the refusal.
func (d *Dispatcher) recordUnready(ctx context.Context, req domain.CreateNotificationRequest, channel domain.Channel, priority domain.Priority) error {
	now := time.Now().UTC()
	reason := fmt.Sprintf("provider for channel %s is not configured", channel)

	notificationType := req.NotificationType
	if notificationType == "" {
		notificationType = domain.TypeTransactional
	}
	t := &domain.Transaction{
		TransactionID:    uuid.New().String(),
		UserID:           req.UserID,
		NotificationType: notificationType,
		Channel:          channel,
		Status:           domain.StatusPending,
		Content:          req.Content,
		Subject:          req.Subject,
		Recipient:        req.Recipient,
		Metadata:         req.Metadata,
		Priority:         priority,
		MaxRetries:       d.maxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	if id := domain.CorrelationIDFrom(ctx); id != "" {
		t.Metadata[domain.MetadataCorrelationKey] = id
	}

	if err := d.repo.Create(ctx, t); err != nil {
		d.logger.Error("failed to record refused submission", zap.Error(err))
		return domain.ErrProviderNotReady
	}

	d.appendSyntheticError(ctx, t.TransactionID, domain.KindInvalidData, reason)
	if err := d.repo.MarkDeadLetter(ctx, t.TransactionID, reason, now); err != nil {
		d.logger.Error("failed to dead-letter refused submission",
			zap.String("transaction_id", t.TransactionID), zap.Error(err))
	}

	return domain.ErrProviderNotReady
}

// rollForward dead-letters a transaction whose job could not be enqueued.
func (d *Dispatcher) rollForward(ctx context.Context, t *domain.Transaction, enqueueErr error) {
	d.logger.Error("enqueue failed: rolling transaction forward to dead letter",
		zap.String("transaction_id", t.TransactionID), zap.Error(enqueueErr))

	reason := fmt.Sprintf("enqueue failed: %v", enqueueErr)
	d.appendSyntheticError(ctx, t.TransactionID, domain.KindNonRetryable, reason)
	if err := d.repo.MarkDeadLetter(ctx, t.TransactionID, reason, time.Now().UTC()); err != nil {
		d.logger.Error("failed to dead-letter after enqueue failure",
			zap.String("transaction_id", t.TransactionID), zap.Error(err))
	}
}

func (d *Dispatcher) appendSyntheticError(ctx context.Context, transactionID string, kind domain.ErrorKind, message string) {
	if err := d.repo.AppendErrorLog(ctx, &domain.ErrorLog{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		ErrorType:     kind,
		ErrorMessage:  message,
		Retryable:     false,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		d.logger.Error("failed to append synthetic error log",
			zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

func jobFromTransaction(t *domain.Transaction) domain.Job {
	return domain.Job{
		TransactionID: t.TransactionID,
		UserID:        t.UserID,
		Channel:       t.Channel,
		Recipient:     t.Recipient,
		Subject:       t.Subject,
		Content:       t.Content,
		Priority:      t.Priority,
		Metadata:      t.Metadata,
	}
}
