package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/classify"
	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Backoff computes the delay before retry attempt n (n >= 1).
type Backoff func(attempt int) time.Duration

// Worker is a single goroutine that continuously pulls jobs from one queue,
// applies per-channel rate limiting, delivers via the channel's provider,
// and drives the transaction state machine:
//
//	PROCESSING → SENT            provider ack
//	PROCESSING → RETRY           retryable failure, attempts remaining
//	PROCESSING → DEAD_LETTER     non-retryable failure or retries exhausted
//
// The database is the authority on retry counts: the worker never retries
// once the stored retryCount has reached maxRetries, regardless of what
// the broker's own attempt accounting would allow.
type Worker struct {
	id        int
	queueName string
	broker    queue.Broker
	repo      repository.TransactionRepository
	providers *provider.Registry
	limiter   *ratelimiter.ChannelLimiters
	backoff   Backoff
	sendTO    time.Duration
	logger    *zap.Logger

	// Hooks for metrics — injected by the pool so the worker stays metrics-agnostic.
	onSent       func(channel domain.Channel, latency time.Duration)
	onRetry      func(channel domain.Channel)
	onDeadLetter func(channel domain.Channel)
}

// NewWorker constructs a worker. Hooks are optional (nil = no-op).
func NewWorker(
	id int,
	queueName string,
	broker queue.Broker,
	repo repository.TransactionRepository,
	providers *provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	backoff Backoff,
	sendTimeout time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	if hooks.OnSent == nil {
		hooks.OnSent = func(domain.Channel, time.Duration) {}
	}
	if hooks.OnRetry == nil {
		hooks.OnRetry = func(domain.Channel) {}
	}
	if hooks.OnDeadLetter == nil {
		hooks.OnDeadLetter = func(domain.Channel) {}
	}
	return &Worker{
		id: id, queueName: queueName, broker: broker, repo: repo,
		providers: providers, limiter: limiter, backoff: backoff,
		sendTO: sendTimeout, logger: logger,
		onSent: hooks.OnSent, onRetry: hooks.OnRetry, onDeadLetter: hooks.OnDeadLetter,
	}
}

// Run blocks until ctx is cancelled, processing one job per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id), zap.String("queue", w.queueName))
	for {
		job, ok := w.broker.Dequeue(ctx, w.queueName)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id), zap.String("queue", w.queueName))
			return
		}
		w.Process(ctx, job)
	}
}

// Process runs one delivery attempt for the job. Exported so tests can
// drive the state machine without a running pool.
func (w *Worker) Process(ctx context.Context, job domain.Job) {
	start := time.Now()
	log := w.logger.With(
		zap.String("transaction_id", job.TransactionID),
		zap.String("channel", string(job.Channel)),
	)
	// The dispatcher stamped the submission's correlation ID on the job
	// metadata; carrying it here links worker logs to the HTTP request.
	if id := domain.CorrelationIDOf(job.Metadata); id != "" {
		log = log.With(zap.String("correlation_id", id))
	}

	t, err := w.repo.GetByID(ctx, job.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A job without a row is unrecoverable; drop it.
			log.Warn("job references unknown transaction")
			_ = w.broker.Ack(ctx, w.queueName, job.TransactionID)
			return
		}
		log.Error("failed to fetch transaction", zap.Error(err))
		return
	}

	// Redelivery of a finished transaction is a no-op ack.
	if t.Status.IsTerminal() {
		log.Debug("transaction already terminal", zap.String("status", string(t.Status)))
		_ = w.broker.Ack(ctx, w.queueName, job.TransactionID)
		return
	}

	if err := w.repo.UpdateStatus(ctx, t.TransactionID, domain.StatusProcessing); err != nil {
		log.Error("failed to mark as processing", zap.Error(err))
		return
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := w.limiter.Wait(ctx, t.Channel); err != nil {
		// ctx cancelled while waiting — worker is shutting down.
		return
	}

	prov := w.providers.For(t.Channel)
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTO)
	result, err := prov.Send(sendCtx, domain.SendInput{
		Recipient: t.Recipient,
		Subject:   t.Subject,
		Body:      t.Content,
		Metadata:  t.Metadata,
	})
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("provider send failed",
			zap.Error(err),
			zap.Int("retry_count", t.RetryCount),
		)
		w.handleFailure(ctx, t, err)
		return
	}

	response := map[string]any{
		"providerMessageId": result.ProviderMessageID,
		"providerName":      result.ProviderName,
	}
	if result.RawResponse != nil {
		response["raw"] = result.RawResponse
	}
	if err := w.repo.MarkSent(ctx, t.TransactionID, response, time.Now().UTC()); err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return
	}
	if err := w.broker.Ack(ctx, w.queueName, t.TransactionID); err != nil {
		log.Warn("failed to ack job", zap.Error(err))
	}

	w.onSent(t.Channel, elapsed)
	log.Info("notification sent",
		zap.String("provider_msg_id", result.ProviderMessageID),
		zap.Duration("latency", elapsed),
	)
}

// handleFailure classifies the error, appends the error log, and either
// schedules a retry or dead-letters the transaction.
//
// Retry schedule: attempt n (n ≥ 1) runs base*multiplier^(n-1) after the
// prior failure. Non-retryable errors dead-letter immediately no matter
// how many attempts remain.
func (w *Worker) handleFailure(ctx context.Context, t *domain.Transaction, sendErr error) {
	log := w.logger.With(zap.String("transaction_id", t.TransactionID))
	now := time.Now().UTC()

	kind, retryable := classify.Classify(sendErr)
	w.appendErrorLog(ctx, t.TransactionID, kind, retryable, sendErr, now)

	// Re-read the row: the stored retryCount is the authority.
	current, err := w.repo.GetByID(ctx, t.TransactionID)
	if err != nil {
		log.Error("failed to re-read transaction after failure", zap.Error(err))
		current = t
	}
	if current.Status.IsTerminal() {
		_ = w.broker.Ack(ctx, w.queueName, t.TransactionID)
		return
	}

	reason := sendErr.Error()

	if !retryable || current.RetryCount+1 > current.MaxRetries {
		if err := w.repo.MarkDeadLetter(ctx, t.TransactionID, reason, now); err != nil {
			log.Error("failed to dead-letter transaction", zap.Error(err))
		}
		if err := w.broker.Fail(ctx, w.queueName, t.TransactionID); err != nil {
			log.Warn("failed to mark job failed in broker", zap.Error(err))
		}
		// Park a copy on the dead-letter queue for manual inspection.
		if err := w.broker.Enqueue(ctx, queue.QueueDeadLetter, jobFromTransaction(current), queue.EnqueueOptions{
			JobID:    t.TransactionID,
			Priority: current.Priority,
		}); err != nil {
			log.Warn("failed to park job on dead-letter queue", zap.Error(err))
		}
		w.onDeadLetter(t.Channel)
		log.Warn("transaction dead-lettered",
			zap.String("error_type", string(kind)),
			zap.Bool("retryable", retryable),
			zap.Int("retry_count", current.RetryCount),
		)
		return
	}

	attempt := current.RetryCount + 1
	delay := w.backoff(attempt)
	nextRetry := now.Add(delay)

	if err := w.repo.ScheduleRetry(ctx, t.TransactionID, attempt, nextRetry, reason); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
	}
	if err := w.broker.Retry(ctx, w.queueName, t.TransactionID, delay); err != nil {
		log.Error("failed to reschedule job in broker", zap.Error(err))
	}
	w.onRetry(t.Channel)
	log.Info("retry scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

func (w *Worker) appendErrorLog(ctx context.Context, transactionID string, kind domain.ErrorKind, retryable bool, sendErr error, now time.Time) {
	entry := &domain.ErrorLog{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		ErrorType:     kind,
		ErrorMessage:  sendErr.Error(),
		Retryable:     retryable,
		CreatedAt:     now,
	}

	var pe *domain.ProviderError
	if errors.As(sendErr, &pe) {
		if pe.ErrorCode != "" {
			code := pe.ErrorCode
			entry.ErrorCode = &code
		}
		entry.ProviderResponse = map[string]any{
			"provider":   pe.ProviderName,
			"recipient":  pe.Recipient,
			"statusCode": pe.StatusCode,
			"message":    pe.Message,
		}
	}

	if err := w.repo.AppendErrorLog(ctx, entry); err != nil {
		w.logger.Error("failed to append error log",
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
