package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Reconciler polls the database for RETRY transactions whose next_retry_at
// is in the past but which have no live job in the broker, and re-enqueues
// them.
//
// In normal operation the broker's delayed redelivery handles retries on
// its own; the reconciler covers RETRY rows whose job is no longer held by
// the broker at all (for example after a broker flush). A job that a
// crashed worker left in the active set still counts as live and is not
// re-enqueued. Because retry times are persisted, a retry whose broker job
// was lost is still picked up after a restart.
type Reconciler struct {
	repo     repository.TransactionRepository
	broker   queue.Broker
	interval time.Duration
	logger   *zap.Logger
}

func NewReconciler(
	repo repository.TransactionRepository,
	broker queue.Broker,
	interval time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{repo: repo, broker: broker, interval: interval, logger: logger}
}

// Run ticks every interval and re-enqueues any orphaned due retries.
// Stops cleanly when ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context) {
	due, err := r.repo.FindDueRetries(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("reconcile poll error", zap.Error(err))
		return
	}

	requeued := 0
	for _, t := range due {
		queueName := queue.QueueRegular
		if t.Priority >= domain.PriorityHigh {
			queueName = queue.QueuePriority
		}

		// Jobs the broker still holds (waiting, delayed or active) are not orphans.
		alive, err := r.broker.HasJob(ctx, queueName, t.TransactionID)
		if err != nil {
			r.logger.Warn("could not check for live job",
				zap.String("transaction_id", t.TransactionID), zap.Error(err))
			continue
		}
		if alive {
			continue
		}

		if err := r.broker.Enqueue(ctx, queueName, jobFromTransaction(t), queue.EnqueueOptions{
			JobID:    t.TransactionID,
			Priority: t.Priority,
		}); err != nil {
			r.logger.Warn("could not re-enqueue retry",
				zap.String("transaction_id", t.TransactionID), zap.Error(err))
			continue
		}
		requeued++
	}

	if requeued > 0 {
		r.logger.Info("re-enqueued orphaned retries", zap.Int("count", requeued))
	}
}
