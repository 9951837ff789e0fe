package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Reaper polls the database for transactions stranded in PENDING — created
// but never enqueued, typically because the process died between the row
// insert and the broker write — and rolls them forward to DEAD_LETTER with
// a synthetic error log. Nothing will ever pick a stranded PENDING row up
// otherwise.
type Reaper struct {
	repo       repository.TransactionRepository
	interval   time.Duration
	pendingTTL time.Duration
	logger     *zap.Logger
}

func NewReaper(
	repo repository.TransactionRepository,
	interval time.Duration,
	pendingTTL time.Duration,
	logger *zap.Logger,
) *Reaper {
	return &Reaper{repo: repo, interval: interval, pendingTTL: pendingTTL, logger: logger}
}

// Run ticks every interval and reaps any over-age PENDING transactions.
// Stops cleanly when ctx is cancelled.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	rp.logger.Info("pending reaper started",
		zap.Duration("interval", rp.interval),
		zap.Duration("pending_ttl", rp.pendingTTL),
	)

	for {
		select {
		case <-ctx.Done():
			rp.logger.Info("pending reaper stopping")
			return
		case <-ticker.C:
			rp.poll(ctx)
		}
	}
}

func (rp *Reaper) poll(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := rp.repo.FindStalePending(ctx, now.Add(-rp.pendingTTL))
	if err != nil {
		rp.logger.Error("reaper poll error", zap.Error(err))
		return
	}

	for _, t := range stale {
		reason := "stranded in PENDING: job was never enqueued"

		if err := rp.repo.AppendErrorLog(ctx, &domain.ErrorLog{
			ID:            uuid.New().String(),
			TransactionID: t.TransactionID,
			ErrorType:     domain.KindNonRetryable,
			ErrorMessage:  reason,
			Retryable:     false,
			CreatedAt:     now,
		}); err != nil {
			rp.logger.Error("failed to append reaper error log",
				zap.String("transaction_id", t.TransactionID), zap.Error(err))
		}

		if err := rp.repo.MarkDeadLetter(ctx, t.TransactionID, reason, now); err != nil {
			rp.logger.Error("failed to dead-letter stranded transaction",
				zap.String("transaction_id", t.TransactionID), zap.Error(err))
		}
	}

	if len(stale) > 0 {
		rp.logger.Warn("reaped stranded pending transactions", zap.Int("count", len(stale)))
	}
}
