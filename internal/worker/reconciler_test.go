package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/worker"
)

func seedRetryTransaction(t *testing.T, repo *repository.MockTransactionRepository, priority domain.Priority, due time.Time) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	tx := &domain.Transaction{
		TransactionID:    uuid.New().String(),
		UserID:           "u1",
		NotificationType: domain.TypeTransactional,
		Channel:          domain.ChannelEmail,
		Status:           domain.StatusQueued,
		Content:          "hi",
		Recipient:        "a@b.c",
		Priority:         priority,
		MaxRetries:       3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if err := repo.ScheduleRetry(ctx, tx.TransactionID, 1, due, "timeout"); err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestReconciler_RequeuesOrphanedDueRetries(t *testing.T) {
	repo := repository.NewMockTransactionRepository()
	broker := queue.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	past := time.Now().UTC().Add(-time.Minute)
	tx := seedRetryTransaction(t, repo, domain.PriorityMedium, past)

	r := worker.NewReconciler(repo, broker, 10*time.Millisecond, zap.NewNop())
	go r.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		stats, _ := broker.Stats(ctx, queue.QueueRegular)
		if stats.Waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reconciler never re-enqueued the orphaned retry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	job, ok := broker.Dequeue(ctx, queue.QueueRegular)
	if !ok || job.TransactionID != tx.TransactionID {
		t.Fatalf("expected job for %s, got %q", tx.TransactionID, job.TransactionID)
	}
}

func TestReconciler_HighPriorityGoesToPriorityQueue(t *testing.T) {
	repo := repository.NewMockTransactionRepository()
	broker := queue.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	past := time.Now().UTC().Add(-time.Minute)
	seedRetryTransaction(t, repo, domain.PriorityUrgent, past)

	r := worker.NewReconciler(repo, broker, 10*time.Millisecond, zap.NewNop())
	go r.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		stats, _ := broker.Stats(ctx, queue.QueuePriority)
		if stats.Waiting == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("urgent retry never landed on the priority queue")
		case <-time.After(10 * time.Millisecond):
		}
	}

	regular, _ := broker.Stats(ctx, queue.QueueRegular)
	if regular.Waiting != 0 {
		t.Fatal("regular queue should be untouched")
	}
}

func TestReconciler_SkipsJobsStillLiveInBroker(t *testing.T) {
	repo := repository.NewMockTransactionRepository()
	broker := queue.NewMemoryBroker()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	tx := seedRetryTransaction(t, repo, domain.PriorityMedium, past)

	// The broker still holds a delayed job for this transaction.
	if err := broker.Enqueue(ctx, queue.QueueRegular, domain.Job{
		TransactionID: tx.TransactionID,
		Channel:       tx.Channel,
		Recipient:     tx.Recipient,
		Content:       tx.Content,
		Priority:      tx.Priority,
	}, queue.EnqueueOptions{
		JobID:    tx.TransactionID,
		Priority: tx.Priority,
		Delay:    time.Hour,
	}); err != nil {
		t.Fatal(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := worker.NewReconciler(repo, broker, 10*time.Millisecond, zap.NewNop())
	go r.Run(runCtx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	stats, _ := broker.Stats(ctx, queue.QueueRegular)
	if stats.Waiting != 1 {
		t.Fatalf("expected exactly the original delayed job, got %+v", stats)
	}
}

func TestReaper_DeadLettersStalePending(t *testing.T) {
	repo := repository.NewMockTransactionRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := time.Now().UTC().Add(-time.Hour)
	tx := &domain.Transaction{
		TransactionID:    uuid.New().String(),
		UserID:           "u1",
		NotificationType: domain.TypeTransactional,
		Channel:          domain.ChannelEmail,
		Status:           domain.StatusPending,
		Content:          "hi",
		Recipient:        "a@b.c",
		Priority:         domain.PriorityMedium,
		MaxRetries:       3,
		CreatedAt:        old,
		UpdatedAt:        old,
	}
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}

	rp := worker.NewReaper(repo, 10*time.Millisecond, 5*time.Minute, zap.NewNop())
	go rp.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		got, _ := repo.GetByID(ctx, tx.TransactionID)
		if got.Status == domain.StatusDeadLetter {
			if got.FailedAt == nil || got.FailureReason == nil {
				t.Fatal("expected failedAt and failureReason on reaped row")
			}
			logs, _ := repo.ErrorLogs(ctx, tx.TransactionID)
			if len(logs) != 1 || logs[0].Retryable {
				t.Fatalf("expected one non-retryable synthetic log, got %+v", logs)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("reaper never dead-lettered the stale pending row")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReaper_LeavesFreshPendingAlone(t *testing.T) {
	repo := repository.NewMockTransactionRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now().UTC()
	tx := &domain.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        "u1",
		Channel:       domain.ChannelEmail,
		Status:        domain.StatusPending,
		Content:       "hi",
		Recipient:     "a@b.c",
		Priority:      domain.PriorityMedium,
		MaxRetries:    3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatal(err)
	}

	rp := worker.NewReaper(repo, 10*time.Millisecond, 5*time.Minute, zap.NewNop())
	go rp.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	got, _ := repo.GetByID(ctx, tx.TransactionID)
	if got.Status != domain.StatusPending {
		t.Fatalf("fresh pending row should be untouched, got %s", got.Status)
	}
}
