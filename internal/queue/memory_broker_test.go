package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
)

func job(id string, p domain.Priority) domain.Job {
	return domain.Job{
		TransactionID: id,
		Channel:       domain.ChannelSMS,
		Recipient:     "+905551234567",
		Content:       "test",
		Priority:      p,
	}
}

func enqueue(t *testing.T, b queue.Broker, q, id string, p domain.Priority) {
	t.Helper()
	err := b.Enqueue(context.Background(), q, job(id, p), queue.EnqueueOptions{JobID: id, Priority: p})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func TestMemoryBroker_PriorityOrdering(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueueRegular, "low", domain.PriorityLow)
	enqueue(t, b, queue.QueueRegular, "urgent", domain.PriorityUrgent)
	enqueue(t, b, queue.QueueRegular, "medium", domain.PriorityMedium)

	var got []string
	for range 3 {
		j, ok := b.Dequeue(ctx, queue.QueueRegular)
		if !ok {
			t.Fatal("expected a job")
		}
		got = append(got, j.TransactionID)
	}

	want := []string{"urgent", "medium", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestMemoryBroker_FIFOWithinPriority(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueueRegular, "first", domain.PriorityMedium)
	enqueue(t, b, queue.QueueRegular, "second", domain.PriorityMedium)
	enqueue(t, b, queue.QueueRegular, "third", domain.PriorityMedium)

	for _, want := range []string{"first", "second", "third"} {
		j, ok := b.Dequeue(ctx, queue.QueueRegular)
		if !ok || j.TransactionID != want {
			t.Fatalf("expected %s, got %s (ok=%v)", want, j.TransactionID, ok)
		}
	}
}

func TestMemoryBroker_DedupByJobID(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueueRegular, "tx-1", domain.PriorityMedium)
	enqueue(t, b, queue.QueueRegular, "tx-1", domain.PriorityMedium)

	stats, err := b.Stats(ctx, queue.QueueRegular)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("expected 1 waiting job after duplicate enqueue, got %d", stats.Waiting)
	}
}

func TestMemoryBroker_DequeueBlocksUntilCancel(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := b.Dequeue(ctx, queue.QueueRegular)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false on cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after cancel")
	}
}

func TestMemoryBroker_DelayedBecomesVisible(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	err := b.Enqueue(ctx, queue.QueueRegular, job("delayed", domain.PriorityMedium), queue.EnqueueOptions{
		JobID:    "delayed",
		Priority: domain.PriorityMedium,
		Delay:    30 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	j, ok := b.Dequeue(waitCtx, queue.QueueRegular)
	if !ok {
		t.Fatal("expected delayed job to become visible")
	}
	if j.TransactionID != "delayed" {
		t.Fatalf("unexpected job %s", j.TransactionID)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("job was visible before its delay elapsed")
	}
}

func TestMemoryBroker_RetryRedelivers(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueueRegular, "tx-1", domain.PriorityMedium)
	if _, ok := b.Dequeue(ctx, queue.QueueRegular); !ok {
		t.Fatal("expected job")
	}

	if err := b.Retry(ctx, queue.QueueRegular, "tx-1", 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	j, ok := b.Dequeue(waitCtx, queue.QueueRegular)
	if !ok || j.TransactionID != "tx-1" {
		t.Fatalf("expected redelivery of tx-1, got %q (ok=%v)", j.TransactionID, ok)
	}
}

func TestMemoryBroker_StatsLifecycle(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueuePriority, "a", domain.PriorityUrgent)
	enqueue(t, b, queue.QueuePriority, "b", domain.PriorityUrgent)

	stats, _ := b.Stats(ctx, queue.QueuePriority)
	if stats.Waiting != 2 || stats.Active != 0 {
		t.Fatalf("expected waiting=2 active=0, got %+v", stats)
	}

	j, _ := b.Dequeue(ctx, queue.QueuePriority)
	stats, _ = b.Stats(ctx, queue.QueuePriority)
	if stats.Waiting != 1 || stats.Active != 1 {
		t.Fatalf("expected waiting=1 active=1, got %+v", stats)
	}

	_ = b.Ack(ctx, queue.QueuePriority, j.TransactionID)
	stats, _ = b.Stats(ctx, queue.QueuePriority)
	if stats.Active != 0 || stats.Completed != 1 {
		t.Fatalf("expected active=0 completed=1, got %+v", stats)
	}

	j2, _ := b.Dequeue(ctx, queue.QueuePriority)
	_ = b.Fail(ctx, queue.QueuePriority, j2.TransactionID)
	stats, _ = b.Stats(ctx, queue.QueuePriority)
	if stats.Failed != 1 {
		t.Fatalf("expected failed=1, got %+v", stats)
	}
}

func TestMemoryBroker_HasJob(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueueRegular, "tx-1", domain.PriorityMedium)
	if ok, _ := b.HasJob(ctx, queue.QueueRegular, "tx-1"); !ok {
		t.Fatal("expected job to be live while waiting")
	}

	j, _ := b.Dequeue(ctx, queue.QueueRegular)
	if ok, _ := b.HasJob(ctx, queue.QueueRegular, j.TransactionID); !ok {
		t.Fatal("expected job to be live while active")
	}

	_ = b.Ack(ctx, queue.QueueRegular, j.TransactionID)
	if ok, _ := b.HasJob(ctx, queue.QueueRegular, j.TransactionID); ok {
		t.Fatal("expected job to be gone after ack")
	}
}

func TestMemoryBroker_QueuesAreIndependent(t *testing.T) {
	b := queue.NewMemoryBroker()
	ctx := context.Background()

	enqueue(t, b, queue.QueuePriority, "p", domain.PriorityUrgent)

	regular, _ := b.Stats(ctx, queue.QueueRegular)
	priority, _ := b.Stats(ctx, queue.QueuePriority)
	if regular.Waiting != 0 {
		t.Fatalf("regular queue should be untouched, got %+v", regular)
	}
	if priority.Waiting != 1 {
		t.Fatalf("priority queue should hold the job, got %+v", priority)
	}
}
