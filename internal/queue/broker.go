package queue

import (
	"context"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Queue names. The dispatcher routes HIGH and URGENT submissions to the
// priority queue; the dead-letter queue is written but never consumed —
// it is retained for manual inspection.
const (
	QueueRegular    = "regular"
	QueuePriority   = "priority"
	QueueDeadLetter = "dead-letter"
)

// EnqueueOptions carries per-job scheduling parameters.
type EnqueueOptions struct {
	// JobID deduplicates: an id already waiting or in flight is not
	// enqueued again. The dispatcher uses the transaction id, which
	// bounds the broker to one live job per transaction.
	JobID    string
	Priority domain.Priority
	// Delay defers visibility; used for retry backoff.
	Delay time.Duration
}

// Stats is a point-in-time snapshot of one queue.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Broker is the queue abstraction the dispatcher and workers share.
//
// A retried job keeps its id and is delivered again after its delay. A job
// popped by a worker that dies without acking stays in the active set and
// is not redelivered: the broker has no visibility timeout, and the
// reconciler counts the job as live and skips it. Within a queue, higher
// priority jobs are delivered first; ties break FIFO.
type Broker interface {
	Enqueue(ctx context.Context, queue string, job domain.Job, opts EnqueueOptions) error
	// Dequeue blocks until a job is available or ctx is cancelled.
	// Returns (Job{}, false) on cancellation (graceful shutdown signal).
	Dequeue(ctx context.Context, queue string) (domain.Job, bool)
	// Ack marks the job finished after a successful delivery.
	Ack(ctx context.Context, queue, jobID string) error
	// Retry reschedules an in-flight job for redelivery after delay.
	Retry(ctx context.Context, queue, jobID string, delay time.Duration) error
	// Fail removes the job permanently after a terminal failure.
	Fail(ctx context.Context, queue, jobID string) error
	// HasJob reports whether the job is currently waiting, delayed, or active.
	HasJob(ctx context.Context, queue, jobID string) (bool, error)
	Stats(ctx context.Context, queue string) (Stats, error)
}
