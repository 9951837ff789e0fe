package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/provider"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
	"github.com/notifyhub/dispatch/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the worker constructor signature clean.
type MetricHooks struct {
	OnSent       func(channel domain.Channel, latency time.Duration)
	OnRetry      func(channel domain.Channel)
	OnDeadLetter func(channel domain.Channel)
}

// Pool manages the lifecycle of the workers consuming one queue.
// The regular and priority queues each get their own pool with an
// independently-configured size; there is no cross-queue coordination.
type Pool struct {
	queueName string
	workers   []*Worker
	wg        sync.WaitGroup
}

// NewPool creates size identical workers bound to the named queue.
func NewPool(
	queueName string,
	size int,
	broker queue.Broker,
	repo repository.TransactionRepository,
	providers *provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	backoff Backoff,
	sendTimeout time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	workers := make([]*Worker, size)
	for i := range workers {
		workers[i] = NewWorker(
			i, queueName, broker, repo, providers, limiter,
			backoff, sendTimeout,
			logger.With(zap.String("queue", queueName), zap.Int("worker_id", i)),
			hooks,
		)
	}
	return &Pool{queueName: queueName, workers: workers}
}

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context so in-flight jobs finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}
