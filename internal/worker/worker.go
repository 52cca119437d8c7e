package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/stage-runner/internal/history"
	"github.com/flowkit/stage-runner/internal/runner"
	"github.com/flowkit/stage-runner/internal/runner/domain"
	"github.com/flowkit/stage-runner/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger             *slog.Logger
	Runner             *runner.Runner
	RabbitClient       *rabbitmq.Client
	History            *history.Store // nil disables run recording
	Concurrency        int
	PrefetchCount      int
	JobTimeout         time.Duration
	ResponseRoutingKey string
}

// invocationMessage pairs a decoded envelope with its delivery tag for
// ack/nack.
type invocationMessage struct {
	Invocation  *domain.Invocation
	DeliveryTag uint64
}

// Worker consumes invocation envelopes from the queue and drives the
// runner with a bounded goroutine pool.
type Worker struct {
	logger             *slog.Logger
	runner             *runner.Runner
	rabbitClient       *rabbitmq.Client
	history            *history.Store
	concurrency        int
	prefetchCount      int
	jobTimeout         time.Duration
	responseRoutingKey string
	workerID           string
	jobsChan           chan *invocationMessage
	stopChan           chan struct{}
	wg                 sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		logger:             cfg.Logger,
		runner:             cfg.Runner,
		rabbitClient:       cfg.RabbitClient,
		history:            cfg.History,
		concurrency:        concurrency,
		prefetchCount:      cfg.PrefetchCount,
		jobTimeout:         cfg.JobTimeout,
		responseRoutingKey: cfg.ResponseRoutingKey,
		workerID:           "runner-" + uuid.New().String()[:8],
		jobsChan:           make(chan *invocationMessage, concurrency),
		stopChan:           make(chan struct{}),
	}
}

// Start begins consuming and processing invocations. Blocks until the
// context is canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.dispatch(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
