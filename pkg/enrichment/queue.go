package enrichment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/rs/zerolog"
)

// QueueConfig holds configuration for a Queue.
type QueueConfig struct {
	NumWorkers  int
	QueueSize   int
	TaskTimeout time.Duration
}

// Queue is a bounded worker pool for Enricher tasks. Submit never blocks.
type Queue[T any] struct {
	numWorkers  int
	taskTimeout time.Duration
	enricher    Enricher[T]
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan T
	wg     sync.WaitGroup
}

// NewQueue creates a Queue. Call Start before submitting.
func NewQueue[T any](cfg QueueConfig, enricher Enricher[T], m *metrics.Metrics, logger zerolog.Logger) (*Queue[T], error) {
	if enricher == nil {
		return nil, fmt.Errorf("enricher cannot be nil")
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	return &Queue[T]{
		numWorkers:  cfg.NumWorkers,
		taskTimeout: cfg.TaskTimeout,
		enricher:    enricher,
		metrics:     m,
		logger:      logger.With().Str("service", "EnrichmentQueue").Logger(),
		tasks:       make(chan T, cfg.QueueSize),
	}, nil
}

// Start spawns the workers. They exit when ctx is cancelled or Stop drains the queue.
func (q *Queue[T]) Start(ctx context.Context) {
	q.logger.Info().Int("worker_count", q.numWorkers).Msg("Starting enrichment workers...")
	q.wg.Add(q.numWorkers)
	for i := 0; i < q.numWorkers; i++ {
		go q.worker(ctx, i)
	}
}

// Submit enqueues task. It returns false, dropping the task, when the queue is
// full or stopped.
func (q *Queue[T]) Submit(task T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.logger.Warn().Msg("Enrichment queue full, dropping task.")
		q.metrics.Enrichment("dropped")
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish, or for ctx.
func (q *Queue[T]) Stop(ctx context.Context) error {
	q.logger.Info().Msg("Stopping enrichment queue...")
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	workerDone := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		q.logger.Info().Msg("Enrichment queue stopped.")
		return nil
	case <-ctx.Done():
		q.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for enrichment workers to finish.")
		return ctx.Err()
	}
}

func (q *Queue[T]) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.logger.Debug().Int("worker_id", workerID).Msg("Enrichment worker shutting down due to context cancellation.")
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.process(ctx, task)
		}
	}
}

func (q *Queue[T]) process(ctx context.Context, task T) {
	taskCtx, cancel := context.WithTimeout(ctx, q.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Msg("Enrichment task panicked.")
			q.metrics.Enrichment("panic")
		}
	}()

	outcome := q.enricher(taskCtx, task)
	q.metrics.Enrichment(string(outcome))
}
