package export

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/rs/zerolog"
)

// DataBatchInserter inserts a batch of items into one sink.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BatcherConfig holds configuration for a Batcher.
type BatcherConfig struct {
	// Sink labels metrics and logs.
	Sink          string
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// Batcher collects items and flushes them when the batch is full or the
// flush interval elapses.
type Batcher[T any] struct {
	config   BatcherConfig
	inserter DataBatchInserter[T]
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu        sync.RWMutex
	stopped   bool
	inputChan chan *T
	wg        sync.WaitGroup
}

// NewBatcher creates a Batcher. Unset config fields get defaults.
func NewBatcher[T any](config BatcherConfig, inserter DataBatchInserter[T], m *metrics.Metrics, logger zerolog.Logger) *Batcher[T] {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = 30 * time.Second
	}
	return &Batcher[T]{
		config:    config,
		inserter:  inserter,
		metrics:   m,
		logger:    logger.With().Str("component", "Batcher").Str("sink", config.Sink).Logger(),
		inputChan: make(chan *T, config.BatchSize*2),
	}
}

// Start begins the batching worker.
func (b *Batcher[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting Batcher worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Submit queues item without blocking. It returns false when the buffer is
// full or the batcher is stopped.
func (b *Batcher[T]) Submit(item *T) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return false
	}
	select {
	case b.inputChan <- item:
		return true
	default:
		b.metrics.ExportBatch(b.config.Sink, "dropped")
		return false
	}
}

// Stop flushes what is buffered and closes the inserter.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping Batcher...")
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.inputChan)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("Batcher worker stopped gracefully.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Batcher worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
	}
	return nil
}

func (b *Batcher[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), batch)
			return

		case item, ok := <-b.inputChan:
			if !ok {
				b.flush(ctx, batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *Batcher[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, dropping it.")
		b.metrics.ExportBatch(b.config.Sink, "failed")
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Msg("Successfully flushed batch.")
	b.metrics.ExportBatch(b.config.Sink, "ok")
}
