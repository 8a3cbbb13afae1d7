package export_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/export"
	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBatcher is a helper to set up a batcher with a mock for testing.
func newTestBatcher(t *testing.T, batchSize int, flushInterval time.Duration) (*export.Batcher[testPayload], *MockDataBatchInserter[testPayload]) {
	t.Helper()

	mockInserter := &MockDataBatchInserter[testPayload]{}
	batcher := export.NewBatcher[testPayload](export.BatcherConfig{
		Sink:          "test",
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		InsertTimeout: 2 * time.Second,
	}, mockInserter, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	batcher.Start(ctx)

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		assert.NoError(t, batcher.Stop(stopCtx))
	})

	return batcher, mockInserter
}

func TestBatcher_BatchSizeTrigger(t *testing.T) {
	batcher, mockInserter := newTestBatcher(t, 3, 10*time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, batcher.Submit(&testPayload{ID: i}))
	}

	require.Eventually(t, func() bool {
		return mockInserter.GetCallCount() == 1
	}, time.Second, 10*time.Millisecond, "InsertBatch should be called once")

	receivedBatches := mockInserter.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 3)
}

func TestBatcher_FlushIntervalTrigger(t *testing.T) {
	flushInterval := 100 * time.Millisecond
	batcher, mockInserter := newTestBatcher(t, 10, flushInterval)

	for i := 0; i < 2; i++ {
		require.True(t, batcher.Submit(&testPayload{ID: i}))
	}

	require.Eventually(t, func() bool {
		return mockInserter.GetCallCount() == 1
	}, flushInterval*3, 10*time.Millisecond, "InsertBatch should be called once due to timeout")

	receivedBatches := mockInserter.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 2)
}

func TestBatcher_StopFlushesFinalBatch(t *testing.T) {
	mockInserter := &MockDataBatchInserter[testPayload]{}
	batcher := export.NewBatcher[testPayload](export.BatcherConfig{
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
	}, mockInserter, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	batcher.Start(ctx)

	for i := 0; i < 4; i++ {
		require.True(t, batcher.Submit(&testPayload{ID: i}))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, batcher.Stop(stopCtx))

	assert.Equal(t, 1, mockInserter.GetCallCount(), "InsertBatch should be called on stop")
	receivedBatches := mockInserter.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 4)
	assert.True(t, mockInserter.IsClosed())
	assert.False(t, batcher.Submit(&testPayload{ID: 99}), "stopped batcher rejects items")
}

func TestBatcher_SubmitDropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	mockInserter := &MockDataBatchInserter[testPayload]{}
	// Not started, so nothing drains the buffer of BatchSize*2 items.
	batcher := export.NewBatcher[testPayload](export.BatcherConfig{Sink: "test", BatchSize: 1}, mockInserter, metrics.New(reg), zerolog.Nop())

	assert.True(t, batcher.Submit(&testPayload{ID: 1}))
	assert.True(t, batcher.Submit(&testPayload{ID: 2}))
	assert.False(t, batcher.Submit(&testPayload{ID: 3}))

	count, err := testutil.GatherAndCount(reg, "worldstats_export_batches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBatcher_InsertFailureDoesNotStopWorker(t *testing.T) {
	batcher, mockInserter := newTestBatcher(t, 1, time.Second)
	mockInserter.mu.Lock()
	mockInserter.InsertBatchFn = func(ctx context.Context, items []*testPayload) error {
		if items[0].ID == 0 {
			return errors.New("quota exceeded")
		}
		return nil
	}
	mockInserter.mu.Unlock()

	require.True(t, batcher.Submit(&testPayload{ID: 0}))
	require.True(t, batcher.Submit(&testPayload{ID: 1}))

	require.Eventually(t, func() bool {
		return mockInserter.GetCallCount() == 2
	}, time.Second, 10*time.Millisecond)
}
