package export

import (
	"context"

	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RecordExporter turns records into snapshots and fans them out to every
// configured batcher. It implements country.Exporter.
type RecordExporter struct {
	batchers []*Batcher[Snapshot]
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewRecordExporter creates an exporter over batchers.
func NewRecordExporter(clock clockwork.Clock, logger zerolog.Logger, batchers ...*Batcher[Snapshot]) *RecordExporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RecordExporter{
		batchers: batchers,
		clock:    clock,
		logger:   logger.With().Str("component", "RecordExporter").Logger(),
	}
}

// Export implements country.Exporter. It never blocks.
func (e *RecordExporter) Export(_ context.Context, code string, record country.Record) {
	snapshot, err := NewSnapshot(code, record, e.clock.Now())
	if err != nil {
		e.logger.Warn().Err(err).Str("code", code).Msg("Failed to build snapshot.")
		return
	}
	for _, b := range e.batchers {
		if !b.Submit(snapshot) {
			e.logger.Warn().Str("code", code).Str("sink", b.config.Sink).Msg("Export buffer full, dropping snapshot.")
		}
	}
}

// Start starts every batcher.
func (e *RecordExporter) Start(ctx context.Context) {
	for _, b := range e.batchers {
		b.Start(ctx)
	}
}

// Stop flushes and stops every batcher, returning the first error.
func (e *RecordExporter) Stop(ctx context.Context) error {
	var first error
	for _, b := range e.batchers {
		if err := b.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
