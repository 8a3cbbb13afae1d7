// Package enrichment runs deferred, fire-and-forget enrichment work: a task is
// submitted after a response has already been returned, a fetcher looks up
// the extra data, and an applier writes it back.
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrSkip is returned by a Fetcher when there is nothing to apply.
var ErrSkip = errors.New("enrichment: nothing to apply")

// Fetcher looks up enrichment data for a task.
type Fetcher[T any, V any] func(ctx context.Context, task T) (V, error)

// Applier writes fetched data back for a task.
type Applier[T any, V any] func(ctx context.Context, task T, data V) error

// Outcome of processing one task.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeApplyFailed Outcome = "apply_failed"
)

// Enricher is a single fetch-then-apply step.
type Enricher[T any] func(ctx context.Context, task T) Outcome

// NewEnricherFunc combines a fetcher and an applier. Failures are logged and
// reported as an Outcome, never returned.
func NewEnricherFunc[T any, V any](
	fetcher Fetcher[T, V],
	applier Applier[T, V],
	logger zerolog.Logger,
) (Enricher[T], error) {
	if fetcher == nil || applier == nil {
		return nil, fmt.Errorf("fetcher and applier cannot be nil")
	}

	enrichLogger := logger.With().Str("component", "EnricherFunc").Logger()

	return func(ctx context.Context, task T) Outcome {
		data, err := fetcher(ctx, task)
		if errors.Is(err, ErrSkip) {
			enrichLogger.Debug().Msgf("Nothing to apply for task '%v'.", task)
			return OutcomeSkipped
		}
		if err != nil {
			enrichLogger.Debug().Err(err).Msgf("Failed to fetch enrichment data for task '%v'.", task)
			return OutcomeFetchFailed
		}
		if err := applier(ctx, task, data); err != nil {
			enrichLogger.Warn().Err(err).Msgf("Failed to apply enrichment for task '%v'.", task)
			return OutcomeApplyFailed
		}
		return OutcomeApplied
	}, nil
}
