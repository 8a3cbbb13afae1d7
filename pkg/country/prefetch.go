package country

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PrefetchConfig controls cache warming.
type PrefetchConfig struct {
	Regions     []string
	Concurrency int
	// Pace is the minimum gap between two fetches of one worker.
	Pace time.Duration
}

// Prefetcher warms the combined-record cache for whole regions.
type Prefetcher struct {
	aggregator *Aggregator
	cfg        PrefetchConfig
	logger     zerolog.Logger
}

// NewPrefetcher creates a Prefetcher with defaults for unset fields.
func NewPrefetcher(aggregator *Aggregator, cfg PrefetchConfig, logger zerolog.Logger) *Prefetcher {
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"Asia", "Europe"}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Pace <= 0 {
		cfg.Pace = 200 * time.Millisecond
	}
	return &Prefetcher{
		aggregator: aggregator,
		cfg:        cfg,
		logger:     logger.With().Str("component", "Prefetcher").Logger(),
	}
}

// codes lists the distinct upper-case codes of the configured regions.
func (p *Prefetcher) codes(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, region := range p.cfg.Regions {
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}
		for _, code := range p.aggregator.source.Region(ctx, region) {
			code = normalizeCode(code)
			if _, ok := seen[code]; ok || code == "" {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes
}

// Run fetches every country once and returns how many were processed. It
// stops early when ctx is cancelled.
func (p *Prefetcher) Run(ctx context.Context) (int, error) {
	codes := p.codes(ctx)
	p.logger.Info().Int("countries", len(codes)).Strs("regions", p.cfg.Regions).Msg("Prefetching countries for cache...")

	work := make(chan string)
	var done atomic.Int32
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for _, code := range codes {
			select {
			case work <- code:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			limiter := rate.NewLimiter(rate.Every(p.cfg.Pace), 1)
			for code := range work {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				p.aggregator.GetCountryCombined(gctx, code)
				done.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info().Int32("countries", done.Load()).Err(err).Msg("Prefetch complete.")
	return int(done.Load()), err
}
