// Package country assembles the combined per-country record from the
// upstream providers and keeps it in the cache.
package country

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/illmade-knight/go-worldstats/pkg/enrichment"
	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/illmade-knight/go-worldstats/pkg/series"
	"github.com/illmade-knight/go-worldstats/pkg/upstream"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// CombinedTTL is the lifetime of an assembled record.
	CombinedTTL = time.Hour

	combinedKeyPrefix = "combined:v2:"
	tracerName        = "github.com/illmade-knight/go-worldstats/pkg/country"
)

// CombinedKey is the cache key of the assembled record for code.
func CombinedKey(code string) string {
	return combinedKeyPrefix + code
}

// Source is the upstream surface the aggregator reads. upstream.Fetchers
// implements it; every method degrades to an empty value instead of failing.
type Source interface {
	Country(ctx context.Context, code string) Identity
	Indicator(ctx context.Context, code, indicator string) series.TimeSeries
	Dataset(ctx context.Context, dataset, code string) series.TimeSeries
	LargestCity(ctx context.Context, iso string) string
	Search(ctx context.Context, query string) []Summary
	Region(ctx context.Context, region string) []string
}

// Exporter receives every freshly assembled record. Export must not block.
type Exporter interface {
	Export(ctx context.Context, code string, record Record)
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithClock sets the clock used for the current-year area fallback.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Aggregator) { a.clock = clock }
}

// WithMetrics records aggregation and enrichment outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithExporter hands assembled records to e.
func WithExporter(e Exporter) Option {
	return func(a *Aggregator) { a.exporter = e }
}

// WithEnrichment configures the deferred enrichment workers.
func WithEnrichment(cfg enrichment.QueueConfig) Option {
	return func(a *Aggregator) { a.enrichCfg = cfg }
}

// EnrichTask asks for the largest city of a stored record to be filled in.
type EnrichTask struct {
	Key    string
	ISO    string
	Record Record
}

func (t EnrichTask) String() string {
	return t.Key + " (" + t.ISO + ")"
}

// Aggregator builds country records. GetCountryCombined never fails.
type Aggregator struct {
	source    Source
	cache     cache.Cache
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	exporter  Exporter
	tracer    trace.Tracer
	logger    zerolog.Logger
	enrichCfg enrichment.QueueConfig
	enricher  *enrichment.Queue[EnrichTask]
}

// NewAggregator creates an Aggregator. Call Start to run enrichment workers.
func NewAggregator(source Source, store cache.Cache, logger zerolog.Logger, opts ...Option) (*Aggregator, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	a := &Aggregator{
		source: source,
		cache:  store,
		clock:  clockwork.NewRealClock(),
		tracer: otel.Tracer(tracerName),
		logger: logger.With().Str("component", "Aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	enricher, err := enrichment.NewEnricherFunc(a.fetchLargestCity, a.applyLargestCity, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create largest-city enricher: %w", err)
	}
	a.enricher, err = enrichment.NewQueue(a.enrichCfg, enricher, a.metrics, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrichment queue: %w", err)
	}
	return a, nil
}

// Start runs the enrichment workers until ctx is cancelled or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	a.enricher.Start(ctx)
}

// Stop waits for pending enrichment tasks, bounded by ctx.
func (a *Aggregator) Stop(ctx context.Context) error {
	return a.enricher.Stop(ctx)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GetCountryCombined returns the combined record for code, from cache when
// possible. Failures surface only as empty fields.
func (a *Aggregator) GetCountryCombined(ctx context.Context, code string) Record {
	code = normalizeCode(code)
	if code == "" {
		a.metrics.Aggregation("blank")
		return minimalRecord(Identity{}, 0)
	}

	ctx, span := a.tracer.Start(ctx, "country.GetCountryCombined", trace.WithAttributes(attribute.String("country.code", code)))
	defer span.End()

	key := CombinedKey(code)
	if record, ok := cache.Load[Record](ctx, a.cache, key); ok {
		a.metrics.Aggregation("cached")
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return record
	}

	record, err := a.assemble(ctx, code)
	if err != nil {
		a.logger.Error().Err(err).Str("code", code).Msg("Aggregation failed, returning minimal record.")
		span.RecordError(err)
		a.metrics.Aggregation("minimal")
		return a.minimal(ctx, code)
	}

	if err := cache.Save(ctx, a.cache, key, record, CombinedTTL); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache combined record.")
	}
	a.metrics.Aggregation("assembled")

	iso := record.Country.CCA2
	if iso == "" {
		iso = code
	}
	if !a.enricher.Submit(EnrichTask{Key: key, ISO: iso, Record: record}) {
		a.logger.Debug().Str("key", key).Msg("Largest-city enrichment not queued.")
	}
	if a.exporter != nil {
		a.exporter.Export(ctx, code, record)
	}
	return record
}

// spawn runs fn in g, converting a panic into an error for the wave.
func spawn(g *errgroup.Group, name string, fn func()) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		fn()
		return nil
	})
}

func (a *Aggregator) assemble(ctx context.Context, code string) (record Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assembling %s panicked: %v", code, r)
		}
	}()

	var (
		identity Identity
		gdp, pop series.TimeSeries
	)
	waveCtx, span := a.tracer.Start(ctx, "country.headlineWave")
	g, gctx := errgroup.WithContext(waveCtx)
	spawn(g, "identity", func() { identity = a.source.Country(gctx, code) })
	spawn(g, "gdp", func() { gdp = a.source.Indicator(gctx, code, upstream.IndicatorGDP) })
	spawn(g, "population", func() { pop = a.source.Indicator(gctx, code, upstream.IndicatorPopulation) })
	err = g.Wait()
	span.End()
	if err != nil {
		return Record{}, fmt.Errorf("headline wave: %w", err)
	}

	var area, density, gdppc, growth, inflation series.TimeSeries
	waveCtx, span = a.tracer.Start(ctx, "country.supplementaryWave")
	g, gctx = errgroup.WithContext(waveCtx)
	spawn(g, "area", func() { area = a.source.Indicator(gctx, code, upstream.IndicatorArea) })
	spawn(g, "density", func() { density = a.source.Indicator(gctx, code, upstream.IndicatorDensity) })
	spawn(g, "gdpPerCapita", func() { gdppc = a.source.Indicator(gctx, code, upstream.IndicatorGDPPerCapita) })
	spawn(g, "gdpGrowth", func() { growth = a.source.Indicator(gctx, code, upstream.IndicatorGDPGrowth) })
	spawn(g, "inflation", func() { inflation = a.source.Indicator(gctx, code, upstream.IndicatorInflation) })
	err = g.Wait()
	span.End()
	if err != nil {
		return Record{}, fmt.Errorf("supplementary wave: %w", err)
	}

	canonical := normalizeCode(identity.CCA3)
	if canonical == "" {
		canonical = code
	}
	gdppc = series.Resolve(ctx, gdppc, func(ctx context.Context) series.TimeSeries {
		return a.source.Dataset(ctx, upstream.DatasetGDPPerCapita, canonical)
	})
	inflation = series.Resolve(ctx, inflation, func(ctx context.Context) series.TimeSeries {
		return a.source.Dataset(ctx, upstream.DatasetInflation, canonical)
	})

	identity = withDefaults(identity)
	gdpLatest := series.Latest(gdp)
	popLatest := series.Latest(pop)
	areaLatest := series.Latest(area)
	if areaLatest == nil {
		areaLatest = a.identityArea(identity)
	}

	return Record{
		Country:    identity,
		GDP:        newMetric(gdp),
		Population: newMetric(pop),
		Languages:  identity.Languages,
		GeoSocio: GeoSocio{
			AreaKm2:           areaLatest,
			PopulationDensity: series.Density(series.Latest(density), areaLatest, popLatest),
			GDPPerCapita: Metric{
				Latest: series.PerCapita(series.Latest(gdppc), gdpLatest, popLatest),
				Series: series.OrEmpty(gdppc),
			},
			GDPGrowth:   newMetric(growth),
			Inflation:   newMetric(inflation),
			Capital:     identity.Capital,
			LargestCity: identity.Capital,
		},
	}, nil
}

func (a *Aggregator) identityArea(identity Identity) *series.Point {
	if identity.Area == nil || *identity.Area <= 0 {
		return nil
	}
	return &series.Point{Year: a.clock.Now().Year(), Value: *identity.Area}
}

// minimal builds the degraded record. It is never cached.
func (a *Aggregator) minimal(ctx context.Context, code string) Record {
	identity := Identity{Name: code}
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Interface("panic", r).Str("code", code).Msg("Identity lookup panicked for minimal record.")
			}
		}()
		identity = a.source.Country(ctx, code)
	}()
	return minimalRecord(identity, a.clock.Now().Year())
}

func minimalRecord(identity Identity, year int) Record {
	identity = withDefaults(identity)
	var area *series.Point
	if identity.Area != nil && *identity.Area > 0 {
		area = &series.Point{Year: year, Value: *identity.Area}
	}
	return Record{
		Country:    identity,
		GDP:        newMetric(nil),
		Population: newMetric(nil),
		Languages:  identity.Languages,
		GeoSocio: GeoSocio{
			AreaKm2:      area,
			GDPPerCapita: newMetric(nil),
			GDPGrowth:    newMetric(nil),
			Inflation:    newMetric(nil),
			Capital:      identity.Capital,
			LargestCity:  identity.Capital,
		},
	}
}

func (a *Aggregator) fetchLargestCity(ctx context.Context, task EnrichTask) (string, error) {
	city := a.source.LargestCity(ctx, task.ISO)
	if city == "" {
		return "", enrichment.ErrSkip
	}
	return city, nil
}

// applyLargestCity stores a patched copy of the record under the same key.
func (a *Aggregator) applyLargestCity(ctx context.Context, task EnrichTask, city string) error {
	patched := task.Record
	patched.GeoSocio.LargestCity = city
	return cache.Save(ctx, a.cache, task.Key, patched, CombinedTTL)
}

// GetIndicatorSeries returns one indicator series for code. Kinds with an
// OWID alternate fall back to it when the World Bank series is empty.
func (a *Aggregator) GetIndicatorSeries(ctx context.Context, code string, kind IndicatorKind) series.TimeSeries {
	code = normalizeCode(code)
	indicator, ok := indicatorIDs[kind]
	if code == "" || !ok {
		return series.TimeSeries{}
	}

	ts := a.source.Indicator(ctx, code, indicator)
	if dataset, ok := alternateDatasets[kind]; ok {
		ts = series.Resolve(ctx, ts, func(ctx context.Context) series.TimeSeries {
			canonical := normalizeCode(a.source.Country(ctx, code).CCA3)
			if canonical == "" {
				canonical = code
			}
			return a.source.Dataset(ctx, dataset, canonical)
		})
	}
	return series.OrEmpty(ts)
}

// SearchCountries returns summaries for query; a blank query makes no call.
func (a *Aggregator) SearchCountries(ctx context.Context, query string) []Summary {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Summary{}
	}
	results := a.source.Search(ctx, query)
	if results == nil {
		return []Summary{}
	}
	return results
}
