package country_test

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/illmade-knight/go-worldstats/pkg/series"
	"github.com/illmade-knight/go-worldstats/pkg/upstream"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vietnamSource() *mockSource {
	area := 331212.0
	vietnam := country.Identity{
		Name:      "Vietnam",
		CCA2:      "VN",
		CCA3:      "VNM",
		Region:    "Asia",
		Capital:   "Hanoi",
		Area:      &area,
		Languages: map[string]string{"vie": "Vietnamese"},
	}

	src := newMockSource()
	src.identities["VNM"] = vietnam
	src.identities["VN"] = vietnam
	src.indicators[upstream.IndicatorGDP] = series.TimeSeries{{Year: 2020, Value: 3.4e11}, {Year: 2021, Value: 3.6e11}}
	src.indicators[upstream.IndicatorPopulation] = series.TimeSeries{{Year: 2020, Value: 97e6}, {Year: 2021, Value: 98e6}}
	src.indicators[upstream.IndicatorGDPGrowth] = series.TimeSeries{{Year: 2021, Value: 2.6}}
	src.indicators[upstream.IndicatorInflation] = series.TimeSeries{{Year: 2021, Value: 1.8}}
	src.datasets[upstream.DatasetGDPPerCapita+":VNM"] = series.TimeSeries{{Year: 2021, Value: 3700}}
	return src
}

type harness struct {
	aggregator *country.Aggregator
	store      *cache.Store
	clock      *clockwork.FakeClock
}

func newHarness(t *testing.T, src country.Source, opts ...country.Option) harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewStore(cache.NewMemoryCache(cache.MemoryConfig{}, clock), zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]country.Option{country.WithClock(clock)}, opts...)
	agg, err := country.NewAggregator(src, store, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return harness{aggregator: agg, store: store, clock: clock}
}

func TestGetCountryCombined_AssemblesRecord(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	h := newHarness(t, src)

	// Act
	record := h.aggregator.GetCountryCombined(ctx, " vn ")

	// Assert
	assert.Equal(t, "Vietnam", record.Country.Name)
	assert.Equal(t, map[string]string{"vie": "Vietnamese"}, record.Languages)
	require.NotNil(t, record.GDP.Latest)
	assert.Equal(t, series.Point{Year: 2021, Value: 3.6e11}, *record.GDP.Latest)
	assert.Len(t, record.Population.Series, 2)

	geo := record.GeoSocio
	require.NotNil(t, geo.AreaKm2, "area falls back to the identity area")
	assert.Equal(t, series.Point{Year: 2025, Value: 331212}, *geo.AreaKm2)
	require.NotNil(t, geo.PopulationDensity, "density is back-filled from population and area")
	assert.Equal(t, 2021, geo.PopulationDensity.Year)
	assert.InDelta(t, 98e6/331212, geo.PopulationDensity.Value, 1e-9)

	require.NotNil(t, geo.GDPPerCapita.Latest)
	assert.Equal(t, series.Point{Year: 2021, Value: 3700}, *geo.GDPPerCapita.Latest, "OWID alternate keyed by the canonical code")
	assert.Equal(t, 1, src.datasetCalls(upstream.DatasetGDPPerCapita, "VNM"))
	assert.Equal(t, 0, src.datasetCalls(upstream.DatasetInflation, "VNM"), "non-empty primary never invokes the alternate")
	assert.Equal(t, series.Point{Year: 2021, Value: 1.8}, *geo.Inflation.Latest)

	assert.Equal(t, "Hanoi", geo.Capital)
	assert.Equal(t, "Hanoi", geo.LargestCity, "largest city starts as the capital")
}

func TestGetCountryCombined_SupplementaryWaveWaitsForHeadlineWave(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	gdpGate := make(chan struct{})
	src.hold = map[string]chan struct{}{upstream.IndicatorGDP: gdpGate}
	h := newHarness(t, src)

	supplementary := []string{
		upstream.IndicatorArea,
		upstream.IndicatorDensity,
		upstream.IndicatorGDPPerCapita,
		upstream.IndicatorGDPGrowth,
		upstream.IndicatorInflation,
	}
	supplementaryStarted := func() bool {
		for _, event := range src.eventLog() {
			for _, id := range supplementary {
				if event == "start:"+id {
					return true
				}
			}
		}
		return false
	}

	// Act: GDP is held while identity and population complete.
	result := make(chan country.Record, 1)
	go func() { result <- h.aggregator.GetCountryCombined(ctx, "VNM") }()

	require.Eventually(t, func() bool {
		events := src.eventLog()
		return slices.Contains(events, "end:identity") &&
			slices.Contains(events, "end:"+upstream.IndicatorPopulation) &&
			slices.Contains(events, "start:"+upstream.IndicatorGDP)
	}, time.Second, 5*time.Millisecond)

	// Assert: nothing from the second wave starts while GDP is outstanding.
	assert.Never(t, supplementaryStarted, 100*time.Millisecond, 10*time.Millisecond)

	close(gdpGate)
	var record country.Record
	select {
	case record = <-result:
	case <-time.After(time.Second):
		t.Fatal("aggregation did not finish after GDP was released")
	}

	events := src.eventLog()
	gdpEnd := slices.Index(events, "end:"+upstream.IndicatorGDP)
	require.NotEqual(t, -1, gdpEnd)
	for i, event := range events {
		if !strings.HasPrefix(event, "start:") {
			continue
		}
		id := strings.TrimPrefix(event, "start:")
		if slices.Contains(supplementary, id) {
			assert.Greater(t, i, gdpEnd, "%s started before the headline wave settled", id)
		}
	}
	require.NotNil(t, record.GDP.Latest, "headline results are read only after the wave settles")
	assert.Equal(t, series.Point{Year: 2021, Value: 3.6e11}, *record.GDP.Latest)
}

func TestGetCountryCombined_IsIdempotentWithinCacheLifetime(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	h := newHarness(t, src)

	first := h.aggregator.GetCountryCombined(ctx, "VNM")
	callsAfterFirst := src.totalCalls()
	second := h.aggregator.GetCountryCombined(ctx, "VNM")

	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, src.totalCalls(), "second call is served from the composite key")

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))

	// The composite entry lives for one hour.
	h.clock.Advance(country.CombinedTTL)
	_ = h.aggregator.GetCountryCombined(ctx, "VNM")
	assert.Greater(t, src.totalCalls(), callsAfterFirst)
}

func TestGetCountryCombined_PerCapitaDerivedWhenNoSeries(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	delete(src.datasets, upstream.DatasetGDPPerCapita+":VNM")
	h := newHarness(t, src)

	record := h.aggregator.GetCountryCombined(ctx, "VNM")

	gdppc := record.GeoSocio.GDPPerCapita
	assert.Empty(t, gdppc.Series)
	require.NotNil(t, gdppc.Latest)
	assert.Equal(t, 2021, gdppc.Latest.Year)
	assert.InDelta(t, 3.6e11/98e6, gdppc.Latest.Value, 1e-9)
}

func TestGetCountryCombined_BlankCode(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	h := newHarness(t, src)

	record := h.aggregator.GetCountryCombined(ctx, "   ")

	assert.Equal(t, int32(0), src.totalCalls(), "no upstream calls for a blank code")
	assert.Empty(t, record.GDP.Series)
	assert.NotNil(t, record.GDP.Series)
	_, ok := h.store.Get(ctx, country.CombinedKey(""))
	assert.False(t, ok, "nothing cached for a blank code")

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"series":[]`)
}

func TestGetCountryCombined_UnexpectedFailureYieldsMinimalRecord(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	src.panicOn = upstream.IndicatorArea
	h := newHarness(t, src)

	// Act
	record := h.aggregator.GetCountryCombined(ctx, "VNM")

	// Assert
	assert.Equal(t, "Vietnam", record.Country.Name)
	assert.Nil(t, record.GDP.Latest, "minimal records carry no metrics")
	assert.Empty(t, record.GDP.Series)
	assert.Empty(t, record.Population.Series)
	assert.Nil(t, record.GeoSocio.PopulationDensity)
	require.NotNil(t, record.GeoSocio.AreaKm2)
	assert.Equal(t, series.Point{Year: 2025, Value: 331212}, *record.GeoSocio.AreaKm2)
	assert.Equal(t, "Hanoi", record.GeoSocio.LargestCity)

	_, ok := h.store.Get(ctx, country.CombinedKey("VNM"))
	assert.False(t, ok, "minimal records are not cached")
}

func TestGetCountryCombined_EnrichesLargestCity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	src := vietnamSource()
	src.cities["VN"] = "Ho Chi Minh City"
	h := newHarness(t, src)
	h.aggregator.Start(ctx)
	t.Cleanup(func() { _ = h.aggregator.Stop(context.Background()) })

	// Act
	record := h.aggregator.GetCountryCombined(ctx, "VNM")

	// Assert: the caller gets the capital, the cache converges on the city.
	assert.Equal(t, "Hanoi", record.GeoSocio.LargestCity)
	require.Eventually(t, func() bool {
		cached, ok := cache.Load[country.Record](ctx, h.store, country.CombinedKey("VNM"))
		return ok && cached.GeoSocio.LargestCity == "Ho Chi Minh City"
	}, time.Second, 10*time.Millisecond)

	cached, _ := cache.Load[country.Record](ctx, h.store, country.CombinedKey("VNM"))
	assert.Equal(t, "Hanoi", cached.GeoSocio.Capital)
	assert.Equal(t, record.GDP, cached.GDP, "only the largest city is patched")
}

func TestGetCountryCombined_EnrichmentMissLeavesCapital(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	h := newHarness(t, src)
	h.aggregator.Start(ctx)

	_ = h.aggregator.GetCountryCombined(ctx, "VNM")
	require.NoError(t, h.aggregator.Stop(context.Background()))

	cached, ok := cache.Load[country.Record](ctx, h.store, country.CombinedKey("VNM"))
	require.True(t, ok)
	assert.Equal(t, "Hanoi", cached.GeoSocio.LargestCity)
}

func TestGetCountryCombined_Exports(t *testing.T) {
	ctx := context.Background()
	exporter := &mockExporter{}
	h := newHarness(t, vietnamSource(), country.WithExporter(exporter))

	_ = h.aggregator.GetCountryCombined(ctx, "VNM")
	_ = h.aggregator.GetCountryCombined(ctx, "VNM")

	assert.Equal(t, []string{"VNM"}, exporter.exported(), "cache hits are not re-exported")
}

func TestGetIndicatorSeries(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	h := newHarness(t, src)

	gdp := h.aggregator.GetIndicatorSeries(ctx, "vnm", country.KindGDP)
	assert.Equal(t, src.indicators[upstream.IndicatorGDP], gdp)

	gdppc := h.aggregator.GetIndicatorSeries(ctx, "VN", country.KindGDPPerCapita)
	assert.Equal(t, series.TimeSeries{{Year: 2021, Value: 3700}}, gdppc)

	area := h.aggregator.GetIndicatorSeries(ctx, "VNM", country.KindArea)
	assert.NotNil(t, area)
	assert.Empty(t, area)

	unknown := h.aggregator.GetIndicatorSeries(ctx, "VNM", country.IndicatorKind("bogus"))
	assert.Empty(t, unknown)
}

func TestParseIndicatorKind(t *testing.T) {
	kind, ok := country.ParseIndicatorKind("gdpPerCapita")
	assert.True(t, ok)
	assert.Equal(t, country.KindGDPPerCapita, kind)

	_, ok = country.ParseIndicatorKind("GDP")
	assert.False(t, ok)
}

func TestSearchCountries(t *testing.T) {
	ctx := context.Background()
	src := vietnamSource()
	src.search = []country.Summary{{CCA2: "VN", CCA3: "VNM", Name: "Vietnam"}}
	h := newHarness(t, src)

	blank := h.aggregator.SearchCountries(ctx, "  ")
	assert.NotNil(t, blank)
	assert.Empty(t, blank)
	assert.Equal(t, int32(0), src.searchHits.Load(), "blank query makes no upstream call")

	results := h.aggregator.SearchCountries(ctx, "viet")
	assert.Equal(t, src.search, results)
	assert.Equal(t, int32(1), src.searchHits.Load())
}
