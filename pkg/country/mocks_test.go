package country_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/illmade-knight/go-worldstats/pkg/series"
)

// mockSource is a test double for country.Source with per-method call counters.
type mockSource struct {
	identities  map[string]country.Identity
	indicators  map[string]series.TimeSeries // keyed by indicator
	datasets    map[string]series.TimeSeries // keyed by dataset + ":" + code
	cities      map[string]string
	regions     map[string][]string
	search      []country.Summary
	panicOn     string // indicator id that panics
	countryHits atomic.Int32
	indicatorN  atomic.Int32
	searchHits  atomic.Int32
	mu          sync.Mutex
	datasetHits map[string]int
	cityISOs    []string
	// hold blocks Indicator for the keyed id until the channel is closed.
	hold   map[string]chan struct{}
	events []string
}

func newMockSource() *mockSource {
	return &mockSource{
		identities:  map[string]country.Identity{},
		indicators:  map[string]series.TimeSeries{},
		datasets:    map[string]series.TimeSeries{},
		cities:      map[string]string{},
		regions:     map[string][]string{},
		datasetHits: map[string]int{},
	}
}

func (m *mockSource) totalCalls() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.countryHits.Load() + m.indicatorN.Load() + m.searchHits.Load()
	for _, hits := range m.datasetHits {
		n += int32(hits)
	}
	return n
}

func (m *mockSource) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockSource) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *mockSource) Country(_ context.Context, code string) country.Identity {
	m.countryHits.Add(1)
	m.record("start:identity")
	defer m.record("end:identity")
	if id, ok := m.identities[code]; ok {
		return id
	}
	return country.Identity{Name: code}
}

func (m *mockSource) Indicator(_ context.Context, _ string, indicator string) series.TimeSeries {
	m.indicatorN.Add(1)
	m.record("start:" + indicator)
	defer m.record("end:" + indicator)
	if gate, ok := m.hold[indicator]; ok {
		<-gate
	}
	if indicator == m.panicOn {
		panic("unexpected payload shape for " + indicator)
	}
	return m.indicators[indicator]
}

func (m *mockSource) Dataset(_ context.Context, dataset, code string) series.TimeSeries {
	key := dataset + ":" + code
	m.mu.Lock()
	m.datasetHits[key]++
	m.mu.Unlock()
	return m.datasets[key]
}

func (m *mockSource) datasetCalls(dataset, code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datasetHits[dataset+":"+code]
}

func (m *mockSource) LargestCity(_ context.Context, iso string) string {
	m.mu.Lock()
	m.cityISOs = append(m.cityISOs, iso)
	m.mu.Unlock()
	return m.cities[iso]
}

func (m *mockSource) Search(_ context.Context, _ string) []country.Summary {
	m.searchHits.Add(1)
	return m.search
}

func (m *mockSource) Region(_ context.Context, region string) []string {
	return m.regions[region]
}

// mockExporter records exported codes.
type mockExporter struct {
	mu    sync.Mutex
	codes []string
}

func (e *mockExporter) Export(_ context.Context, code string, _ country.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *mockExporter) exported() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.codes...)
}
