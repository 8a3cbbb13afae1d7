package upstream

import (
	"context"
	"strings"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/illmade-knight/go-worldstats/pkg/series"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// Cache lifetimes per provider result.
const (
	IdentityTTL    = 24 * time.Hour
	IndicatorTTL   = 12 * time.Hour
	DatasetTTL     = 24 * time.Hour
	LargestCityTTL = 7 * 24 * time.Hour
	SearchTTL      = 30 * time.Minute
	RegionTTL      = 24 * time.Hour
)

// Endpoints are the provider base URLs. Tests point them at httptest servers.
type Endpoints struct {
	RestCountries string
	WorldBank     string
	OWID          string
	Wikidata      string
}

// Fetchers reads every provider through the cache. Provider failures are
// logged and surface as empty values; only non-empty results are cached.
type Fetchers struct {
	restCountries *RestCountries
	worldBank     *WorldBank
	owid          *OWID
	wikidata      *Wikidata
	cache         cache.Cache
	logger        zerolog.Logger
}

// NewFetchers wires the provider clients to the cache.
func NewFetchers(client *Client, endpoints Endpoints, store cache.Cache, logger zerolog.Logger) *Fetchers {
	return &Fetchers{
		restCountries: NewRestCountries(client, endpoints.RestCountries),
		worldBank:     NewWorldBank(client, endpoints.WorldBank),
		owid:          NewOWID(client, endpoints.OWID),
		wikidata:      NewWikidata(client, endpoints.Wikidata),
		cache:         store,
		logger:        logger.With().Str("component", "Fetchers").Logger(),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// fold lower-cases a free-text key. A Caser is stateful, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func (f *Fetchers) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := cache.Save(ctx, f.cache, key, value, ttl); err != nil {
		f.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache provider result.")
	}
}

func (f *Fetchers) swallow(err error, key string) {
	f.logger.Warn().
		Err(err).
		Str("key", key).
		Str("category", string(CategoryOf(err))).
		Msg("Provider call failed, continuing with an empty value.")
}

// Country returns the identity for code. When the provider cannot resolve it
// the result carries only the input code as its name.
func (f *Fetchers) Country(ctx context.Context, code string) Identity {
	code = normalizeCode(code)
	if code == "" {
		return Identity{}
	}
	key := "rc:" + code
	if id, ok := cache.Load[Identity](ctx, f.cache, key); ok {
		return id
	}

	id, err := f.restCountries.Country(ctx, code)
	if err != nil {
		f.swallow(err, key)
		return Identity{Name: code}
	}
	if id.Resolved() {
		f.store(ctx, key, id, IdentityTTL)
	}
	return id
}

// Indicator returns the World Bank series for indicator.
func (f *Fetchers) Indicator(ctx context.Context, code, indicator string) series.TimeSeries {
	code = normalizeCode(code)
	if code == "" {
		return series.TimeSeries{}
	}
	key := "wb:" + indicator + ":" + code
	if ts, ok := cache.Load[series.TimeSeries](ctx, f.cache, key); ok {
		return ts
	}

	ts, err := f.worldBank.Indicator(ctx, code, indicator)
	if err != nil {
		f.swallow(err, key)
		return series.TimeSeries{}
	}
	if len(ts) > 0 {
		f.store(ctx, key, ts, IndicatorTTL)
	}
	return series.OrEmpty(ts)
}

// Dataset returns the OWID series for an alpha-3 code.
func (f *Fetchers) Dataset(ctx context.Context, dataset, code string) series.TimeSeries {
	code = normalizeCode(code)
	if code == "" {
		return series.TimeSeries{}
	}
	key := "owid:" + dataset + ":" + code
	if ts, ok := cache.Load[series.TimeSeries](ctx, f.cache, key); ok {
		return ts
	}

	ts, err := f.owid.Dataset(ctx, dataset, code)
	if err != nil {
		f.swallow(err, key)
		return series.TimeSeries{}
	}
	if len(ts) > 0 {
		f.store(ctx, key, ts, DatasetTTL)
	}
	return series.OrEmpty(ts)
}

// LargestCity returns the most populous city for an ISO code, or "".
func (f *Fetchers) LargestCity(ctx context.Context, iso string) string {
	iso = normalizeCode(iso)
	if iso == "" {
		return ""
	}
	key := "wikidata:largest:" + iso
	if city, ok := cache.Load[string](ctx, f.cache, key); ok {
		return city
	}

	city, err := f.wikidata.LargestCity(ctx, iso)
	if err != nil {
		f.swallow(err, key)
		return ""
	}
	f.store(ctx, key, city, LargestCityTTL)
	return city
}

// Search returns summaries for a free-text query. A blank query makes no call.
func (f *Fetchers) Search(ctx context.Context, query string) []Summary {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Summary{}
	}
	key := "search:" + fold(query)
	if results, ok := cache.Load[[]Summary](ctx, f.cache, key); ok {
		return results
	}

	results, err := f.restCountries.Search(ctx, query)
	if err != nil {
		f.swallow(err, key)
		return []Summary{}
	}
	if len(results) > 0 {
		f.store(ctx, key, results, SearchTTL)
	}
	return results
}

// Region lists the alpha-3 codes in region.
func (f *Fetchers) Region(ctx context.Context, region string) []string {
	region = strings.TrimSpace(region)
	if region == "" {
		return []string{}
	}
	key := "region:" + fold(region)
	if codes, ok := cache.Load[[]string](ctx, f.cache, key); ok {
		return codes
	}

	codes, err := f.restCountries.Region(ctx, region)
	if err != nil {
		f.swallow(err, key)
		return []string{}
	}
	if len(codes) > 0 {
		f.store(ctx, key, codes, RegionTTL)
	}
	return codes
}
