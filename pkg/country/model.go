package country

import (
	"github.com/illmade-knight/go-worldstats/pkg/series"
	"github.com/illmade-knight/go-worldstats/pkg/upstream"
)

// Identity is the geography snapshot returned by the identity provider.
type Identity = upstream.Identity

// Summary is one search hit.
type Summary = upstream.Summary

// Metric pairs a series with its most recent point.
type Metric struct {
	Latest *series.Point     `json:"latest"`
	Series series.TimeSeries `json:"series"`
}

func newMetric(ts series.TimeSeries) Metric {
	return Metric{Latest: series.Latest(ts), Series: series.OrEmpty(ts)}
}

// GeoSocio groups the supplementary indicators of a country.
type GeoSocio struct {
	AreaKm2           *series.Point `json:"areaKm2"`
	PopulationDensity *series.Point `json:"populationDensity"`
	GDPPerCapita      Metric        `json:"gdpPerCapita"`
	GDPGrowth         Metric        `json:"gdpGrowth"`
	Inflation         Metric        `json:"inflation"`
	Capital           string        `json:"capital"`
	LargestCity       string        `json:"largestCity"`
}

// Record is the aggregate served for one country and cached as a whole.
type Record struct {
	Country    Identity          `json:"country"`
	GDP        Metric            `json:"gdp"`
	Population Metric            `json:"population"`
	Languages  map[string]string `json:"languages"`
	GeoSocio   GeoSocio          `json:"geoSocio"`
}

// IndicatorKind names a metric that can be requested as a plain series.
type IndicatorKind string

const (
	KindGDP          IndicatorKind = "gdp"
	KindPopulation   IndicatorKind = "population"
	KindArea         IndicatorKind = "area"
	KindDensity      IndicatorKind = "density"
	KindGDPPerCapita IndicatorKind = "gdpPerCapita"
	KindGDPGrowth    IndicatorKind = "gdpGrowth"
	KindInflation    IndicatorKind = "inflation"
)

var indicatorIDs = map[IndicatorKind]string{
	KindGDP:          upstream.IndicatorGDP,
	KindPopulation:   upstream.IndicatorPopulation,
	KindArea:         upstream.IndicatorArea,
	KindDensity:      upstream.IndicatorDensity,
	KindGDPPerCapita: upstream.IndicatorGDPPerCapita,
	KindGDPGrowth:    upstream.IndicatorGDPGrowth,
	KindInflation:    upstream.IndicatorInflation,
}

// alternateDatasets lists the kinds that fall back to an OWID dataset.
var alternateDatasets = map[IndicatorKind]string{
	KindGDPPerCapita: upstream.DatasetGDPPerCapita,
	KindInflation:    upstream.DatasetInflation,
}

// ParseIndicatorKind accepts the kind names used in URLs.
func ParseIndicatorKind(s string) (IndicatorKind, bool) {
	kind := IndicatorKind(s)
	_, ok := indicatorIDs[kind]
	return kind, ok
}

// withDefaults fills the maps the front end expects to always be objects.
func withDefaults(id Identity) Identity {
	if id.Translations == nil {
		id.Translations = map[string]upstream.Translation{}
	}
	if id.Languages == nil {
		id.Languages = map[string]string{}
	}
	return id
}
