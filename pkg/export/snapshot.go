// Package export ships snapshots of freshly assembled country records to
// analytical sinks (BigQuery rows and Pub/Sub events) in batches.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/illmade-knight/go-worldstats/pkg/series"
)

// Snapshot is the flattened, exportable view of one country record.
type Snapshot struct {
	ID           string               `json:"id" bigquery:"id"`
	Code         string               `json:"code" bigquery:"code"`
	CCA3         string               `json:"cca3" bigquery:"cca3"`
	Name         string               `json:"name" bigquery:"name"`
	Region       string               `json:"region" bigquery:"region"`
	Capital      string               `json:"capital" bigquery:"capital"`
	CapturedAt   time.Time            `json:"capturedAt" bigquery:"captured_at"`
	GDP          bigquery.NullFloat64 `json:"gdp" bigquery:"gdp_usd"`
	GDPYear      bigquery.NullInt64   `json:"gdpYear" bigquery:"gdp_year"`
	Population   bigquery.NullFloat64 `json:"population" bigquery:"population"`
	AreaKm2      bigquery.NullFloat64 `json:"areaKm2" bigquery:"area_km2"`
	Density      bigquery.NullFloat64 `json:"populationDensity" bigquery:"population_density"`
	GDPPerCapita bigquery.NullFloat64 `json:"gdpPerCapita" bigquery:"gdp_per_capita"`
	GDPGrowth    bigquery.NullFloat64 `json:"gdpGrowth" bigquery:"gdp_growth"`
	Inflation    bigquery.NullFloat64 `json:"inflation" bigquery:"inflation"`
	Record       string               `json:"record" bigquery:"record_json"`
}

func nullValue(p *series.Point) bigquery.NullFloat64 {
	if p == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: p.Value, Valid: true}
}

// NewSnapshot flattens record captured at now.
func NewSnapshot(code string, record country.Record, now time.Time) (*Snapshot, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", code, err)
	}

	s := &Snapshot{
		ID:           uuid.NewString(),
		Code:         code,
		CCA3:         record.Country.CCA3,
		Name:         record.Country.Name,
		Region:       record.Country.Region,
		Capital:      record.GeoSocio.Capital,
		CapturedAt:   now.UTC(),
		GDP:          nullValue(record.GDP.Latest),
		Population:   nullValue(record.Population.Latest),
		AreaKm2:      nullValue(record.GeoSocio.AreaKm2),
		Density:      nullValue(record.GeoSocio.PopulationDensity),
		GDPPerCapita: nullValue(record.GeoSocio.GDPPerCapita.Latest),
		GDPGrowth:    nullValue(record.GeoSocio.GDPGrowth.Latest),
		Inflation:    nullValue(record.GeoSocio.Inflation.Latest),
		Record:       string(raw),
	}
	if record.GDP.Latest != nil {
		s.GDPYear = bigquery.NullInt64{Int64: int64(record.GDP.Latest.Year), Valid: true}
	}
	return s, nil
}
