// Package series holds the yearly time series shared by every provider, the
// fallback resolver that picks between a primary and an alternate source, and
// the calculator that back-fills derived latest values.
package series

import (
	"encoding/json"
	"math"
	"sort"
)

// Point is one yearly observation.
type Point struct {
	Year  int     `json:"year"`
	Value float64 `json:"value"`
}

// TimeSeries is sorted ascending by year with no repeated years.
type TimeSeries []Point

// MarshalJSON encodes an empty or nil series as [] rather than null.
func (ts TimeSeries) MarshalJSON() ([]byte, error) {
	if len(ts) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]Point(ts))
}

// Normalize returns a copy of points sorted ascending by year, without
// non-finite values and keeping the first point seen for each year.
func Normalize(points []Point) TimeSeries {
	out := make(TimeSeries, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Year < out[j].Year })

	deduped := out[:0]
	for i, p := range out {
		if i > 0 && p.Year == deduped[len(deduped)-1].Year {
			continue
		}
		deduped = append(deduped, p)
	}
	return deduped
}

// Latest returns the last point of ts, or nil when ts is empty.
func Latest(ts TimeSeries) *Point {
	if len(ts) == 0 {
		return nil
	}
	p := ts[len(ts)-1]
	return &p
}

// OrEmpty returns ts, or an empty non-nil series when ts is nil.
func OrEmpty(ts TimeSeries) TimeSeries {
	if ts == nil {
		return TimeSeries{}
	}
	return ts
}
