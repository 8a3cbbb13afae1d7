package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-worldstats/pkg/series"
)

const providerWorldBank = "worldbank"

// World Bank indicator ids.
const (
	IndicatorGDP          = "NY.GDP.MKTP.CD"
	IndicatorPopulation   = "SP.POP.TOTL"
	IndicatorArea         = "AG.LND.TOTL.K2"
	IndicatorDensity      = "EN.POP.DNST"
	IndicatorGDPPerCapita = "NY.GDP.PCAP.CD"
	IndicatorGDPGrowth    = "NY.GDP.MKTP.KD.ZG"
	IndicatorInflation    = "FP.CPI.TOTL.ZG"
)

type wbObservation struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// WorldBank fetches indicator series from the World Bank v2 API.
type WorldBank struct {
	client  *Client
	baseURL string
	perPage int
}

// NewWorldBank creates a client rooted at baseURL (e.g. https://api.worldbank.org/v2).
func NewWorldBank(client *Client, baseURL string) *WorldBank {
	return &WorldBank{client: client, baseURL: strings.TrimRight(baseURL, "/"), perPage: 60}
}

// Indicator returns the ascending series for one indicator. Null and
// unparseable observations are skipped.
func (w *WorldBank) Indicator(ctx context.Context, code, indicator string) (series.TimeSeries, error) {
	endpoint := fmt.Sprintf("%s/country/%s/indicator/%s?format=json&per_page=%d",
		w.baseURL, url.PathEscape(code), url.PathEscape(indicator), w.perPage)

	// The payload is a two element array: [pagination, observations].
	var envelope []json.RawMessage
	if err := w.client.getJSON(ctx, providerWorldBank, endpoint, "application/json", &envelope); err != nil {
		return nil, err
	}
	if len(envelope) < 2 {
		return nil, NewProviderError(CategoryBadData, providerWorldBank, "unexpected envelope for "+indicator, ErrEmptyPayload)
	}

	var observations []wbObservation
	if err := json.Unmarshal(envelope[1], &observations); err != nil {
		return nil, NewProviderError(CategoryBadData, providerWorldBank, "decode observations", err)
	}

	points := make([]series.Point, 0, len(observations))
	for _, o := range observations {
		if o.Value == nil {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(o.Date))
		if err != nil {
			continue
		}
		points = append(points, series.Point{Year: year, Value: *o.Value})
	}
	return series.Normalize(points), nil
}
