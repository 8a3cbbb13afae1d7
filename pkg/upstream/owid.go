package upstream

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-worldstats/pkg/series"
)

const providerOWID = "owid"

// Our World in Data grapher datasets used as alternates.
const (
	DatasetGDPPerCapita = "gdp-per-capita-worldbank"
	DatasetInflation    = "inflation_annual"
)

// OWID fetches grapher CSV datasets from Our World in Data.
type OWID struct {
	client  *Client
	baseURL string
}

// NewOWID creates a client rooted at baseURL (e.g. https://ourworldindata.org/grapher).
func NewOWID(client *Client, baseURL string) *OWID {
	return &OWID{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dataset downloads dataset and returns the rows for the alpha-3 code.
func (o *OWID) Dataset(ctx context.Context, dataset, code string) (series.TimeSeries, error) {
	endpoint := fmt.Sprintf("%s/%s.csv", o.baseURL, url.PathEscape(dataset))
	body, err := o.client.get(ctx, providerOWID, endpoint, "text/csv")
	if err != nil {
		return nil, err
	}
	ts, err := ParseGrapherCSV(bytes.NewReader(body), code)
	if err != nil {
		return nil, NewProviderError(CategoryBadData, providerOWID, "parse "+dataset, err)
	}
	return ts, nil
}

type grapherColumns struct {
	code, year, value int
}

func locateColumns(header []string) (grapherColumns, error) {
	cols := grapherColumns{code: -1, year: -1, value: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.code < 0 && strings.Contains(name, "code"):
			cols.code = i
		case cols.year < 0 && strings.Contains(name, "year"):
			cols.year = i
		case cols.value < 0 && strings.Contains(name, "value"):
			cols.value = i
		}
	}
	if cols.value < 0 {
		for i := len(header) - 1; i >= 0; i-- {
			if i == cols.code || i == cols.year || strings.EqualFold(strings.TrimSpace(header[i]), "entity") {
				continue
			}
			cols.value = i
			break
		}
	}
	if cols.code < 0 || cols.year < 0 || cols.value < 0 {
		return cols, fmt.Errorf("grapher header %q lacks code, year or value columns", header)
	}
	return cols, nil
}

// ParseGrapherCSV extracts the ascending series for code from a grapher CSV.
// Rows for other codes and rows with a non-numeric year or value are skipped.
func ParseGrapherCSV(r io.Reader, code string) (series.TimeSeries, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return series.TimeSeries{}, nil
		}
		return nil, fmt.Errorf("read grapher header: %w", err)
	}
	cols, err := locateColumns(append([]string(nil), header...))
	if err != nil {
		return nil, err
	}

	var points []series.Point
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed line only loses that row.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("read grapher row: %w", err)
		}
		if cols.code >= len(row) || cols.year >= len(row) || cols.value >= len(row) {
			continue
		}
		if row[cols.code] != code {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(row[cols.year]))
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[cols.value]), 64)
		if err != nil {
			continue
		}
		points = append(points, series.Point{Year: year, Value: value})
	}
	return series.Normalize(points), nil
}
