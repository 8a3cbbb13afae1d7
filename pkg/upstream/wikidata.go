package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const providerWikidata = "wikidata"

// largestCityQuery selects the most populous city of the country whose ISO
// 3166 alpha-2 or alpha-3 code is substituted for %s.
const largestCityQuery = `SELECT ?cityLabel WHERE {
  ?country wdt:P31 wd:Q6256 .
  VALUES ?code { "%s" }
  { ?country wdt:P297 ?code } UNION { ?country wdt:P298 ?code } .
  ?city wdt:P31/wdt:P279* wd:Q515 ; wdt:P17 ?country .
  OPTIONAL { ?city wdt:P1082 ?pop }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
} ORDER BY DESC(?pop) LIMIT 1`

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// Wikidata answers the largest-city lookup through the public SPARQL endpoint.
type Wikidata struct {
	client   *Client
	endpoint string
}

// NewWikidata creates a client for the SPARQL endpoint (e.g. https://query.wikidata.org/sparql).
func NewWikidata(client *Client, endpoint string) *Wikidata {
	return &Wikidata{client: client, endpoint: endpoint}
}

// LargestCity returns the label of the most populous city for an ISO code.
func (w *Wikidata) LargestCity(ctx context.Context, iso string) (string, error) {
	iso = strings.ToUpper(strings.TrimSpace(iso))
	if iso == "" || strings.ContainsAny(iso, "\"\\{}") {
		return "", NewProviderError(CategoryInternal, providerWikidata, fmt.Sprintf("invalid iso code %q", iso), nil)
	}

	params := url.Values{}
	params.Set("query", fmt.Sprintf(largestCityQuery, iso))
	var resp sparqlResponse
	if err := w.client.getJSON(ctx, providerWikidata, w.endpoint+"?"+params.Encode(), "application/sparql-results+json", &resp); err != nil {
		return "", err
	}
	if len(resp.Results.Bindings) == 0 {
		return "", NewProviderError(CategoryNotFound, providerWikidata, "no city for "+iso, ErrEmptyPayload)
	}
	city := strings.TrimSpace(resp.Results.Bindings[0]["cityLabel"].Value)
	if city == "" {
		return "", NewProviderError(CategoryBadData, providerWikidata, "binding without cityLabel", ErrEmptyPayload)
	}
	return city, nil
}
