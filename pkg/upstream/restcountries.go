package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const providerRestCountries = "restcountries"

// Translation is one localized country name.
type Translation struct {
	Official string `json:"official,omitempty"`
	Common   string `json:"common,omitempty"`
}

// Identity is the per-fetch geography snapshot of a country. Any field may be
// empty when the provider omits it.
type Identity struct {
	Name         string                 `json:"name"`
	OfficialName string                 `json:"officialName"`
	Translations map[string]Translation `json:"translations"`
	CCA2         string                 `json:"cca2,omitempty"`
	CCA3         string                 `json:"cca3,omitempty"`
	Region       string                 `json:"region,omitempty"`
	Subregion    string                 `json:"subregion,omitempty"`
	Languages    map[string]string      `json:"languages"`
	FlagPNG      string                 `json:"flagPng,omitempty"`
	FlagSVG      string                 `json:"flagSvg,omitempty"`
	LatLng       []float64              `json:"latlng,omitempty"`
	Area         *float64               `json:"area,omitempty"`
	Capital      string                 `json:"capital,omitempty"`
}

// Resolved reports whether the provider actually identified the country.
func (i Identity) Resolved() bool {
	return i.CCA3 != ""
}

// Summary is one lightweight search hit.
type Summary struct {
	CCA2 string `json:"cca2"`
	CCA3 string `json:"cca3"`
	Name string `json:"name"`
	// VI is the Vietnamese common name.
	VI   string `json:"vi,omitempty"`
	Flag string `json:"flag,omitempty"`
}

type rcName struct {
	Common   string `json:"common"`
	Official string `json:"official"`
}

type rcFlags struct {
	PNG string `json:"png"`
	SVG string `json:"svg"`
}

type rcCountry struct {
	Name         rcName                 `json:"name"`
	Translations map[string]Translation `json:"translations"`
	CCA2         string                 `json:"cca2"`
	CCA3         string                 `json:"cca3"`
	Region       string                 `json:"region"`
	Subregion    string                 `json:"subregion"`
	Languages    map[string]string      `json:"languages"`
	Flags        rcFlags                `json:"flags"`
	LatLng       []float64              `json:"latlng"`
	Area         *float64               `json:"area"`
	Capital      []string               `json:"capital"`
}

// RestCountries is the identity and name-search provider.
type RestCountries struct {
	client  *Client
	baseURL string
}

// NewRestCountries creates a client rooted at baseURL (e.g. https://restcountries.com/v3.1).
func NewRestCountries(client *Client, baseURL string) *RestCountries {
	return &RestCountries{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Country fetches the identity for an alpha-2 or alpha-3 code.
func (r *RestCountries) Country(ctx context.Context, code string) (Identity, error) {
	var countries []rcCountry
	endpoint := fmt.Sprintf("%s/alpha/%s", r.baseURL, url.PathEscape(code))
	if err := r.client.getJSON(ctx, providerRestCountries, endpoint, "application/json", &countries); err != nil {
		return Identity{}, err
	}
	if len(countries) == 0 {
		return Identity{}, NewProviderError(CategoryNotFound, providerRestCountries, "no country for "+code, ErrEmptyPayload)
	}
	c := countries[0]

	id := Identity{
		Name:         c.Name.Common,
		OfficialName: c.Name.Official,
		Translations: c.Translations,
		CCA2:         c.CCA2,
		CCA3:         c.CCA3,
		Region:       c.Region,
		Subregion:    c.Subregion,
		Languages:    c.Languages,
		FlagPNG:      c.Flags.PNG,
		FlagSVG:      c.Flags.SVG,
		LatLng:       c.LatLng,
		Area:         c.Area,
	}
	if len(c.Capital) > 0 {
		id.Capital = c.Capital[0]
	}
	if id.Name == "" {
		id.Name = code
	}
	return id, nil
}

// Search returns countries whose name matches query, in provider order.
func (r *RestCountries) Search(ctx context.Context, query string) ([]Summary, error) {
	var countries []rcCountry
	endpoint := fmt.Sprintf("%s/name/%s?fields=name,cca2,cca3,flags,translations", r.baseURL, url.PathEscape(query))
	if err := r.client.getJSON(ctx, providerRestCountries, endpoint, "application/json", &countries); err != nil {
		return nil, err
	}

	results := make([]Summary, 0, len(countries))
	for _, c := range countries {
		s := Summary{
			CCA2: c.CCA2,
			CCA3: c.CCA3,
			Name: c.Name.Common,
			VI:   c.Translations["vie"].Common,
			Flag: c.Flags.PNG,
		}
		if s.Flag == "" {
			s.Flag = c.Flags.SVG
		}
		results = append(results, s)
	}
	return results, nil
}

// Region lists the alpha-3 codes of every country in region.
func (r *RestCountries) Region(ctx context.Context, region string) ([]string, error) {
	var countries []rcCountry
	endpoint := fmt.Sprintf("%s/region/%s?fields=cca3", r.baseURL, url.PathEscape(region))
	if err := r.client.getJSON(ctx, providerRestCountries, endpoint, "application/json", &countries); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		if c.CCA3 != "" {
			codes = append(codes, c.CCA3)
		}
	}
	return codes, nil
}
