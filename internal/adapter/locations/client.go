// Package locations loads the forecast-hub location reference table, the
// mapping between FIPS-like codes, postal abbreviations, and display names.
// It is fetched once per run and treated as immutable afterwards.
package locations

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// DefaultURL points at the forecast hub's locations.csv.
const DefaultURL = "https://raw.githubusercontent.com/cdcepi/Flusight-forecast-data/master/data-locations/locations.csv"

// Expected header names in the reference CSV.
const (
	colAbbreviation = "abbreviation"
	colLocation     = "location"
	colLocationName = "location_name"
)

// Client fetches and parses the reference table.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a reference-table client.
func NewClient(rawURL string, timeout time.Duration) *Client {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	return &Client{
		url:        rawURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the reference CSV and indexes it.
func (c *Client) Fetch(ctx context.Context) (*domain.LocationSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: locations request: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: locations status %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, body)
	}

	set, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return set, nil
}

// Parse reads a locations CSV into a LocationSet. Exported separately so
// the mock generator and tests can build reference tables from fixtures.
func Parse(r io.Reader) (*domain.LocationSet, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse locations CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("locations CSV has no data rows")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		idx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colAbbreviation, colLocation, colLocationName} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("locations CSV missing column %q", required)
		}
	}

	locs := make([]domain.Location, 0, len(rows)-1)
	for _, row := range rows[1:] {
		loc := domain.Location{
			Code:         strings.TrimSpace(row[idx[colLocation]]),
			Abbreviation: strings.TrimSpace(row[idx[colAbbreviation]]),
			Name:         strings.TrimSpace(row[idx[colLocationName]]),
		}
		if loc.Code == "" {
			continue
		}
		locs = append(locs, loc)
	}
	return domain.NewLocationSet(locs), nil
}
