// Package healthdata fetches the HHS reported-patient-impact CSV from
// healthdata.gov. The file only ever reflects the current revision of the
// data, so this backend cannot answer historical as-of requests.
package healthdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// DefaultURL is the full-history state-timeseries CSV export.
const DefaultURL = "https://healthdata.gov/api/views/g62h-syeh/rows.csv?accessType=DOWNLOAD"

// Columns of interest in the export. The admission columns report the
// previous day's count, so observations are dated report date minus one.
const (
	colState = "state"
	colDate  = "date"

	colFluConfirmed   = "previous_day_admission_influenza_confirmed"
	colCOVIDAdult     = "previous_day_admission_adult_covid_confirmed"
	colCOVIDPediatric = "previous_day_admission_pediatric_covid_confirmed"
)

// Client implements domain.ObservationSource against the healthdata.gov CSV.
type Client struct {
	url        string
	httpClient *http.Client
	locations  *domain.LocationSet
	logger     *slog.Logger
}

// NewClient creates a healthdata.gov CSV client.
func NewClient(rawURL string, timeout time.Duration, locations *domain.LocationSet, logger *slog.Logger) *Client {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	return &Client{
		url:        rawURL,
		httpClient: &http.Client{Timeout: timeout},
		locations:  locations,
		logger:     logger,
	}
}

func (c *Client) Name() string { return "healthdata" }

// SupportsVintages is false: the export carries no historical revisions.
func (c *Client) SupportsVintages() bool { return false }

// Fetch downloads and normalizes the CSV. The asOf parameter is ignored
// here; the generator guarantees it is either zero or today before calling
// a vintage-less source.
func (c *Client) Fetch(ctx context.Context, pathogen domain.Pathogen, _ time.Time) ([]domain.ObservationRecord, error) {
	if !pathogen.Valid() {
		return nil, fmt.Errorf("%w: pathogen %q", domain.ErrInvalidArgument, pathogen)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: healthdata request: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: healthdata status %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, body)
	}

	recs, err := c.parse(resp.Body, pathogen)
	if err != nil {
		return nil, fmt.Errorf("%w: parse healthdata CSV: %w", domain.ErrUpstreamUnavailable, err)
	}
	return recs, nil
}

// parse streams CSV rows into normalized records. Columns are located by
// header name, not position; the export reorders columns between revisions.
func (c *Client) parse(r io.Reader, pathogen domain.Pathogen) ([]domain.ObservationRecord, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colState, colDate} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var recs []domain.ObservationRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		loc, ok := c.locations.Resolve(field(row, idx, colState))
		if !ok {
			continue
		}

		reported, err := parseDate(field(row, idx, colDate))
		if err != nil {
			c.logger.Warn("skipping row with bad date", "date", field(row, idx, colDate))
			continue
		}

		recs = append(recs, domain.ObservationRecord{
			Location: loc.Code,
			// Admission columns report the previous day's count.
			Date:  reported.AddDate(0, 0, -1),
			Value: admissionValue(row, idx, pathogen),
		})
	}
	return recs, nil
}

// admissionValue picks the pathogen's admission cells. COVID counts are
// split into adult and pediatric columns; the sum is taken over whichever
// cells are present, and nil is returned only when all are absent.
func admissionValue(row []string, idx map[string]int, pathogen domain.Pathogen) *float64 {
	var cols []string
	switch pathogen {
	case domain.PathogenInfluenza:
		cols = []string{colFluConfirmed}
	case domain.PathogenCOVID:
		cols = []string{colCOVIDAdult, colCOVIDPediatric}
	}

	var sum float64
	present := false
	for _, col := range cols {
		cell := field(row, idx, col)
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue
		}
		sum += v
		present = true
	}
	if !present {
		return nil
	}
	return &sum
}

func field(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseDate accepts both date layouts the export has used over time.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if d, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
