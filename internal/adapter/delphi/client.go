// Package delphi fetches admission counts from the Delphi Epidata
// covidcast endpoint. It is the vintage-aware backend: an as-of date
// replays the series exactly as it looked on that day.
package delphi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// DefaultBaseURL is the public Epidata API endpoint.
const DefaultBaseURL = "https://api.delphi.cmu.edu/epidata"

// compactDate is the YYYYMMDD layout Epidata uses for time_values and as_of.
const compactDate = "20060102"

// Client implements domain.ObservationSource against the covidcast API.
type Client struct {
	baseURL    string
	apiKey     string
	start      time.Time
	httpClient *http.Client
	locations  *domain.LocationSet
	logger     *slog.Logger
}

// NewClient creates a covidcast client fetching records from start onward.
// apiKey may be empty; Delphi rate-limits anonymous callers harder but
// serves them.
func NewClient(baseURL, apiKey string, start time.Time, timeout time.Duration, locations *domain.LocationSet, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		start:      start,
		httpClient: &http.Client{Timeout: timeout},
		locations:  locations,
		logger:     logger,
	}
}

func (c *Client) Name() string { return "covidcast" }

// SupportsVintages is true: covidcast keeps every historical revision.
func (c *Client) SupportsVintages() bool { return true }

// Fetch retrieves daily state-level admissions as of the given vintage.
// A zero asOf fetches the latest revision.
func (c *Client) Fetch(ctx context.Context, pathogen domain.Pathogen, asOf time.Time) ([]domain.ObservationRecord, error) {
	signal, err := signalFor(pathogen)
	if err != nil {
		return nil, err
	}

	end := asOf
	if end.IsZero() {
		end = domain.Today()
	}

	params := url.Values{
		"data_source": {"hhs"},
		"signal":      {signal},
		"geo_type":    {"state"},
		"time_type":   {"day"},
		"geo_values":  {"*"},
		"time_values": {c.start.Format(compactDate) + "-" + end.Format(compactDate)},
	}
	if !asOf.IsZero() {
		params.Set("as_of", asOf.Format(compactDate))
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	env, err := c.doRequest(ctx, c.baseURL+"/covidcast/?"+params.Encode())
	if err != nil {
		return nil, err
	}

	return c.normalize(env.Epidata), nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: covidcast request: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: covidcast status %d: %s", domain.ErrUpstreamUnavailable, resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode covidcast response: %w", domain.ErrUpstreamUnavailable, err)
	}

	switch env.Result {
	case resultSuccess:
		return &env, nil
	case resultNoResults:
		// Nothing in the requested window is a valid answer, not an outage.
		env.Epidata = nil
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: covidcast result %d: %s", domain.ErrUpstreamUnavailable, env.Result, env.Message)
	}
}

// normalize maps Epidata rows to ObservationRecords, resolving state
// abbreviations to reference codes and dropping out-of-scope geographies.
func (c *Client) normalize(rows []epidataRow) []domain.ObservationRecord {
	recs := make([]domain.ObservationRecord, 0, len(rows))
	for _, row := range rows {
		loc, ok := c.locations.Resolve(row.GeoValue)
		if !ok {
			c.logger.Debug("dropping unknown geography", "geo_value", row.GeoValue)
			continue
		}
		date, err := time.ParseInLocation(compactDate, strconv.Itoa(row.TimeValue), time.UTC)
		if err != nil {
			c.logger.Warn("skipping row with bad time_value", "time_value", row.TimeValue)
			continue
		}
		recs = append(recs, domain.ObservationRecord{
			Location: loc.Code,
			Date:     date,
			Value:    row.Value,
		})
	}
	return recs
}

func signalFor(pathogen domain.Pathogen) (string, error) {
	switch pathogen {
	case domain.PathogenInfluenza:
		return "confirmed_admissions_influenza_1d", nil
	case domain.PathogenCOVID:
		return "confirmed_admissions_covid_1d", nil
	default:
		return "", fmt.Errorf("%w: pathogen %q", domain.ErrInvalidArgument, pathogen)
	}
}

// Epidata response envelope. result 1 is success, -2 is an empty result
// set; anything else is treated as an upstream failure.
const (
	resultSuccess   = 1
	resultNoResults = -2
)

type envelope struct {
	Result  int          `json:"result"`
	Message string       `json:"message"`
	Epidata []epidataRow `json:"epidata"`
}

type epidataRow struct {
	GeoValue  string   `json:"geo_value"`
	TimeValue int      `json:"time_value"` // YYYYMMDD
	Value     *float64 `json:"value"`
}
