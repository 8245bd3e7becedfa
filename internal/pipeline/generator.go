// Package pipeline turns raw backend observations into the per-location
// snapshot files and side files the forecast viewer fetches.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/observability"
)

// Wildcard requests every location known to the reference table,
// including the synthetic national aggregate.
const Wildcard = "*"

// Request describes one snapshot generation: which pathogen, which data
// vintage, which locations, and how to aggregate.
type Request struct {
	Pathogen   domain.Pathogen
	AsOf       time.Time // zero means "latest available"
	Locations  []string  // codes, abbreviations, or the wildcard
	Resolution domain.Resolution
	Missing    domain.MissingPolicy
}

// Generator produces per-location snapshots from one observation source.
type Generator struct {
	source    domain.ObservationSource
	locations *domain.LocationSet
	start     time.Time
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewGenerator wires a generator to a backend and a loaded reference
// table. Snapshots never contain dates before start.
func NewGenerator(source domain.ObservationSource, locations *domain.LocationSet, start time.Time, logger *slog.Logger, metrics *observability.Metrics) *Generator {
	return &Generator{
		source:    source,
		locations: locations,
		start:     start,
		logger:    logger,
		metrics:   metrics,
	}
}

// Source returns the backend this generator fetches from.
func (g *Generator) Source() domain.ObservationSource { return g.source }

// Generate runs the fetch-normalize-aggregate sequence and returns one
// snapshot per requested location that has data. Identical requests
// against an unchanged upstream produce identical results.
func (g *Generator) Generate(ctx context.Context, req Request) (map[string]domain.Snapshot, error) {
	wanted, err := g.validate(req)
	if err != nil {
		return nil, err
	}

	// Always fetch everything: even a US-only request needs every state
	// to compute the national sum.
	fetchStart := time.Now()
	recs, err := g.source.Fetch(ctx, req.Pathogen, req.AsOf)
	if err != nil {
		g.metrics.FetchErrors.Inc()
		return nil, err
	}
	g.metrics.FetchDuration.WithLabelValues(g.source.Name()).Observe(time.Since(fetchStart).Seconds())
	g.metrics.RecordsFetched.Add(float64(len(recs)))

	recs = g.filterToReference(recs)
	recs = domain.ApplyMissingPolicy(recs, req.Missing)

	if wanted[domain.NationalCode] {
		recs = append(recs, domain.NationalAggregate(recs)...)
	}

	if req.Resolution == domain.ResolutionWeekly {
		recs = domain.AggregateWeekly(recs, func(location string, year, week int) {
			g.metrics.PartialWeeksDropped.Inc()
			g.logger.Debug("dropped partial epi-week",
				"location", location, "epi_year", year, "epi_week", week)
		})
	}

	snaps := domain.BuildSnapshots(recs, g.start)
	for code := range snaps {
		if !wanted[code] {
			delete(snaps, code)
		}
	}
	return snaps, nil
}

// validate checks the request enums, resolves requested locations against
// the reference table, and enforces the source's vintage capability.
// It returns the set of wanted location codes.
func (g *Generator) validate(req Request) (map[string]bool, error) {
	if g.source == nil {
		return nil, fmt.Errorf("%w: nil observation source", domain.ErrInvalidArgument)
	}
	if !req.Pathogen.Valid() {
		return nil, fmt.Errorf("%w: pathogen %q", domain.ErrInvalidArgument, req.Pathogen)
	}
	if !req.Resolution.Valid() {
		return nil, fmt.Errorf("%w: temporal resolution %q", domain.ErrInvalidArgument, req.Resolution)
	}
	if !req.Missing.Valid() {
		return nil, fmt.Errorf("%w: missing-value policy %q", domain.ErrInvalidArgument, req.Missing)
	}
	if len(req.Locations) == 0 {
		return nil, fmt.Errorf("%w: no locations requested", domain.ErrInvalidArgument)
	}

	if !g.source.SupportsVintages() && !req.AsOf.IsZero() && !domain.Date(req.AsOf).Equal(domain.Today()) {
		return nil, fmt.Errorf("%w: source %q cannot serve as-of %s",
			domain.ErrUnsupportedVintage, g.source.Name(), req.AsOf.Format(domain.DateFormat))
	}

	wanted := make(map[string]bool)
	for _, key := range req.Locations {
		if key == Wildcard {
			for _, loc := range g.locations.All() {
				wanted[loc.Code] = true
			}
			continue
		}
		loc, ok := g.locations.Resolve(key)
		if !ok {
			return nil, fmt.Errorf("%w: unknown location %q", domain.ErrInvalidArgument, key)
		}
		wanted[loc.Code] = true
	}
	return wanted, nil
}

// filterToReference drops records for geographies outside the reference
// table; they are out of scope for the forecasting exercise.
func (g *Generator) filterToReference(recs []domain.ObservationRecord) []domain.ObservationRecord {
	out := make([]domain.ObservationRecord, 0, len(recs))
	for _, r := range recs {
		if g.locations.Contains(r.Location) {
			out = append(out, r)
		}
	}
	return out
}
