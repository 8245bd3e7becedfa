package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/observability"
)

// Side files consumed by the viewer alongside the snapshots.
const (
	AvailableAsOfsFile = "available_as_ofs.json"
	InitialAsOfFile    = "initial_as_of.json"
	LocationsFile      = "locations.json"
	ModelsFile         = "models.json"
)

// Target is one variable the driver generates snapshots for.
type Target struct {
	Name     string // filename segment, e.g. "hosp"
	Pathogen domain.Pathogen
}

// DriverConfig is the run plan: everything supplied by the operator, nothing
// read from file-level constants.
type DriverConfig struct {
	OutputDir  string
	Targets    []Target
	Locations  []string
	Resolution domain.Resolution
	Missing    domain.MissingPolicy

	// LatestOnly generates only today's vintage. When false, one vintage
	// per epi-week end since Start is generated, which requires a
	// vintage-capable source.
	LatestOnly bool
	Start      time.Time

	Models []domain.Model
}

// RunResult summarizes one (target, as-of) generation.
type RunResult struct {
	Target    string
	Pathogen  domain.Pathogen
	Source    string
	AsOf      time.Time
	Locations int
	Files     int
}

// Driver executes the batch run: every target crossed with every as-of
// date, one file per returned location, then the side files. Sequential
// and synchronous; the first failure aborts the run, the next scheduled
// run starts over.
type Driver struct {
	gen       *Generator
	locations *domain.LocationSet
	cfg       DriverConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewDriver creates a driver around a generator and its reference table.
func NewDriver(gen *Generator, locations *domain.LocationSet, cfg DriverConfig, logger *slog.Logger, metrics *observability.Metrics) *Driver {
	return &Driver{
		gen:       gen,
		locations: locations,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run generates and writes all snapshots and side files. It returns one
// result per (target, as-of) pair for downstream notification.
func (d *Driver) Run(ctx context.Context) ([]RunResult, error) {
	started := time.Now()

	if len(d.cfg.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets configured", domain.ErrInvalidArgument)
	}
	if d.gen.Source() == nil {
		return nil, fmt.Errorf("%w: nil observation source", domain.ErrInvalidArgument)
	}
	if !d.cfg.LatestOnly && !d.gen.Source().SupportsVintages() {
		return nil, fmt.Errorf("%w: source %q cannot replay historical vintages; set LATEST_ONLY=true",
			domain.ErrInvalidArgument, d.gen.Source().Name())
	}

	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	asOfs := d.asOfDates()
	d.logger.Info("run starting",
		"source", d.gen.Source().Name(),
		"targets", len(d.cfg.Targets),
		"as_ofs", len(asOfs),
		"output_dir", d.cfg.OutputDir,
	)

	var results []RunResult
	for _, target := range d.cfg.Targets {
		for _, asOf := range asOfs {
			res, err := d.generateOne(ctx, target, asOf)
			if err != nil {
				return nil, fmt.Errorf("target %s as of %s: %w", target.Name, asOf.Format(domain.DateFormat), err)
			}
			results = append(results, res)
		}
	}

	if err := d.writeSideFiles(results); err != nil {
		return nil, err
	}

	d.metrics.RunDuration.Observe(time.Since(started).Seconds())
	d.metrics.LastRunCompleted.SetToCurrentTime()
	d.logger.Info("run complete", "pairs", len(results), "duration", time.Since(started))
	return results, nil
}

// generateOne runs the generator for one (target, as-of) pair and writes
// the returned snapshots.
func (d *Driver) generateOne(ctx context.Context, target Target, asOf time.Time) (RunResult, error) {
	snaps, err := d.gen.Generate(ctx, Request{
		Pathogen:   target.Pathogen,
		AsOf:       asOf,
		Locations:  d.cfg.Locations,
		Resolution: d.cfg.Resolution,
		Missing:    d.cfg.Missing,
	})
	if err != nil {
		return RunResult{}, err
	}

	files := 0
	for location, snap := range snaps {
		name := TruthFilename(target.Name, location, asOf)
		if err := writeJSON(filepath.Join(d.cfg.OutputDir, name), snap); err != nil {
			return RunResult{}, err
		}
		files++
		d.metrics.SnapshotsWritten.Inc()
	}

	d.logger.Info("snapshots written",
		"target", target.Name,
		"as_of", asOf.Format(domain.DateFormat),
		"locations", len(snaps),
	)
	return RunResult{
		Target:    target.Name,
		Pathogen:  target.Pathogen,
		Source:    d.gen.Source().Name(),
		AsOf:      asOf,
		Locations: len(snaps),
		Files:     files,
	}, nil
}

// asOfDates builds the vintage list: just today for a latest-only run,
// otherwise every epi-week end (Saturday) from the start date through
// today, plus today itself when it falls mid-week.
func (d *Driver) asOfDates() []time.Time {
	today := domain.Today()
	if d.cfg.LatestOnly {
		return []time.Time{today}
	}

	var asOfs []time.Time
	for cur := domain.WeekEnd(d.cfg.Start); !cur.After(today); cur = cur.AddDate(0, 0, 7) {
		asOfs = append(asOfs, cur)
	}
	if len(asOfs) == 0 || !asOfs[len(asOfs)-1].Equal(today) {
		asOfs = append(asOfs, today)
	}
	return asOfs
}

// writeSideFiles publishes the viewer's lookup files after all snapshots
// exist, so a crashed run never leaves side files pointing at missing
// snapshot files. Only vintages that actually produced files are
// advertised; an upstream window with no observations (result -2, or a
// start date before the signal begins) must not become a 404 in the
// viewer.
func (d *Driver) writeSideFiles(results []RunResult) error {
	available := make(map[string][]string, len(d.cfg.Targets))
	var latest time.Time
	for _, res := range results {
		if res.Files == 0 {
			continue
		}
		available[res.Target] = append(available[res.Target], res.AsOf.Format(domain.DateFormat))
		if res.AsOf.After(latest) {
			latest = res.AsOf
		}
	}
	if len(available) == 0 {
		return fmt.Errorf("%w: no vintage produced any snapshot", domain.ErrUpstreamUnavailable)
	}
	for _, dates := range available {
		sort.Strings(dates)
	}
	if err := writeJSON(filepath.Join(d.cfg.OutputDir, AvailableAsOfsFile), available); err != nil {
		return err
	}

	initial := struct {
		InitialAsOf string `json:"initial_as_of"`
	}{InitialAsOf: latest.Format(domain.DateFormat)}
	if err := writeJSON(filepath.Join(d.cfg.OutputDir, InitialAsOfFile), initial); err != nil {
		return err
	}

	type pickerEntry struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	entries := make([]pickerEntry, 0, d.locations.Len())
	for _, loc := range d.locations.All() {
		entries = append(entries, pickerEntry{Value: loc.Code, Text: loc.Name})
	}
	if err := writeJSON(filepath.Join(d.cfg.OutputDir, LocationsFile), entries); err != nil {
		return err
	}

	models := d.cfg.Models
	if models == nil {
		models = []domain.Model{}
	}
	return writeJSON(filepath.Join(d.cfg.OutputDir, ModelsFile), models)
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
