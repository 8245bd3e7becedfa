// Command genmock writes a deterministic mock snapshot directory by
// running the real pipeline against a synthetic observation source. The
// output is useful for developing the viewer offline and as fixture
// input for cmd/validate.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock -start 2022-01-02 -weeks 8
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/observability"
	"github.com/fluwatch/snapshot-etl/internal/pipeline"
)

func main() {
	out := flag.String("out", "", "output directory for the mock snapshot set")
	start := flag.String("start", "2022-01-02", "first observation date (YYYY-MM-DD)")
	weeks := flag.Int("weeks", 8, "number of epi-weeks of synthetic data")
	seed := flag.Int64("seed", 42, "RNG seed; same seed, same bytes")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		os.Exit(1)
	}

	startDate, err := time.ParseInLocation(domain.DateFormat, *start, time.UTC)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}

	if err := run(*out, startDate, *weeks, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(out string, start time.Time, weeks int, seed int64) error {
	// Freeze "today" at the end of the synthetic range so repeated runs
	// produce identical filenames and as-of lists.
	end := domain.WeekEnd(start).AddDate(0, 0, 7*(weeks-1))
	domain.SetClock(clockwork.NewFakeClockAt(end.Add(12 * time.Hour)))
	defer domain.SetClock(nil)

	locSet := mockLocations()
	src := newMockSource(locSet, start, end, seed)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	metrics := observability.NewMetricsForTesting()

	gen := pipeline.NewGenerator(src, locSet, start, logger, metrics)
	driver := pipeline.NewDriver(gen, locSet, pipeline.DriverConfig{
		OutputDir:  out,
		Targets:    []pipeline.Target{{Name: "hosp", Pathogen: domain.PathogenInfluenza}},
		Locations:  []string{pipeline.Wildcard},
		Resolution: domain.ResolutionWeekly,
		Missing:    domain.MissingAsZero,
		LatestOnly: false,
		Start:      start,
		Models: []domain.Model{
			{Name: "Flusight-ensemble"},
			{Name: "Flusight-baseline"},
		},
	}, logger, metrics)

	results, err := driver.Run(context.Background())
	if err != nil {
		return err
	}

	files := 0
	for _, res := range results {
		files += res.Files
	}
	fmt.Printf("wrote %d snapshot files across %d vintages to %s\n", files, len(results), out)
	return nil
}

func mockLocations() *domain.LocationSet {
	return domain.NewLocationSet([]domain.Location{
		{Code: "US", Abbreviation: "US", Name: "United States"},
		{Code: "06", Abbreviation: "CA", Name: "California"},
		{Code: "36", Abbreviation: "NY", Name: "New York"},
		{Code: "48", Abbreviation: "TX", Name: "Texas"},
		{Code: "53", Abbreviation: "WA", Name: "Washington"},
	})
}

// mockSource serves synthetic daily admissions. It honors vintages the
// way a real revision-keeping backend does in the simplest sense: a
// vintage only contains observations dated on or before the as-of date.
type mockSource struct {
	recs []domain.ObservationRecord
}

func newMockSource(locSet *domain.LocationSet, start, end time.Time, seed int64) *mockSource {
	rng := rand.New(rand.NewSource(seed))
	var recs []domain.ObservationRecord
	for _, loc := range locSet.All() {
		if loc.Code == domain.NationalCode {
			continue
		}
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			v := float64(5 + rng.Intn(40))
			recs = append(recs, domain.ObservationRecord{Location: loc.Code, Date: day, Value: &v})
		}
	}
	return &mockSource{recs: recs}
}

func (s *mockSource) Name() string           { return "mock" }
func (s *mockSource) SupportsVintages() bool { return true }

func (s *mockSource) Fetch(_ context.Context, _ domain.Pathogen, asOf time.Time) ([]domain.ObservationRecord, error) {
	cutoff := asOf
	if cutoff.IsZero() {
		cutoff = domain.Today()
	}
	var out []domain.ObservationRecord
	for _, r := range s.recs {
		if !r.Date.After(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}
