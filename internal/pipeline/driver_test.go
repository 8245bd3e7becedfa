package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/observability"
)

// Sat 2022-03-05 keeps as-of arithmetic simple: today is an epi-week end.
var testToday = d(2022, time.March, 5)

func freezeToday(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(testToday.Add(6 * time.Hour)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func newDriver(t *testing.T, src domain.ObservationSource, mutate func(*DriverConfig)) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DriverConfig{
		OutputDir:  dir,
		Targets:    []Target{{Name: "hosp", Pathogen: domain.PathogenInfluenza}},
		Locations:  []string{Wildcard},
		Resolution: domain.ResolutionWeekly,
		Missing:    domain.MissingAsZero,
		LatestOnly: true,
		Start:      d(2022, time.January, 1),
		Models:     []domain.Model{{Name: "Flusight-ensemble"}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	gen := NewGenerator(src, testLocations(), cfg.Start, slog.Default(), observability.NewMetricsForTesting())
	return NewDriver(gen, testLocations(), cfg, slog.Default(), observability.NewMetricsForTesting()), dir
}

// weekEnding returns a full epi-week of records for both states ending on
// the given Saturday.
func weekEnding(sat time.Time) []domain.ObservationRecord {
	var recs []domain.ObservationRecord
	for i := 6; i >= 0; i-- {
		day := sat.AddDate(0, 0, -i)
		recs = append(recs, rec("06", day, 10))
		recs = append(recs, rec("48", day, 2))
	}
	return recs
}

// vintageStubSource serves a distinct record set per requested as-of date.
type vintageStubSource struct {
	stubSource
	recsByAsOf map[time.Time][]domain.ObservationRecord
}

func (s *vintageStubSource) Fetch(_ context.Context, _ domain.Pathogen, asOf time.Time) ([]domain.ObservationRecord, error) {
	s.calls++
	s.lastAsOf = asOf
	return s.recsByAsOf[asOf], nil
}

func readJSON[T any](t *testing.T, path string) T {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestDriverRun_LatestOnly(t *testing.T) {
	freezeToday(t)
	src := &stubSource{name: "stub", vintages: true, recs: fullWeek()}
	driver, dir := newDriver(t, src, nil)

	results, err := driver.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "hosp", results[0].Target)
	assert.Equal(t, testToday, results[0].AsOf)
	assert.Equal(t, 3, results[0].Files)
	assert.Equal(t, testToday, src.lastAsOf, "latest run queries today's vintage")

	for _, loc := range []string{"US", "06", "48"} {
		path := filepath.Join(dir, TruthFilename("hosp", loc, testToday))
		assert.FileExists(t, path)
	}

	snap := readJSON[domain.Snapshot](t, filepath.Join(dir, TruthFilename("hosp", "US", testToday)))
	require.Len(t, snap, 1)
	assert.Equal(t, domain.Point{Date: d(2022, time.January, 8), Value: 84}, snap[0])
}

func TestDriverRun_SideFiles(t *testing.T) {
	freezeToday(t)
	src := &stubSource{name: "stub", vintages: true, recs: fullWeek()}
	driver, dir := newDriver(t, src, nil)

	_, err := driver.Run(context.Background())
	require.NoError(t, err)

	available := readJSON[map[string][]string](t, filepath.Join(dir, AvailableAsOfsFile))
	assert.Empty(t, cmp.Diff(map[string][]string{"hosp": {"2022-03-05"}}, available))

	initial := readJSON[map[string]string](t, filepath.Join(dir, InitialAsOfFile))
	assert.Equal(t, "2022-03-05", initial["initial_as_of"])

	locs := readJSON[[]map[string]string](t, filepath.Join(dir, LocationsFile))
	require.Len(t, locs, 3)
	assert.Equal(t, "US", locs[0]["value"], "national entry first for the picker")
	assert.Equal(t, "United States", locs[0]["text"])

	models := readJSON[[]domain.Model](t, filepath.Join(dir, ModelsFile))
	require.Len(t, models, 1)
	assert.Equal(t, "Flusight-ensemble", models[0].Name)
}

func TestDriverRun_FullHistory(t *testing.T) {
	freezeToday(t)
	recs := append(weekEnding(d(2022, time.February, 26)), weekEnding(testToday)...)
	src := &stubSource{name: "stub", vintages: true, recs: recs}
	driver, dir := newDriver(t, src, func(cfg *DriverConfig) {
		cfg.LatestOnly = false
		cfg.Start = d(2022, time.February, 20) // a Sunday; first week ends 2022-02-26
	})

	results, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, d(2022, time.February, 26), results[0].AsOf)
	assert.Equal(t, testToday, results[1].AsOf)
	assert.Equal(t, 2, src.calls, "one fetch per vintage")

	available := readJSON[map[string][]string](t, filepath.Join(dir, AvailableAsOfsFile))
	assert.Equal(t, []string{"2022-02-26", "2022-03-05"}, available["hosp"])
}

func TestDriverRun_MidWeekTodayAppended(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(d(2022, time.March, 9).Add(6 * time.Hour))) // a Wednesday
	t.Cleanup(func() { domain.SetClock(nil) })

	recs := append(weekEnding(d(2022, time.February, 26)), weekEnding(d(2022, time.March, 5))...)
	src := &stubSource{name: "stub", vintages: true, recs: recs}
	driver, _ := newDriver(t, src, func(cfg *DriverConfig) {
		cfg.LatestOnly = false
		cfg.Start = d(2022, time.February, 20)
	})

	results, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, d(2022, time.February, 26), results[0].AsOf)
	assert.Equal(t, d(2022, time.March, 5), results[1].AsOf)
	assert.Equal(t, d(2022, time.March, 9), results[2].AsOf, "mid-week today appended as final vintage")
}

func TestDriverRun_HistoricalRunNeedsVintages(t *testing.T) {
	freezeToday(t)
	src := &stubSource{name: "current-only", vintages: false, recs: fullWeek()}
	driver, _ := newDriver(t, src, func(cfg *DriverConfig) { cfg.LatestOnly = false })

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	assert.Zero(t, src.calls)
}

func TestDriverRun_FetchFailureAborts(t *testing.T) {
	freezeToday(t)
	src := &stubSource{
		name:     "stub",
		vintages: true,
		err:      fmt.Errorf("%w: gateway timeout", domain.ErrUpstreamUnavailable),
	}
	driver, dir := newDriver(t, src, nil)

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))

	// An aborted run must not publish side files pointing at missing data.
	assert.NoFileExists(t, filepath.Join(dir, AvailableAsOfsFile))
	assert.NoFileExists(t, filepath.Join(dir, InitialAsOfFile))
}

func TestDriverRun_EmptyVintageNotAdvertised(t *testing.T) {
	freezeToday(t)

	// The signal starts mid-window: the first vintage has no observations
	// yet, only today's does.
	src := &vintageStubSource{
		stubSource: stubSource{name: "stub", vintages: true},
		recsByAsOf: map[time.Time][]domain.ObservationRecord{
			testToday: weekEnding(testToday),
		},
	}
	driver, dir := newDriver(t, src, func(cfg *DriverConfig) {
		cfg.LatestOnly = false
		cfg.Start = d(2022, time.February, 20)
	})

	results, err := driver.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Zero(t, results[0].Files, "empty vintage writes nothing")
	assert.Equal(t, 3, results[1].Files)

	available := readJSON[map[string][]string](t, filepath.Join(dir, AvailableAsOfsFile))
	assert.Equal(t, []string{"2022-03-05"}, available["hosp"],
		"a vintage without files must not be advertised")

	initial := readJSON[map[string]string](t, filepath.Join(dir, InitialAsOfFile))
	assert.Equal(t, "2022-03-05", initial["initial_as_of"])

	assert.NoFileExists(t, filepath.Join(dir, TruthFilename("hosp", "06", d(2022, time.February, 26))))
	assert.FileExists(t, filepath.Join(dir, TruthFilename("hosp", "06", testToday)))
}

func TestDriverRun_AllVintagesEmptyFails(t *testing.T) {
	freezeToday(t)
	src := &stubSource{name: "stub", vintages: true} // no observations at all
	driver, dir := newDriver(t, src, nil)

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.NoFileExists(t, filepath.Join(dir, AvailableAsOfsFile))
}

func TestDriverRun_NilSource(t *testing.T) {
	freezeToday(t)
	driver, _ := newDriver(t, nil, func(cfg *DriverConfig) { cfg.LatestOnly = false })

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestDriverRun_NoTargets(t *testing.T) {
	freezeToday(t)
	src := &stubSource{name: "stub", vintages: true}
	driver, _ := newDriver(t, src, func(cfg *DriverConfig) { cfg.Targets = nil })

	_, err := driver.Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
