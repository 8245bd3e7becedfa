// Command validate performs integrity checks over a generated snapshot
// directory: snapshot file contents, filename conventions, and the
// consistency of the side files the viewer navigates with. It is run
// against cmd/genmock output in CI and against production output before
// publishing.
//
// Usage:
//
//	go run ./cmd/validate -dir data/mock
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fluwatch/snapshot-etl/internal/domain"
	"github.com/fluwatch/snapshot-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "", "snapshot output directory to validate")
	start := flag.String("start", "", "optional pipeline start date (YYYY-MM-DD); points before it are errors")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	var startDate time.Time
	if *start != "" {
		var err error
		startDate, err = time.ParseInLocation(domain.DateFormat, *start, time.UTC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: bad -start: %v\n", err)
			os.Exit(1)
		}
	}

	if code := run(*dir, startDate); code != 0 {
		os.Exit(code)
	}
}

// snapshotFile is one parsed snapshot with its decomposed filename.
type snapshotFile struct {
	fileName string
	name     pipeline.SnapshotName
	series   domain.Snapshot
}

func run(dir string, start time.Time) int {
	fmt.Println("=== Snapshot Directory Integrity Validation ===")
	fmt.Println()

	snaps, err := loadSnapshots(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load snapshots: %v\n", err)
		return 1
	}
	if len(snaps) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no snapshot files in %s\n", dir)
		return 1
	}

	phases := []*phase{
		validateSnapshotContents(snaps, start),
		validateSideFiles(dir, snaps),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Files: %d snapshots in %s\n", len(snaps), dir)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// loadSnapshots reads every truth_ and forecast_ file in the directory.
// Files that fail to parse are fatal; the phases assume loadable input.
func loadSnapshots(dir string) ([]snapshotFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var snaps []snapshotFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isSnapshotName(name) {
			continue
		}

		parsed, err := pipeline.ParseSnapshotFilename(name)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var series domain.Snapshot
		if err := json.Unmarshal(data, &series); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		snaps = append(snaps, snapshotFile{fileName: name, name: parsed, series: series})
	}
	return snaps, nil
}

func isSnapshotName(name string) bool {
	return strings.HasSuffix(name, ".json") &&
		(strings.HasPrefix(name, pipeline.KindTruth+"_") || strings.HasPrefix(name, pipeline.KindForecast+"_"))
}

func loadJSON[T any](path string, v *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ── Phase 1: Snapshot Contents ──
// Validates each series against the invariants the generator guarantees.

func validateSnapshotContents(snaps []snapshotFile, start time.Time) *phase {
	p := &phase{name: "Phase 1: Snapshot Contents"}

	for _, s := range snaps {
		checkSeries(p, s, start)
	}
	return p
}

func checkSeries(p *phase, s snapshotFile, start time.Time) {
	if s.name.Target == "" {
		p.errorf("%s: empty target segment", s.fileName)
	}
	if s.name.Location == "" {
		p.errorf("%s: empty location segment", s.fileName)
	}

	for i, pt := range s.series {
		if !start.IsZero() && pt.Date.Before(start) {
			p.errorf("%s: point %d: date %s precedes the pipeline start date",
				s.fileName, i, pt.Date.Format(domain.DateFormat))
		}
		if pt.Value < 0 {
			p.errorf("%s: point %d (%s): negative value %g",
				s.fileName, i, pt.Date.Format(domain.DateFormat), pt.Value)
		}
		if i > 0 && !s.series[i-1].Date.Before(pt.Date) {
			p.errorf("%s: point %d: date %s not after %s",
				s.fileName, i, pt.Date.Format(domain.DateFormat), s.series[i-1].Date.Format(domain.DateFormat))
		}
		// A truth series as of a date cannot contain later observations.
		if s.name.Kind == pipeline.KindTruth && pt.Date.After(s.name.AsOf) {
			p.errorf("%s: point %d: date %s is after the as-of date",
				s.fileName, i, pt.Date.Format(domain.DateFormat))
		}
	}
}

// ── Phase 2: Side Files ──
// Validates that the viewer's lookup files agree with the snapshot files
// actually present.

func validateSideFiles(dir string, snaps []snapshotFile) *phase {
	p := &phase{name: "Phase 2: Side Files"}

	available := checkAvailableAsOfs(p, dir, snaps)
	checkInitialAsOf(p, dir, available)
	checkLocations(p, dir, snaps)
	checkModels(p, dir)

	return p
}

// checkAvailableAsOfs verifies every advertised (target, as-of) pair has
// at least one truth snapshot on disk and vice versa. It returns the set
// of all advertised as-of dates for the initial_as_of check.
func checkAvailableAsOfs(p *phase, dir string, snaps []snapshotFile) map[string]bool {
	var available map[string][]string
	if err := loadJSON(filepath.Join(dir, pipeline.AvailableAsOfsFile), &available); err != nil {
		p.errorf("%s: %v", pipeline.AvailableAsOfsFile, err)
		return nil
	}

	onDisk := map[string]int{}
	for _, s := range snaps {
		if s.name.Kind == pipeline.KindTruth {
			onDisk[s.name.Target+"|"+s.name.AsOf.Format(domain.DateFormat)]++
		}
	}

	allAsOfs := map[string]bool{}
	for target, asOfs := range available {
		if len(asOfs) == 0 {
			p.errorf("%s: target %q advertises no as-of dates", pipeline.AvailableAsOfsFile, target)
		}
		if !sort.StringsAreSorted(asOfs) {
			p.errorf("%s: target %q as-of dates not sorted", pipeline.AvailableAsOfsFile, target)
		}
		for _, asOf := range asOfs {
			allAsOfs[asOf] = true
			key := target + "|" + asOf
			if onDisk[key] == 0 {
				p.errorf("%s: advertised %s as of %s has no snapshot files", pipeline.AvailableAsOfsFile, target, asOf)
			}
			delete(onDisk, key)
		}
	}
	for key := range onDisk {
		parts := strings.SplitN(key, "|", 2)
		p.errorf("snapshot files for %s as of %s not advertised in %s", parts[0], parts[1], pipeline.AvailableAsOfsFile)
	}
	return allAsOfs
}

func checkInitialAsOf(p *phase, dir string, available map[string]bool) {
	var initial struct {
		InitialAsOf string `json:"initial_as_of"`
	}
	if err := loadJSON(filepath.Join(dir, pipeline.InitialAsOfFile), &initial); err != nil {
		p.errorf("%s: %v", pipeline.InitialAsOfFile, err)
		return
	}
	if initial.InitialAsOf == "" {
		p.errorf("%s: initial_as_of is empty", pipeline.InitialAsOfFile)
		return
	}
	if available != nil && !available[initial.InitialAsOf] {
		p.errorf("%s: initial as-of %s not in %s", pipeline.InitialAsOfFile, initial.InitialAsOf, pipeline.AvailableAsOfsFile)
	}
}

func checkLocations(p *phase, dir string, snaps []snapshotFile) {
	var entries []struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	if err := loadJSON(filepath.Join(dir, pipeline.LocationsFile), &entries); err != nil {
		p.errorf("%s: %v", pipeline.LocationsFile, err)
		return
	}
	if len(entries) == 0 {
		p.errorf("%s: no entries", pipeline.LocationsFile)
		return
	}

	listed := map[string]bool{}
	for i, e := range entries {
		if e.Value == "" || e.Text == "" {
			p.errorf("%s: entry %d has empty value or text", pipeline.LocationsFile, i)
		}
		listed[e.Value] = true
	}
	if entries[0].Value != domain.NationalCode && listed[domain.NationalCode] {
		p.errorf("%s: %s is listed but not first", pipeline.LocationsFile, domain.NationalCode)
	}

	for _, s := range snaps {
		if !listed[s.name.Location] {
			p.errorf("%s: location %s (from %s) not listed", pipeline.LocationsFile, s.name.Location, s.fileName)
		}
	}
}

func checkModels(p *phase, dir string) {
	var models []domain.Model
	if err := loadJSON(filepath.Join(dir, pipeline.ModelsFile), &models); err != nil {
		p.errorf("%s: %v", pipeline.ModelsFile, err)
		return
	}
	for i, m := range models {
		if m.Name == "" {
			p.errorf("%s: model %d has empty name", pipeline.ModelsFile, i)
		}
	}
}
