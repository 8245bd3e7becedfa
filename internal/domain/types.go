package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the calendar-date layout used in filenames and JSON output.
const DateFormat = "2006-01-02"

// NationalCode is the synthetic location code for the US aggregate.
const NationalCode = "US"

// Pathogen selects which admission signal a backend fetches.
type Pathogen string

const (
	PathogenInfluenza Pathogen = "influenza"
	PathogenCOVID     Pathogen = "covid"
)

// Valid reports whether the pathogen is a known enum value.
func (p Pathogen) Valid() bool {
	return p == PathogenInfluenza || p == PathogenCOVID
}

// Resolution is the temporal resolution of generated snapshots.
type Resolution string

const (
	ResolutionDaily  Resolution = "daily"
	ResolutionWeekly Resolution = "weekly"
)

func (r Resolution) Valid() bool {
	return r == ResolutionDaily || r == ResolutionWeekly
}

// MissingPolicy controls how absent upstream values are handled before
// aggregation.
type MissingPolicy string

const (
	// MissingAsZero counts an absent value as zero.
	MissingAsZero MissingPolicy = "zero"
	// MissingDrop removes records with absent values entirely.
	MissingDrop MissingPolicy = "drop"
)

func (m MissingPolicy) Valid() bool {
	return m == MissingAsZero || m == MissingDrop
}

// ObservationRecord is one period's observed count for one location,
// normalized from whatever raw column set the backend returned.
// A nil Value means the cell was absent upstream, which is distinct from
// an explicit zero.
type ObservationRecord struct {
	Location string
	Date     time.Time // UTC midnight
	Value    *float64
}

// ObservationSource is a backend serving per-location per-day admission
// counts. One implementation exists per upstream system; callers never
// branch on a source name string.
type ObservationSource interface {
	Name() string

	// SupportsVintages reports whether the backend can serve historical
	// revisions of the data. A backend without vintages only answers
	// "latest" queries.
	SupportsVintages() bool

	// Fetch retrieves all state-level records as of the given vintage.
	// A zero asOf means the latest available revision.
	Fetch(ctx context.Context, pathogen Pathogen, asOf time.Time) ([]ObservationRecord, error)
}

// Point is one date/value pair of a snapshot time series.
type Point struct {
	Date  time.Time
	Value float64
}

// MarshalJSON emits {"date":"YYYY-MM-DD","value":N}. The viewer and this
// pipeline agree on "value" as the field name.
func (p Point) MarshalJSON() ([]byte, error) {
	v := strconv.FormatFloat(p.Value, 'f', -1, 64)
	return []byte(`{"date":"` + p.Date.Format(DateFormat) + `","value":` + v + `}`), nil
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := time.ParseInLocation(DateFormat, raw.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("parse point date: %w", err)
	}
	p.Date = d
	p.Value = raw.Value
	return nil
}

// Snapshot is the date-ordered series for one (target, location, as-of)
// triple. Dates are strictly increasing and unique.
type Snapshot []Point

// Location is one row of the reference table.
type Location struct {
	Code         string // FIPS-like code, or "US"
	Abbreviation string // e.g. "CA"
	Name         string // display name, e.g. "California"
}

// LocationSet is the reference table for one run, immutable once loaded.
type LocationSet struct {
	byCode   map[string]Location
	byAbbrev map[string]Location
	ordered  []Location
}

// NewLocationSet indexes reference rows by code and by abbreviation.
func NewLocationSet(locs []Location) *LocationSet {
	s := &LocationSet{
		byCode:   make(map[string]Location, len(locs)),
		byAbbrev: make(map[string]Location, len(locs)),
		ordered:  make([]Location, len(locs)),
	}
	copy(s.ordered, locs)
	sort.Slice(s.ordered, func(i, j int) bool {
		// US sorts first so the viewer's picker opens on the national view.
		if s.ordered[i].Code == NationalCode {
			return s.ordered[j].Code != NationalCode
		}
		if s.ordered[j].Code == NationalCode {
			return false
		}
		return s.ordered[i].Code < s.ordered[j].Code
	})
	for _, l := range locs {
		s.byCode[strings.ToUpper(l.Code)] = l
		s.byAbbrev[strings.ToUpper(l.Abbreviation)] = l
	}
	return s
}

// Resolve looks up a location by code or abbreviation, case-insensitively.
func (s *LocationSet) Resolve(key string) (Location, bool) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if l, ok := s.byCode[k]; ok {
		return l, true
	}
	l, ok := s.byAbbrev[k]
	return l, ok
}

// Contains reports whether a location code is part of the reference table.
func (s *LocationSet) Contains(code string) bool {
	_, ok := s.byCode[strings.ToUpper(code)]
	return ok
}

// All returns every reference location, US first, then ascending by code.
func (s *LocationSet) All() []Location {
	out := make([]Location, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of reference locations.
func (s *LocationSet) Len() int { return len(s.ordered) }

// Model describes one forecast model shown by the viewer.
type Model struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Date truncates a time to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
