package domain

import (
	"sort"
	"time"
)

// ApplyMissingPolicy resolves absent values according to the run's policy.
// With MissingAsZero every returned record has a non-nil value; with
// MissingDrop records carrying absent values are removed, which can later
// turn an otherwise complete epi-week into a dropped partial week.
func ApplyMissingPolicy(recs []ObservationRecord, policy MissingPolicy) []ObservationRecord {
	out := make([]ObservationRecord, 0, len(recs))
	for _, r := range recs {
		if r.Value == nil {
			if policy == MissingDrop {
				continue
			}
			zero := 0.0
			r.Value = &zero
		}
		out = append(out, r)
	}
	return out
}

// NationalAggregate sums state-level values per date into synthetic "US"
// records. It runs on daily records, before any weekly aggregation, and
// ignores records already carrying the national code. Input records must
// have the missing policy applied.
func NationalAggregate(recs []ObservationRecord) []ObservationRecord {
	sums := make(map[time.Time]float64)
	for _, r := range recs {
		if r.Location == NationalCode || r.Value == nil {
			continue
		}
		sums[r.Date] += *r.Value
	}

	out := make([]ObservationRecord, 0, len(sums))
	for date, sum := range sums {
		v := sum
		out = append(out, ObservationRecord{Location: NationalCode, Date: date, Value: &v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// weekKey buckets records by location and MMWR week.
type weekKey struct {
	location string
	year     int
	week     int
}

type weekAgg struct {
	sum  float64
	days map[time.Time]struct{}
	end  time.Time
}

// AggregateWeekly rolls daily records up to MMWR weeks. A week is emitted
// only when all seven calendar days are present for that location; partial
// weeks are dropped, not reported low. The emitted date is the week's
// Saturday and the value is the sum of the seven daily values.
//
// onDropped, if non-nil, is called once per dropped partial week so the
// caller can count them; the drop itself is policy, not an error.
func AggregateWeekly(recs []ObservationRecord, onDropped func(location string, year, week int)) []ObservationRecord {
	weeks := make(map[weekKey]*weekAgg)
	for _, r := range recs {
		if r.Value == nil {
			continue
		}
		y, w := EpiWeek(r.Date)
		k := weekKey{location: r.Location, year: y, week: w}
		agg, ok := weeks[k]
		if !ok {
			agg = &weekAgg{days: make(map[time.Time]struct{}, 7), end: WeekEnd(r.Date)}
			weeks[k] = agg
		}
		if _, seen := agg.days[r.Date]; seen {
			continue
		}
		agg.days[r.Date] = struct{}{}
		agg.sum += *r.Value
	}

	out := make([]ObservationRecord, 0, len(weeks))
	for k, agg := range weeks {
		if len(agg.days) != 7 {
			if onDropped != nil {
				onDropped(k.location, k.year, k.week)
			}
			continue
		}
		v := agg.sum
		out = append(out, ObservationRecord{Location: k.location, Date: agg.end, Value: &v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// BuildSnapshots groups records into per-location snapshots, dropping dates
// before start and sorting ascending. Input records must have non-nil
// values; at most one record exists per location and date by construction
// of the fetch and aggregation steps.
func BuildSnapshots(recs []ObservationRecord, start time.Time) map[string]Snapshot {
	byLoc := make(map[string]Snapshot)
	for _, r := range recs {
		if r.Value == nil || r.Date.Before(start) {
			continue
		}
		byLoc[r.Location] = append(byLoc[r.Location], Point{Date: r.Date, Value: *r.Value})
	}
	for loc, snap := range byLoc {
		sort.Slice(snap, func(i, j int) bool { return snap[i].Date.Before(snap[j].Date) })
		byLoc[loc] = snap
	}
	return byLoc
}
