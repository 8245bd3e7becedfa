// Package domain models hospitalization truth data for the forecast viewer.
//
// # Data Sources
//
// Daily confirmed-admission counts come from one of two public backends:
//
//	Delphi Epidata (covidcast): https://api.delphi.cmu.edu/epidata/covidcast/
//	  data_source=hhs, signal=confirmed_admissions_{influenza,covid}_1d,
//	  geo_type=state. Supports vintages: an "as of" date selects which
//	  historical revision of the series to return, so late-arriving and
//	  corrected reports can be replayed exactly as they looked on a past day.
//
//	HealthData.gov: the HHS reported-patient-impact CSV. Serves only the
//	  current revision of the data; requesting a historical vintage from it
//	  is an error. Its admission columns report the previous day's count, so
//	  the observation date is the report date minus one day.
//
// # Location Codes
//
// Locations are identified by the forecast-hub code convention: two-digit
// FIPS codes for states and territories ("06" = California) plus the
// synthetic national code "US". The reference table (abbreviation, code,
// display name) is fetched once per run; geographies upstream but absent
// from the table are out of scope for the forecasting exercise and are
// dropped everywhere.
//
// # Epi-Weeks
//
// Weekly aggregation buckets daily records by MMWR epidemiological week,
// not ISO week. MMWR weeks run Sunday through Saturday and belong to the
// calendar year that contains the week's Wednesday; week 1 is the first
// week whose Wednesday falls in January. A weekly value is the sum of the
// seven daily values and is reported under the week's ending Saturday.
// Weeks with fewer than seven days of source data are dropped rather than
// reported low: a partial sum would be indistinguishable from a genuine
// decline in admissions.
//
// # Missing Values
//
// Upstream cells can be absent (an empty CSV cell or a null JSON value).
// ObservationRecord keeps absence distinct from zero via a pointer; the
// caller chooses per run whether absent values count as zero or remove the
// record entirely before aggregation.
package domain
