package domain

import "time"

// EpiWeek returns the MMWR epidemiological year and week for a date.
// MMWR weeks run Sunday through Saturday and belong to the year containing
// the week's Wednesday, so the first and last days of a calendar year can
// fall into the neighboring epi-year.
func EpiWeek(d time.Time) (year, week int) {
	wed := epiWednesday(d)
	return wed.Year(), (wed.YearDay()-1)/7 + 1
}

// WeekEnd returns the Saturday ending the MMWR week containing d. This is
// the date a weekly aggregate is reported under.
func WeekEnd(d time.Time) time.Time {
	return epiSunday(d).AddDate(0, 0, 6)
}

// epiSunday returns the Sunday starting the MMWR week containing d.
func epiSunday(d time.Time) time.Time {
	d = Date(d)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// epiWednesday returns the Wednesday of the MMWR week containing d, the
// day that determines the week's epi-year. Week numbers then follow from
// Wednesdays being exactly seven days apart: week n's Wednesday is the
// n-th Wednesday of its year.
func epiWednesday(d time.Time) time.Time {
	return epiSunday(d).AddDate(0, 0, 3)
}
