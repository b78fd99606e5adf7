// Package normalizer turns raw CSV cell text into canonical values: strict
// calendar dates, cleaned text and auto-assigned categories.
package normalizer

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// ISODateLayout is the canonical date representation stored and fingerprinted.
const ISODateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid calendar date")

var (
	isoDatePattern    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	importDatePattern = regexp.MustCompile(`^(\d{2})-(\d{2})-(\d{4})$`)
)

// ParseISODate accepts exactly YYYY-MM-DD and returns it unchanged when it
// names a real calendar day.
func ParseISODate(s string) (string, error) {
	m := isoDatePattern.FindStringSubmatch(s)
	if m == nil {
		return "", ErrInvalidDate
	}
	return canonicalDate(m[1], m[2], m[3])
}

// ParseImportDate accepts exactly MM-DD-YYYY, the layout used by uploaded
// expense and income files, and returns the canonical YYYY-MM-DD form.
func ParseImportDate(s string) (string, error) {
	m := importDatePattern.FindStringSubmatch(s)
	if m == nil {
		return "", ErrInvalidDate
	}
	return canonicalDate(m[3], m[1], m[2])
}

// DayUTC checks date with ParseISODate and returns its midnight UTC.
func DayUTC(date string) (time.Time, error) {
	canonical, err := ParseISODate(date)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(ISODateLayout, canonical, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// canonicalDate rebuilds the date at UTC midnight and requires every
// component to survive the round trip, so 02-30 or month 13 never normalize
// into a neighbouring day.
func canonicalDate(yearStr, monthStr, dayStr string) (string, error) {
	year, _ := strconv.Atoi(yearStr)
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", ErrInvalidDate
	}
	return t.Format(ISODateLayout), nil
}
