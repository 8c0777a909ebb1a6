package parser

import (
	"fmt"
	"time"
)

// YearMode controls how a missing year is supplied for RFC3164 timestamps
// (spec §4.1, §6.3, §9).
type YearMode string

const (
	YearModeCurrent  YearMode = "current"
	YearModePrevious YearMode = "previous"
	// YearModeAuto chooses so the resulting instant is <= now and > now -
	// 6 months; when both the current and previous year satisfy that,
	// current is preferred (spec §4.1's sharpened definition, §9).
	YearModeAuto YearMode = "auto"
)

const bsdTimeLayout = "Jan _2 15:04:05"

// inferYear parses a "Mon _2 HH:MM:SS" timestamp (no year) against now
// using mode, returning a UTC instant.
func inferYear(raw string, now time.Time, mode YearMode) (time.Time, error) {
	switch mode {
	case YearModeCurrent:
		return parseWithYear(raw, now.Year(), now.Location())
	case YearModePrevious:
		return parseWithYear(raw, now.Year()-1, now.Location())
	case YearModeAuto, "":
		return inferYearAuto(raw, now)
	default:
		return time.Time{}, fmt.Errorf("unknown year mode %q", mode)
	}
}

func parseWithYear(raw string, year int, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(bsdTimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc).UTC(), nil
}

// inferYearAuto picks the year so the instant is <= now and > now - 6
// months, preferring the current year when both years satisfy that.
func inferYearAuto(raw string, now time.Time) (time.Time, error) {
	sixMonthsAgo := now.AddDate(0, -6, 0)

	current, err := parseWithYear(raw, now.Year(), now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if !current.After(now) && current.After(sixMonthsAgo) {
		return current, nil
	}

	previous, err := parseWithYear(raw, now.Year()-1, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if !previous.After(now) && previous.After(sixMonthsAgo) {
		return previous, nil
	}

	// Neither candidate falls in the preferred window (e.g. a timestamp
	// far in the past); fall back to whichever is not in the future.
	if !current.After(now) {
		return current, nil
	}
	return previous, nil
}
