// Package timeparse normalizes the timestamp representations found in lab
// artifacts: spreadsheet serial numbers, bare date/time strings, ISO-8601
// values with or without an offset, and device-embedded timezone hints.
package timeparse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spreadsheet serial dates count days since this epoch; fractional days
// encode time of day.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Explicit layouts tried before general ISO-8601 parsing, first match wins.
var explicitLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var isoNaiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var isoOffsetLayouts = []string{
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05-07",
	"2006-01-02T15:04-07:00",
	"2006-01-02 15:04:05-07:00",
}

var (
	tzParenPattern = regexp.MustCompile(`tz\(([+-]?\d+)\)`)
	tzCCLKPattern  = regexp.MustCompile(`\+CCLK:\s*"\d{2}/\d{2}/\d{2},\d{2}:\d{2}:\d{2}([+-]\d{2})"`)
)

// Location resolves an IANA timezone name via the system timezone database.
func Location(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// Normalize converts a raw timestamp string into a canonical offset-aware
// instant string. Values that already carry an offset keep it; naive values
// are attached to loc. The second return reports whether value was parsed:
// on failure Normalize returns value unchanged and false, leaving the
// caller to decide between keeping the raw string (sheet display fields)
// and failing hard (log ingest).
func Normalize(value string, loc *time.Location) (string, bool) {
	if value == "" {
		return "", true
	}

	// Spreadsheet serial date. The threshold filters out small numerics
	// that are more likely row counters than dates.
	if numeric, err := strconv.ParseFloat(value, 64); err == nil && numeric > 1000 {
		return Format(fromSerial(numeric, loc)), true
	}

	for _, layout := range explicitLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return Format(t), true
		}
	}

	iso := value
	if strings.HasSuffix(iso, "Z") {
		iso = strings.TrimSuffix(iso, "Z") + "+00:00"
	}
	for _, layout := range isoOffsetLayouts {
		if t, err := time.Parse(layout, iso); err == nil {
			return Format(t), true
		}
	}
	for _, layout := range isoNaiveLayouts {
		if t, err := time.ParseInLocation(layout, iso, loc); err == nil {
			return Format(t), true
		}
	}

	return value, false
}

// DetectLocation scans raw device log lines for a timezone hint: either a
// tz(N) marker or a modem +CCLK timestamp, both carrying the offset in
// quarter hours. The first hint found anywhere in the file wins; without
// one the fallback IANA name is resolved.
func DetectLocation(lines []string, fallback string) (*time.Location, error) {
	for _, line := range lines {
		if m := tzParenPattern.FindStringSubmatch(line); m != nil {
			return quarterHourZone(m[1])
		}
		if m := tzCCLKPattern.FindStringSubmatch(line); m != nil {
			return quarterHourZone(m[1])
		}
	}
	return Location(fallback)
}

// Format renders t the way the rest of the pipeline stores instants:
// RFC 3339 with a numeric offset, microseconds only when present.
func Format(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}

// fromSerial interprets a spreadsheet serial value as naive wall-clock time
// and attaches loc without shifting the clock, matching how sheet tools
// display such cells.
func fromSerial(serial float64, loc *time.Location) time.Time {
	micros := math.Round(serial * 24 * 60 * 60 * 1e6)
	naive := serialEpoch.Add(time.Duration(micros) * time.Microsecond)
	return time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), loc)
}

func quarterHourZone(quarters string) (*time.Location, error) {
	n, err := strconv.Atoi(quarters)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone hint %q: %w", quarters, err)
	}
	offset := n * 15 * 60
	minutes := offset / 60
	name := fmt.Sprintf("UTC%+03d:%02d", minutes/60, abs(minutes%60))
	return time.FixedZone(name, offset), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
