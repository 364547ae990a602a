// Package devicelog parses raw sensor log files into ordered reading
// samples. Two formats exist in the field: a structured CSV export with
// declared columns, and a free-text device log where samples are buried in
// diagnostic output and extracted by pattern matching.
package devicelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/timeparse"
)

var tempHumidPattern = regexp.MustCompile(
	`temp_humid_sample:\s*` +
		`(\d{4})-(\d{1,2})-(\d{1,2})\s+` +
		`(\d{1,2}):(\d{1,2}):(\d{1,2}),\s*` +
		`temp:\s*([0-9.]+),\s*humid:\s*([0-9.]+)%`)

// Parse reads a raw log file and returns its readings sorted ascending by
// elapsed time. The format is selected by file extension: .csv for the
// structured export, .log for the free-text device log. Parse may return an
// empty slice; rejecting empty runs is the caller's concern.
func Parse(path, defaultTZ string) ([]lab.ReadingSample, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(path, defaultTZ)
	case ".log":
		return parseFreeText(path, defaultTZ)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", filepath.Ext(path))
	}
}

// SamplingInterval estimates the mean interval between consecutive readings
// in a sorted sequence. Only non-negative deltas contribute. With fewer than
// two readings, or no non-negative delta, there is no estimate and the
// result is nil.
func SamplingInterval(readings []lab.ReadingSample) *float64 {
	if len(readings) < 2 {
		return nil
	}

	var sum float64
	var n int
	for i := 0; i < len(readings)-1; i++ {
		delta := readings[i+1].TElapsedS - readings[i].TElapsedS
		if delta >= 0 {
			sum += delta
			n++
		}
	}
	if n == 0 {
		return nil
	}

	interval := sum / float64(n)
	return &interval
}

func parseCSV(path, defaultTZ string) (_ []lab.ReadingSample, err error) {
	loc, err := timeparse.Location(defaultTZ)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer closeWithError(f, &err)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header row in %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	var missing []string
	for _, name := range []string{"t_elapsed_s", "temp_c", "rh_pct"} {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required columns %v in %s", missing, path)
	}

	var readings []lab.ReadingSample
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}

		elapsed, err := toFloat(field("t_elapsed_s"), "t_elapsed_s", path, false)
		if err != nil {
			return nil, err
		}
		tempC, err := toFloat(field("temp_c"), "temp_c", path, true)
		if err != nil {
			return nil, err
		}
		rhPct, err := toFloat(field("rh_pct"), "rh_pct", path, true)
		if err != nil {
			return nil, err
		}

		var timestamp *string
		if raw := strings.TrimSpace(field("timestamp")); raw != "" {
			normalized, ok := timeparse.Normalize(raw, loc)
			if !ok {
				return nil, fmt.Errorf("invalid timestamp %q in %s", raw, path)
			}
			timestamp = &normalized
		}

		readings = append(readings, lab.ReadingSample{
			TElapsedS: *elapsed,
			TempC:     tempC,
			RHPct:     rhPct,
			Timestamp: timestamp,
			SensorID:  emptyToNil(field("sensor_id")),
		})
	}

	sortByElapsed(readings)
	return readings, nil
}

func parseFreeText(path, defaultTZ string) ([]lab.ReadingSample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}
	lines := strings.Split(string(raw), "\n")

	loc, err := timeparse.DetectLocation(lines, defaultTZ)
	if err != nil {
		return nil, err
	}

	var readings []lab.ReadingSample
	var base time.Time

	for _, line := range lines {
		m := tempHumidPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		sampleTime := time.Date(
			atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]),
			atoi(m[4]), atoi(m[5]), atoi(m[6]), 0, loc)
		if base.IsZero() {
			base = sampleTime
		}

		tempC, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid temp value %q in %s", m[7], path)
		}
		rhPct, err := strconv.ParseFloat(m[8], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid humid value %q in %s", m[8], path)
		}

		timestamp := timeparse.Format(sampleTime)
		readings = append(readings, lab.ReadingSample{
			TElapsedS: sampleTime.Sub(base).Seconds(),
			TempC:     &tempC,
			RHPct:     &rhPct,
			Timestamp: &timestamp,
		})
	}

	sortByElapsed(readings)
	return readings, nil
}

func sortByElapsed(readings []lab.ReadingSample) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].TElapsedS < readings[j].TElapsedS
	})
}

func toFloat(value, field, path string, allowEmpty bool) (*float64, error) {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		if allowEmpty {
			return nil, nil
		}
		return nil, fmt.Errorf("empty %s value in %s", field, path)
	}

	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q in %s", field, value, path)
	}
	return &f, nil
}

func emptyToNil(value string) *string {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return nil
	}
	return &stripped
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// atoi is safe on regex-captured digit groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
