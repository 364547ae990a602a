package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lunalabs/testbench/internal/lab"
)

// ReadingsOption configures a ReadingsReader with filtering criteria.
type ReadingsOption func(*ReadingsReader)

// WithMinElapsed excludes readings before the given elapsed time.
func WithMinElapsed(v float64) ReadingsOption {
	return func(r *ReadingsReader) {
		r.minElapsed = &v
	}
}

// WithMaxElapsed excludes readings after the given elapsed time.
func WithMaxElapsed(v float64) ReadingsOption {
	return func(r *ReadingsReader) {
		r.maxElapsed = &v
	}
}

// WithElapsedRange restricts the reader to [minElapsed, maxElapsed]. It is
// equivalent to applying WithMinElapsed and WithMaxElapsed together.
func WithElapsedRange(minElapsed, maxElapsed float64) ReadingsOption {
	return func(r *ReadingsReader) {
		r.minElapsed = &minElapsed
		r.maxElapsed = &maxElapsed
	}
}

// WithSensor restricts the reader to readings from one sensor.
func WithSensor(sensorID string) ReadingsOption {
	return func(r *ReadingsReader) {
		r.sensorID = &sensorID
	}
}

// ReadingsReader iterates a run's readings in elapsed-time order. It must
// be closed after use; each instance should only be used from a single
// goroutine.
type ReadingsReader struct {
	rows *sql.Rows

	minElapsed *float64
	maxElapsed *float64
	sensorID   *string

	current lab.ReadingSample
	err     error
}

// ReadReadings returns a reader over the readings of a run, sorted
// ascending by elapsed time, with optional filters applied.
func (s *Store) ReadReadings(ctx context.Context, runID int64, opts ...ReadingsOption) (*ReadingsReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	r := &ReadingsReader{}
	for _, opt := range opts {
		opt(r)
	}

	var sb strings.Builder
	sb.WriteString(`
SELECT
    timestamp,
    t_elapsed_s,
    sensor_id,
    temp_c,
    rh_pct
FROM readings
WHERE
    run_id = ?`)
	args := []any{runID}

	if r.minElapsed != nil {
		sb.WriteString(" AND t_elapsed_s >= ?")
		args = append(args, *r.minElapsed)
	}
	if r.maxElapsed != nil {
		sb.WriteString(" AND t_elapsed_s <= ?")
		args = append(args, *r.maxElapsed)
	}
	if r.sensorID != nil {
		sb.WriteString(" AND sensor_id = ?")
		args = append(args, *r.sensorID)
	}
	sb.WriteString(" ORDER BY t_elapsed_s")

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}

	r.rows = rows
	return r, nil
}

// Next advances the reader and reports whether another reading is
// available. When Next returns false, check Err to distinguish end of data
// from a failure.
func (r *ReadingsReader) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	var timestamp, sensorID sql.NullString
	var tempC, rhPct sql.NullFloat64
	var elapsed float64

	if err := r.rows.Scan(&timestamp, &elapsed, &sensorID, &tempC, &rhPct); err != nil {
		r.err = err
		return false
	}

	r.current = lab.ReadingSample{
		TElapsedS: elapsed,
		TempC:     floatPtr(tempC),
		RHPct:     floatPtr(rhPct),
		Timestamp: stringPtr(timestamp),
		SensorID:  stringPtr(sensorID),
	}
	return true
}

// Current returns the reading at the reader's position. It is only valid
// after Next returned true.
func (r *ReadingsReader) Current() lab.ReadingSample {
	return r.current
}

// Err returns any error that occurred during iteration.
func (r *ReadingsReader) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

// Close releases the database resources held by the reader.
func (r *ReadingsReader) Close() error {
	return r.rows.Close()
}
