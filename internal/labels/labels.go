// Package labels imports manually produced event label CSVs and associates
// them with a run.
package labels

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/storage"
)

// ImportError is returned for any label parse or validation failure.
type ImportError struct {
	msg string
	err error
}

func (e *ImportError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *ImportError) Unwrap() error { return e.err }

func importErrorf(format string, args ...any) error {
	return &ImportError{msg: fmt.Sprintf(format, args...)}
}

// ImportCSV imports labels from a CSV file in a single transaction and
// returns the number of imported rows. Each row needs a run id: a non-blank
// run_id column value wins, otherwise defaultRunID applies; a row with
// neither fails the import. An empty file is an error, not a no-op.
func ImportCSV(ctx context.Context, store *storage.Store, path string, defaultRunID *int64, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	events, err := parseCSV(path, defaultRunID)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, importErrorf("no labels parsed from %s", path)
	}

	if err := store.InsertLabels(ctx, events); err != nil {
		return 0, &ImportError{msg: "inserting labels from " + path, err: err}
	}

	logger.Info("imported labels",
		slog.String("file", filepath.Base(path)),
		slog.String("labels", humanize.Comma(int64(len(events)))))
	return len(events), nil
}

func parseCSV(path string, defaultRunID *int64) (_ []lab.LabelEvent, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ImportError{msg: "opening label file", err: err}
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, importErrorf("missing header row in %s", path)
	}
	if err != nil {
		return nil, &ImportError{msg: "reading header of " + path, err: err}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns["event_type"]; !ok {
		return nil, importErrorf("label CSV %s requires event_type and event_time_s columns", path)
	}
	if _, ok := columns["event_time_s"]; !ok {
		return nil, importErrorf("label CSV %s requires event_type and event_time_s columns", path)
	}
	_, hasRunIDColumn := columns["run_id"]

	var events []lab.LabelEvent
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ImportError{msg: "reading " + path, err: err}
		}

		field := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}

		runID := defaultRunID
		if hasRunIDColumn {
			if rowRunID, err := toInt(field("run_id")); err != nil {
				return nil, err
			} else if rowRunID != nil {
				runID = rowRunID
			}
		}
		if runID == nil {
			return nil, importErrorf("run_id missing: supply a default run id or include a run_id column")
		}

		eventType, err := requiredString(field("event_type"), "event_type", path)
		if err != nil {
			return nil, err
		}
		eventTimeS, err := toFloat(field("event_time_s"), "event_time_s", path, false)
		if err != nil {
			return nil, err
		}
		volumeML, err := toFloat(field("volume_ml"), "volume_ml", path, true)
		if err != nil {
			return nil, err
		}
		distanceCM, err := toFloat(field("distance_cm"), "distance_cm", path, true)
		if err != nil {
			return nil, err
		}
		waterTempC, err := toFloat(field("water_temp_c"), "water_temp_c", path, true)
		if err != nil {
			return nil, err
		}
		confidence, err := toFloat(field("confidence"), "confidence", path, true)
		if err != nil {
			return nil, err
		}

		events = append(events, lab.LabelEvent{
			RunID:         *runID,
			EventType:     eventType,
			EventTimeS:    *eventTimeS,
			EventTS:       emptyToNil(field("event_ts")),
			VolumeML:      volumeML,
			LocationLabel: emptyToNil(field("location_label")),
			DistanceCM:    distanceCM,
			WaterTempC:    waterTempC,
			Confidence:    confidence,
			Source:        emptyToNil(field("source")),
			Notes:         emptyToNil(field("notes")),
		})
	}

	return events, nil
}

func requiredString(value, field, path string) (string, error) {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return "", importErrorf("empty %s value in %s", field, path)
	}
	return stripped, nil
}

func toFloat(value, field, path string, allowEmpty bool) (*float64, error) {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		if allowEmpty {
			return nil, nil
		}
		return nil, importErrorf("empty %s value in %s", field, path)
	}

	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return nil, importErrorf("invalid %s value %q in %s", field, value, path)
	}
	return &f, nil
}

func toInt(value string) (*int64, error) {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return nil, nil
	}

	n, err := strconv.ParseInt(stripped, 10, 64)
	if err != nil {
		return nil, importErrorf("invalid run_id value %q", value)
	}
	return &n, nil
}

func emptyToNil(value string) *string {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return nil
	}
	return &stripped
}
