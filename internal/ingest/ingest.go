// Package ingest reconciles raw sensor log files against the run registry
// and persists them as runs. Each file must match exactly one registry
// entry, by log file name, that no run has claimed yet.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/lunalabs/testbench/internal/devicelog"
	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/storage"
)

// DefaultTimezone is assumed for logs that carry no timezone of their own.
const DefaultTimezone = "Europe/Berlin"

// Error is returned for any ingestion failure: parsing, validation, or
// reconciliation against the registry.
type Error struct {
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func errorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Params carries the run attributes shared by all files of one ingest call.
type Params struct {
	DeviceID     string
	DiaperType   string
	SensorLayout string

	RunNotes  *string
	DefaultTZ string       // defaults to DefaultTimezone when empty
	Logger    *slog.Logger // defaults to a discard logger
}

// Logs ingests the given log files in order and returns the created run
// ids. Files are processed sequentially, one transaction per file: the
// first failure aborts the whole call without surfacing earlier run ids,
// but runs already committed for earlier files remain in the database.
func Logs(ctx context.Context, store *storage.Store, paths []string, params Params) ([]int64, error) {
	if params.DefaultTZ == "" {
		params.DefaultTZ = DefaultTimezone
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var runIDs []int64
	for _, path := range paths {
		runID, readings, err := ingestFile(ctx, store, path, params)
		if err != nil {
			return nil, err
		}

		logger.Info("ingested log file",
			slog.String("file", filepath.Base(path)),
			slog.Int64("runID", runID),
			slog.String("readings", humanize.Comma(int64(readings))))
		runIDs = append(runIDs, runID)
	}

	return runIDs, nil
}

func ingestFile(ctx context.Context, store *storage.Store, path string, params Params) (int64, int, error) {
	name := filepath.Base(path)

	entry, err := store.FindRegistryByLogFile(ctx, name)
	if err != nil {
		return 0, 0, &Error{msg: "looking up registry entry for " + name, err: err}
	}
	if entry == nil {
		return 0, 0, errorf("no run_registry entry matches log file %q; import/update the registry source first", name)
	}
	if entry.RunID.Valid {
		return 0, 0, errorf("run_registry entry for %q is already linked to run_id=%d", name, entry.RunID.Int64)
	}

	readings, err := devicelog.Parse(path, params.DefaultTZ)
	if err != nil {
		return 0, 0, &Error{msg: "parsing " + path, err: err}
	}
	if len(readings) == 0 {
		return 0, 0, errorf("no readings parsed from %s", path)
	}

	meta := lab.RunMetadata{
		DeviceID:          params.DeviceID,
		DiaperType:        params.DiaperType,
		SensorLayout:      params.SensorLayout,
		ExternalRunID:     &entry.ExternalRunID,
		FileName:          &name,
		Notes:             params.RunNotes,
		StartTS:           readings[0].Timestamp,
		EndTS:             readings[len(readings)-1].Timestamp,
		SamplingIntervalS: devicelog.SamplingInterval(readings),
	}

	runID, err := store.IngestRun(ctx, entry.RegistryID, meta, readings)
	if err != nil {
		return 0, 0, &Error{msg: "persisting run for " + name, err: err}
	}
	return runID, len(readings), nil
}
