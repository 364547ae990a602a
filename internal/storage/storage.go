// Package storage persists runs, readings, labels and registry entries in a
// SQLite database. It is the single writer of the testbench: every import
// or ingest operation is one transaction, and the schema enforces the
// registry/run linkage invariants.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lunalabs/testbench/internal/lab"
)

// Store handles database operations. Write and read connections are opened
// lazily and independently; the write connection runs in WAL mode so reads
// do not block behind the writer.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// Open returns a Store over the SQLite file at dbPath. No connection is
// made until the first operation.
func Open(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath,
			"_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath,
			"mode=ro&_foreign_keys=on"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// CreateRun inserts a run record and returns its id. Derived baseline
// columns are left NULL; they belong to the analysis layer.
func (s *Store) CreateRun(ctx context.Context, meta lab.RunMetadata) (runID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, insertRunSQL, runArgs(meta)...)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	runID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting run ID: %w", err)
	}
	return
}

// IngestRun persists one ingested log file as a single atomic unit: the run
// record, its readings, and the run_registry back-reference. A failure at
// any step rolls the whole file back.
func (s *Store) IngestRun(ctx context.Context, registryID int64, meta lab.RunMetadata, readings []lab.ReadingSample) (runID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, insertRunSQL, runArgs(meta)...)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	if runID, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("getting run ID: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, reading := range readings {
		_, err = stmt.ExecContext(ctx,
			runID,
			nullString(reading.Timestamp),
			reading.TElapsedS,
			nullString(reading.SensorID),
			nullFloat(reading.TempC),
			nullFloat(reading.RHPct),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting reading: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, attachRunSQL, runID, registryID); err != nil {
		return 0, fmt.Errorf("linking registry entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return runID, nil
}

// InsertLabels inserts all labels in a single transaction.
func (s *Store) InsertLabels(ctx context.Context, labels []lab.LabelEvent) (err error) {
	if len(labels) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertLabelSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, label := range labels {
		_, err = stmt.ExecContext(ctx,
			label.RunID,
			label.EventType,
			label.EventTimeS,
			nullString(label.EventTS),
			nullFloat(label.VolumeML),
			nullString(label.LocationLabel),
			nullFloat(label.DistanceCM),
			nullFloat(label.WaterTempC),
			nullFloat(label.Confidence),
			nullString(label.Source),
			nullString(label.Notes),
		)
		if err != nil {
			return fmt.Errorf("inserting label: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// UpsertRegistryEntries inserts registry entries in a single transaction,
// keyed by external_run_id: a conflicting key updates all mapped columns in
// place, so re-importing a sheet is idempotent. The run_id back-reference
// is never touched by an upsert. Returns the number of processed entries.
func (s *Store) UpsertRegistryEntries(ctx context.Context, entries []lab.RegistryEntry) (count int64, err error) {
	if len(entries) == 0 {
		return 0, nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, upsertRegistrySQL)
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	for _, entry := range entries {
		_, err = stmt.ExecContext(ctx,
			entry.ExternalRunID,
			nullString(entry.Status),
			nullString(entry.PlannedOrRecordedTS),
			nullString(entry.TestDevice),
			nullString(entry.SensorCap),
			nullString(entry.DiaperType),
			nullString(entry.TestProtocol),
			nullString(entry.FindingsComments),
			nullString(entry.TestResultRef),
			nullString(entry.LogFileRef),
			entry.SourceFile,
			entry.SourceRowNumber,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting registry entry %q: %w", entry.ExternalRunID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return int64(len(entries)), nil
}

// FindRegistryByLogFile returns the registry entry whose log_file_ref,
// trimmed, equals name, or nil when no entry matches.
func (s *Store) FindRegistryByLogFile(ctx context.Context, name string) (*RegistryRow, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, selectRegistryByLogFileSQL, name)
	entry, err := scanRegistryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying registry entry: %w", err)
	}
	return entry, nil
}

// RegistryEntry returns the registry entry with the given external run id,
// or nil when absent.
func (s *Store) RegistryEntry(ctx context.Context, externalRunID string) (*RegistryRow, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, selectRegistryByExternalSQL, externalRunID)
	entry, err := scanRegistryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying registry entry: %w", err)
	}
	return entry, nil
}

// Run returns a run record by id, or nil when absent.
func (s *Store) Run(ctx context.Context, runID int64) (*RunRow, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, err
	}

	var run RunRow
	err = db.QueryRowContext(ctx, selectRunSQL, runID).Scan(
		&run.RunID,
		&run.ExternalRunID,
		&run.FileName,
		&run.StartTS,
		&run.EndTS,
		&run.SamplingIntervalS,
		&run.DeviceID,
		&run.DiaperType,
		&run.SensorLayout,
		&run.Notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &run, nil
}

// CountReadings returns the number of readings stored for a run.
func (s *Store) CountReadings(ctx context.Context, runID int64) (int64, error) {
	return s.count(ctx, countReadingsSQL, runID)
}

// CountLabels returns the number of labels stored for a run.
func (s *Store) CountLabels(ctx context.Context, runID int64) (int64, error) {
	return s.count(ctx, countLabelsSQL, runID)
}

// CountRegistryEntries returns the total number of registry entries.
func (s *Store) CountRegistryEntries(ctx context.Context) (int64, error) {
	return s.count(ctx, countRegistrySQL)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := s.getReadDB()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}

// Close releases both database connections. It is safe to call Close more
// than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

func runArgs(meta lab.RunMetadata) []any {
	return []any{
		nullString(meta.ExternalRunID),
		nullString(meta.FileName),
		nullString(meta.StartTS),
		nullString(meta.EndTS),
		nullFloat(meta.SamplingIntervalS),
		meta.DeviceID,
		meta.DiaperType,
		meta.SensorLayout,
		nullString(meta.Notes),
	}
}

func scanRegistryRow(row *sql.Row) (*RegistryRow, error) {
	var entry RegistryRow
	err := row.Scan(
		&entry.RegistryID,
		&entry.ExternalRunID,
		&entry.Status,
		&entry.PlannedOrRecordedTS,
		&entry.TestDevice,
		&entry.SensorCap,
		&entry.DiaperType,
		&entry.TestProtocol,
		&entry.FindingsComments,
		&entry.TestResultRef,
		&entry.LogFileRef,
		&entry.SourceFile,
		&entry.SourceRowNumber,
		&entry.RunID,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
