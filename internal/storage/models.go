package storage

import "database/sql"

// RunRow is a run record as stored, with NULLs preserved.
type RunRow struct {
	RunID             int64
	ExternalRunID     sql.NullString
	FileName          sql.NullString
	StartTS           sql.NullString
	EndTS             sql.NullString
	SamplingIntervalS sql.NullFloat64
	DeviceID          string
	DiaperType        string
	SensorLayout      string
	Notes             sql.NullString
}

// RegistryRow is a run registry entry as stored. RunID is NULL until an
// ingest links the entry to an actual run.
type RegistryRow struct {
	RegistryID          int64
	ExternalRunID       string
	Status              sql.NullString
	PlannedOrRecordedTS sql.NullString
	TestDevice          sql.NullString
	SensorCap           sql.NullString
	DiaperType          sql.NullString
	TestProtocol        sql.NullString
	FindingsComments    sql.NullString
	TestResultRef       sql.NullString
	LogFileRef          sql.NullString
	SourceFile          sql.NullString
	SourceRowNumber     sql.NullInt64
	RunID               sql.NullInt64
}
