// Package lab defines the domain records of the testbench: runs, readings,
// labels and run registry entries. All values are immutable once constructed;
// mutation happens only through the storage layer.
package lab

// RunMetadata describes one ingested test run. It is created by the ingest
// orchestrator after parsing a log file and persisted once; derived baseline
// fields are attached later by the analysis layer and are not part of this
// record.
type RunMetadata struct {
	DeviceID     string // Device identifier (e.g. "LUNA-001")
	DiaperType   string // Diaper type under test
	SensorLayout string // Sensor placement layout

	ExternalRunID     *string  // Registry run id this run was reconciled against
	FileName          *string  // Base name of the ingested log file
	Notes             *string  // Free-form run notes
	StartTS           *string  // Timestamp of the first reading, if readings carry timestamps
	EndTS             *string  // Timestamp of the last reading
	SamplingIntervalS *float64 // Mean interval between consecutive readings in seconds
}

// ReadingSample is a single environmental sample within a run. Sequences of
// samples are sorted ascending by TElapsedS before persistence.
type ReadingSample struct {
	TElapsedS float64  // Seconds since the first sample of the run
	TempC     *float64 // Temperature in °C
	RHPct     *float64 // Relative humidity in percent
	Timestamp *string  // Offset-aware instant, when the source log carries one
	SensorID  *string  // Originating sensor, when the source log names one
}

// LabelEvent is a discrete labeled event (e.g. a wetting event) tied to a
// run's timeline. Many labels may reference one run.
type LabelEvent struct {
	EventType  string  // Kind of event (required)
	EventTimeS float64 // Event position in seconds since run start (required)
	RunID      int64   // Run the event belongs to

	EventTS       *string  // Absolute event timestamp, if recorded
	VolumeML      *float64 // Applied volume in ml
	LocationLabel *string  // Where on the device the event happened
	DistanceCM    *float64 // Distance in cm
	WaterTempC    *float64 // Water temperature in °C
	Confidence    *float64 // Annotator confidence, nominally 0..1
	Source        *string  // Who/what produced the label
	Notes         *string  // Free-form notes
}

// RegistryEntry is one row of the external run tracking sheet. Entries are
// upserted by ExternalRunID and reconciled against actual runs via
// LogFileRef; at most one run may ever be linked to an entry.
type RegistryEntry struct {
	ExternalRunID   string // Natural key from the tracking sheet (required)
	SourceFile      string // File the row was imported from
	SourceRowNumber int    // 1-based row number in the source, header row is 1

	Status              *string
	PlannedOrRecordedTS *string
	TestDevice          *string
	SensorCap           *string
	DiaperType          *string
	TestProtocol        *string
	FindingsComments    *string
	TestResultRef       *string
	LogFileRef          *string
}
