// Package registry imports run registry rows from external tracking sheets.
// Two source formats are supported: a CSV export and the packaged workbook
// the sheet tool saves natively. Both map their loosely named columns onto
// the canonical registry schema and upsert rows by external run id.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/storage"
	"github.com/lunalabs/testbench/internal/timeparse"
)

const (
	// DefaultSheetName is the workbook sheet imported when none is given.
	DefaultSheetName = "test runs"

	// DefaultTimezone is attached to naive and serial sheet timestamps.
	DefaultTimezone = "Europe/Berlin"
)

// ImportError is returned for any registry parse, mapping or format failure.
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

// Source produces registry rows from one backing sheet format. The CSV and
// workbook parsers are interchangeable behind it.
type Source interface {
	Rows() ([]lab.RegistryEntry, error)
}

// Sheet column headers, normalized, mapped to registry fields. Resolution
// happens after whitespace collapsing and lowercasing, so minor formatting
// drift in the sheet does not break the import.
var columnMap = map[string]string{
	"runid":               "external_run_id",
	"test status":         "status",
	"timestamp":           "planned_or_recorded_ts",
	"test device":         "test_device",
	"sensor cap":          "sensor_cap",
	"diaper type":         "diaper_type",
	"findings / comments": "findings_comments",
	"test protocol":       "test_protocol",
	"test result":         "test_result_ref",
	"log file":            "log_file_ref",
}

var requiredHeaders = []string{"runid", "test status", "log file"}

type importer struct {
	sheetName string
	defaultTZ string
	logger    *slog.Logger
}

// Option configures an Import call.
type Option func(*importer)

// WithSheetName selects the workbook sheet to import. Ignored for CSV.
func WithSheetName(name string) Option {
	return func(im *importer) {
		im.sheetName = name
	}
}

// WithDefaultTimezone sets the timezone attached to naive sheet timestamps.
func WithDefaultTimezone(name string) Option {
	return func(im *importer) {
		im.defaultTZ = name
	}
}

// WithLogger sets the logger used for import progress.
func WithLogger(logger *slog.Logger) Option {
	return func(im *importer) {
		im.logger = logger
	}
}

// Import parses the registry sheet at path and upserts its rows by external
// run id in a single transaction. Re-importing the same sheet updates
// existing rows in place. Returns the number of imported rows.
func Import(ctx context.Context, store *storage.Store, path string, opts ...Option) (int64, error) {
	im := importer{
		sheetName: DefaultSheetName,
		defaultTZ: DefaultTimezone,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&im)
	}

	var source Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		source = NewCSVSource(path, im.defaultTZ)
	case ".xlsx":
		source = NewWorkbookSource(path, im.sheetName, im.defaultTZ)
	default:
		return 0, importErrorf("unsupported registry format: %s", filepath.Ext(path))
	}

	entries, err := source.Rows()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, importErrorf("no registry rows found in %s", path)
	}

	count, err := store.UpsertRegistryEntries(ctx, entries)
	if err != nil {
		return 0, &ImportError{msg: fmt.Sprintf("upserting registry rows from %s", path), err: err}
	}

	im.logger.Info("imported run registry",
		slog.String("file", filepath.Base(path)),
		slog.Int64("rows", count))
	return count, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func normalizeHeader(value string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), " ")
}

func normalizeSheetName(value string) string {
	return normalizeHeader(strings.ReplaceAll(value, "_", " "))
}

func validateHeaders(normalized map[string]bool, path string) error {
	var missing []string
	for _, h := range requiredHeaders {
		if !normalized[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return importErrorf("missing required headers %v in %s", missing, path)
	}
	return nil
}

// mapRow maps one sheet row, keyed by normalized header, onto a registry
// entry. Rows with a blank run id are skipped (nil, nil): trailing blank
// sheet rows are expected, not an error.
func mapRow(row map[string]string, sourceFile string, rowNum int, loc *time.Location) *lab.RegistryEntry {
	externalRunID := cleanString(row["runid"])
	if externalRunID == nil {
		return nil
	}

	mapped := make(map[string]*string, len(columnMap))
	for header, target := range columnMap {
		mapped[target] = cleanString(row[header])
	}

	// Sheet timestamps are display fields: normalization failures keep
	// the raw string rather than failing the import.
	if ts := mapped["planned_or_recorded_ts"]; ts != nil {
		normalized, _ := timeparse.Normalize(*ts, loc)
		mapped["planned_or_recorded_ts"] = &normalized
	}

	return &lab.RegistryEntry{
		ExternalRunID:       *externalRunID,
		SourceFile:          filepath.Base(sourceFile),
		SourceRowNumber:     rowNum,
		Status:              mapped["status"],
		PlannedOrRecordedTS: mapped["planned_or_recorded_ts"],
		TestDevice:          mapped["test_device"],
		SensorCap:           mapped["sensor_cap"],
		DiaperType:          mapped["diaper_type"],
		TestProtocol:        mapped["test_protocol"],
		FindingsComments:    mapped["findings_comments"],
		TestResultRef:       mapped["test_result_ref"],
		LogFileRef:          mapped["log_file_ref"],
	}
}

func cleanString(value string) *string {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return nil
	}
	return &stripped
}
