package registry

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/timeparse"
)

// CSVSource reads registry rows from a CSV export of the tracking sheet.
type CSVSource struct {
	path      string
	defaultTZ string
}

// NewCSVSource returns a Source over a registry CSV export.
func NewCSVSource(path, defaultTZ string) *CSVSource {
	return &CSVSource{path: path, defaultTZ: defaultTZ}
}

// Rows implements Source.
func (s *CSVSource) Rows() (_ []lab.RegistryEntry, err error) {
	loc, err := timeparse.Location(s.defaultTZ)
	if err != nil {
		return nil, &ImportError{msg: "resolving default timezone", err: err}
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, &ImportError{msg: "opening registry file", err: err}
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
		return nil, importErrorf("missing header row in %s", s.path)
	}
	if err != nil {
		return nil, &ImportError{msg: "reading header of " + s.path, err: err}
	}

	normalized := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, name := range header {
		normalized[i] = normalizeHeader(name)
		present[normalized[i]] = true
	}
	if err := validateHeaders(present, s.path); err != nil {
		return nil, err
	}

	var entries []lab.RegistryEntry

	// The header row is row 1; data rows are numbered from 2 for
	// provenance.
	for rowNum := 2; ; rowNum++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ImportError{msg: "reading " + s.path, err: err}
		}

		row := make(map[string]string, len(normalized))
		for i, name := range normalized {
			if i < len(record) {
				row[name] = record[i]
			}
		}

		if entry := mapRow(row, s.path, rowNum, loc); entry != nil {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}
