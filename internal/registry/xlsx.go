package registry

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/lunalabs/testbench/internal/lab"
	"github.com/lunalabs/testbench/internal/timeparse"
)

// WorkbookSource reads registry rows straight out of a packaged workbook.
// The archive is walked at the zip/XML level on purpose: the inner format
// is stable and a full spreadsheet dependency buys nothing here.
type WorkbookSource struct {
	path      string
	sheetName string
	defaultTZ string
}

// NewWorkbookSource returns a Source over one sheet of a packaged workbook.
func NewWorkbookSource(path, sheetName, defaultTZ string) *WorkbookSource {
	return &WorkbookSource{path: path, sheetName: sheetName, defaultTZ: defaultTZ}
}

type workbookXML struct {
	Sheets []struct {
		Name  string `xml:"name,attr"`
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type sharedStringsXML struct {
	Items []struct {
		Text string   `xml:"t"`
		Runs []string `xml:"r>t"`
	} `xml:"si"`
}

type worksheetXML struct {
	Rows []struct {
		Cells []worksheetCell `xml:"c"`
	} `xml:"sheetData>row"`
}

type worksheetCell struct {
	Ref    string  `xml:"r,attr"`
	Type   string  `xml:"t,attr"`
	Value  *string `xml:"v"`
	Inline *struct {
		Text string `xml:"t"`
	} `xml:"is"`
}

// Rows implements Source.
func (s *WorkbookSource) Rows() (_ []lab.RegistryEntry, err error) {
	loc, err := timeparse.Location(s.defaultTZ)
	if err != nil {
		return nil, &ImportError{msg: "resolving default timezone", err: err}
	}

	zr, err := zip.OpenReader(s.path)
	if err != nil {
		return nil, &ImportError{msg: "opening workbook " + s.path, err: err}
	}
	defer func() {
		if cErr := zr.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	var workbook workbookXML
	if err := readZipXML(&zr.Reader, "xl/workbook.xml", &workbook); err != nil {
		return nil, err
	}

	var rels relationshipsXML
	if err := readZipXML(&zr.Reader, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return nil, err
	}
	relTargets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		relTargets[rel.ID] = rel.Target
	}

	shared, err := loadSharedStrings(&zr.Reader)
	if err != nil {
		return nil, err
	}

	// Sheet names compare with underscores treated as spaces, so
	// "test_runs" and "Test Runs" both match "test runs".
	var sheetPart string
	wanted := normalizeSheetName(s.sheetName)
	for _, sheet := range workbook.Sheets {
		if normalizeSheetName(sheet.Name) != wanted {
			continue
		}
		target, ok := relTargets[sheet.RelID]
		if !ok {
			return nil, importErrorf("workbook relationship %q not found in %s", sheet.RelID, s.path)
		}
		if !strings.HasPrefix(target, "xl/") {
			target = "xl/" + target
		}
		sheetPart = target
		break
	}
	if sheetPart == "" {
		return nil, importErrorf("sheet %q not found in %s", s.sheetName, s.path)
	}

	var ws worksheetXML
	if err := readZipXML(&zr.Reader, sheetPart, &ws); err != nil {
		return nil, err
	}

	// Cells are addressed by reference, which preserves gaps left by
	// missing cells within a row.
	rowValues := make([][]string, 0, len(ws.Rows))
	for _, row := range ws.Rows {
		cells := make(map[int]string, len(row.Cells))
		maxCol := 0
		for _, cell := range row.Cells {
			if cell.Ref == "" {
				continue
			}
			col := columnIndex(cell.Ref)
			if col > maxCol {
				maxCol = col
			}
			cells[col] = cellValue(cell, shared)
		}

		values := make([]string, maxCol)
		for col, value := range cells {
			values[col-1] = value
		}
		rowValues = append(rowValues, values)
	}

	if len(rowValues) == 0 {
		return nil, nil
	}

	headers := rowValues[0]
	normalized := make([]string, len(headers))
	present := make(map[string]bool, len(headers))
	for i, name := range headers {
		if name == "" {
			continue
		}
		normalized[i] = normalizeHeader(name)
		present[normalized[i]] = true
	}
	if err := validateHeaders(present, s.path); err != nil {
		return nil, err
	}

	var entries []lab.RegistryEntry
	for i, values := range rowValues[1:] {
		row := make(map[string]string, len(normalized))
		for pos, name := range normalized {
			if name == "" {
				continue
			}
			if pos < len(values) {
				row[name] = values[pos]
			}
		}

		if entry := mapRow(row, s.path, i+2, loc); entry != nil {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func loadSharedStrings(zr *zip.Reader) ([]string, error) {
	var sst sharedStringsXML
	if err := readZipXML(zr, "xl/sharedStrings.xml", &sst); err != nil {
		// The shared string table is optional.
		var missing *missingPartError
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, err
	}

	values := make([]string, len(sst.Items))
	for i, item := range sst.Items {
		values[i] = item.Text + strings.Join(item.Runs, "")
	}
	return values, nil
}

func cellValue(cell worksheetCell, shared []string) string {
	if cell.Value == nil {
		if cell.Inline != nil {
			return cell.Inline.Text
		}
		return ""
	}

	raw := *cell.Value
	if cell.Type == "s" {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 && idx < len(shared) {
			return shared[idx]
		}
	}
	return raw
}

// columnIndex converts the letter part of a cell reference like "BC12" to a
// 1-based column number ('A' = 1, base 26).
func columnIndex(ref string) int {
	idx := 0
	for _, r := range ref {
		if !unicode.IsLetter(r) {
			continue
		}
		idx = idx*26 + int(unicode.ToUpper(r)-'A') + 1
	}
	return idx
}

type missingPartError struct {
	name string
}

func (e *missingPartError) Error() string {
	return fmt.Sprintf("workbook part %q not found", e.name)
}

func readZipXML(zr *zip.Reader, name string, v any) error {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return &ImportError{msg: "opening workbook part " + name, err: err}
		}
		data, err := io.ReadAll(rc)
		if cErr := rc.Close(); err == nil {
			err = cErr
		}
		if err != nil {
			return &ImportError{msg: "reading workbook part " + name, err: err}
		}

		if err := xml.Unmarshal(data, v); err != nil {
			return &ImportError{msg: "parsing workbook part " + name, err: err}
		}
		return nil
	}
	return &ImportError{msg: "reading workbook", err: &missingPartError{name: name}}
}
