package core

import (
	"encoding/csv"
	"errors"
	"io"
	"slices"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxRows is the data-row ceiling applied when none is configured.
const DefaultMaxRows = 10000

const problemColumnCount = "column count does not match header"

// NewInputReader strips a leading byte-order mark and replaces invalid UTF-8
// with U+FFFD. A UTF-16 BOM switches decoding to UTF-16, which is what
// Excel's "Unicode text" export produces.
func NewInputReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// ParseCSV reads an uploaded file into canonical rows.
//
// The first record is the header. Rows whose column count differs from the
// header are kept with Problem set so the caller can decide how to report
// them. More than maxRows data records fails with *RowLimitError before the
// rest of the file is read. A file without a header fails with *FormatError.
func ParseCSV(r io.Reader, maxRows int) (*ParsedFile, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	reader := csv.NewReader(NewInputReader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &FormatError{Line: 1, Reason: "file is empty or has no header row"}
	}
	if err != nil {
		return nil, &FormatError{Line: 1, Reason: "unreadable header row", Err: err}
	}

	parsed := &ParsedFile{Header: CanonicalHeader(header)}
	if isBlankRecord(header) {
		return nil, &FormatError{Line: 1, Reason: "header row is blank"}
	}
	if !slices.Contains(parsed.Header, FieldEmail) {
		return nil, &FormatError{Line: 1, Reason: "header has no email column"}
	}

	for i := 0; ; i++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line := i + 2
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, &FormatError{Line: line, Reason: "malformed CSV record", Err: err}
		}
		if len(parsed.Rows) >= maxRows {
			return nil, &RowLimitError{Limit: maxRows}
		}

		row := ImportRow{Line: line}
		if len(record) != len(parsed.Header) {
			row.Problem = problemColumnCount
		} else {
			row.Fields = mapRecord(parsed.Header, record)
		}
		parsed.Rows = append(parsed.Rows, row)
	}

	return parsed, nil
}

// mapRecord builds the canonical field map for one record. Empty values are
// omitted; for repeated columns the first non-empty value wins.
func mapRecord(header, record []string) map[string]string {
	fields := make(map[string]string, len(header))
	for i, key := range header {
		v := Normalize(record[i])
		if key == "" || v == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = v
		}
	}
	return fields
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if Normalize(v) != "" {
			return false
		}
	}
	return true
}
