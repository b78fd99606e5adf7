// Package parser turns uploaded CSV text into typed rows for a fixed set of
// canonical header shapes. It uses encoding/csv for tokenizing and gocsv to
// bind rows to structs once the header passed the schema allow-list.
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
)

// FileField is the field name used for errors about the file as a whole.
const FileField = "file"

// FieldError is a user facing validation problem. Row is the 1-based line of
// the uploaded file (the header is row 1) or 0 when the problem is not tied
// to a single row.
type FieldError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Message)
}

// FileError builds a FieldError about the whole file.
func FileError(format string, args ...any) *FieldError {
	return &FieldError{Field: FileField, Message: fmt.Sprintf(format, args...)}
}

// Row is a bound CSV row together with the file line it came from.
type Row[T any] struct {
	Line  int
	Value T
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText strips a UTF-8 byte order mark and rejects anything that is not
// valid UTF-8.
func DecodeText(data []byte) (string, *FieldError) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", FileError("File must be valid UTF-8 text")
	}
	return string(data), nil
}

// Parse tokenizes text, checks its header against schema and binds every data
// row to T. The first structural problem found is returned.
func Parse[T any](text string, schema Schema) ([]Row[T], *FieldError) {
	if strings.TrimSpace(text) == "" {
		return nil, FileError("File is empty")
	}

	records, lines, ferr := tokenize(text)
	if ferr != nil {
		return nil, ferr
	}
	if len(records) == 0 {
		return nil, FileError("File is empty")
	}

	header := records[0]
	for i := 1; i < len(records); i++ {
		if len(records[i]) != len(header) {
			return nil, &FieldError{
				Row:     lines[i],
				Field:   FileField,
				Message: fmt.Sprintf("Row has %d columns but the header has %d", len(records[i]), len(header)),
			}
		}
	}

	folded := make([]string, len(header))
	for i, name := range header {
		folded[i] = FoldHeader(name)
	}
	if ferr := schema.check(folded, lines[0]); ferr != nil {
		return nil, ferr
	}

	if len(records) == 1 {
		return nil, FileError("File contains no data rows")
	}

	var values []T
	src := &recordSource{records: append([][]string{folded}, records[1:]...)}
	if err := gocsv.UnmarshalCSV(src, &values); err != nil {
		return nil, FileError("File could not be read: %v", err)
	}

	rows := make([]Row[T], len(values))
	for i := range values {
		rows[i] = Row[T]{Line: lines[i+1], Value: values[i]}
	}
	return rows, nil
}

// FoldHeader lower-cases a header name and removes all whitespace, so
// "Market Value" and "marketValue" name the same column.
func FoldHeader(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}

// tokenize splits text into trimmed records, dropping lines whose cells are
// all blank, and returns the physical line each kept record starts on.
// Quotes inside unquoted cells are kept as text; a quoted cell left open at
// the end of the file is still an error.
func tokenize(text string) ([][]string, []int, *FieldError) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		records [][]string
		lines   []int
		// start of the last cell read, the only one that can run to EOF
		lastRecordLine, lastCellLine, lastCellCol int
	)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			if lastCellLine > 0 && !quotedCellClosed(text[lineOffset(text, lastCellLine)+lastCellCol-1:]) {
				return nil, nil, &FieldError{
					Row:     lastRecordLine,
					Field:   FileField,
					Message: fmt.Sprintf("Malformed CSV: %v", csv.ErrQuote),
				}
			}
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, nil, &FieldError{
					Row:     perr.StartLine,
					Field:   FileField,
					Message: fmt.Sprintf("Malformed CSV: %v", perr.Err),
				}
			}
			return nil, nil, FileError("Malformed CSV: %v", err)
		}

		lastRecordLine, _ = r.FieldPos(0)
		lastCellLine, lastCellCol = r.FieldPos(len(record) - 1)

		blank := true
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
			if record[i] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}

		line, _ := r.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}
	return records, lines, nil
}

// quotedCellClosed reports whether raw, the text from the start of a cell to
// the end of the file, is unquoted or ends in the closing quote of its cell.
func quotedCellClosed(raw string) bool {
	raw = strings.TrimRight(raw, "\r\n")
	if !strings.HasPrefix(raw, `"`) {
		return true
	}
	body := raw[1:]
	run := len(body) - len(strings.TrimRight(body, `"`))
	// An odd run ends with the closing quote; the rest are escaped pairs.
	return run%2 == 1
}

// lineOffset returns the byte offset where the 1-based physical line starts.
func lineOffset(text string, line int) int {
	off := 0
	for i := 1; i < line; i++ {
		j := strings.IndexByte(text[off:], '\n')
		if j < 0 {
			return len(text)
		}
		off += j + 1
	}
	return off
}

// recordSource feeds already tokenized records to gocsv.
type recordSource struct {
	records [][]string
	pos     int
}

func (s *recordSource) Read() ([]string, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *recordSource) ReadAll() ([][]string, error) {
	rest := s.records[s.pos:]
	s.pos = len(s.records)
	return rest, nil
}
