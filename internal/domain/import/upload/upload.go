// Package upload runs one uploaded file through shape checks, decoding,
// structural parsing and row validation, collecting every row error.
package upload

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
)

// DefaultMaxFileBytes is the largest accepted upload (2 MiB).
const DefaultMaxFileBytes = 2 << 20

// Status is the outcome of processing one file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// File is one uploaded file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Limits bounds what an upload may look like.
type Limits struct {
	MaxFileBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxFileBytes: DefaultMaxFileBytes}
}

// Outcome is the result of processing one file. A failed outcome carries
// every error found and no rows.
type Outcome[R any] struct {
	Status    Status
	Rows      []R
	TotalRows int
	Errors    []parser.FieldError
}

// FirstError returns the message of the first error, or "".
func (o Outcome[R]) FirstError() string {
	if len(o.Errors) == 0 {
		return ""
	}
	return o.Errors[0].Error()
}

// Process checks the file shape, decodes it as UTF-8, parses it against
// schema and validates every row. Structural problems stop processing; row
// problems are all collected.
func Process[T, R any](limits Limits, f File, schema parser.Schema, validate func(parser.Row[T]) (R, *parser.FieldError)) Outcome[R] {
	if ferr := CheckFile(limits, f); ferr != nil {
		return failed[R](0, *ferr)
	}

	text, ferr := parser.DecodeText(f.Data)
	if ferr != nil {
		return failed[R](0, *ferr)
	}

	rows, ferr := parser.Parse[T](text, schema)
	if ferr != nil {
		return failed[R](0, *ferr)
	}

	records := make([]R, 0, len(rows))
	var errs []parser.FieldError
	for _, row := range rows {
		rec, ferr := validate(row)
		if ferr != nil {
			errs = append(errs, *ferr)
			continue
		}
		records = append(records, rec)
	}

	if len(errs) > 0 {
		return Outcome[R]{Status: StatusFailed, TotalRows: len(rows), Errors: errs}
	}
	return Outcome[R]{Status: StatusSucceeded, Rows: records, TotalRows: len(rows)}
}

func failed[R any](total int, errs ...parser.FieldError) Outcome[R] {
	return Outcome[R]{Status: StatusFailed, TotalRows: total, Errors: errs}
}

var csvContentTypes = map[string]bool{
	"text/csv":                    true,
	"application/csv":             true,
	"text/comma-separated-values": true,
	"text/plain":                  true,
	"application/vnd.ms-excel":    true,
}

// CheckFile validates size and type before any byte is decoded.
func CheckFile(limits Limits, f File) *parser.FieldError {
	if len(f.Data) == 0 {
		return parser.FileError("File is empty")
	}

	max := limits.MaxFileBytes
	if max <= 0 {
		max = DefaultMaxFileBytes
	}
	if len(f.Data) > max {
		return parser.FileError("File is larger than the %s limit", humanBytes(max))
	}

	if strings.EqualFold(filepath.Ext(f.Name), ".csv") {
		return nil
	}
	if mediaType, _, err := mime.ParseMediaType(f.ContentType); err == nil && csvContentTypes[strings.ToLower(mediaType)] {
		return nil
	}
	return parser.FileError("File must be a .csv file")
}

func humanBytes(n int) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
	)
	switch {
	case n%mib == 0:
		return fmt.Sprintf("%d MiB", n/mib)
	case n%kib == 0:
		return fmt.Sprintf("%d KiB", n/kib)
	}
	return fmt.Sprintf("%d bytes", n)
}
