// Package repository persists import audit records, imported expense and
// income rows, and the duplicates skipped while importing them.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
)

// Kind is the record family an import writes to.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// ParseKind validates a kind coming from outside the process.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindExpense, KindIncome:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Status is the outcome of a processed file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DuplicateReason says why a row was not inserted.
type DuplicateReason string

const (
	// ReasonCrossImport: the fingerprint was already persisted.
	ReasonCrossImport DuplicateReason = "cross_import"
	// ReasonWithinFile: an earlier row of the same file had the fingerprint.
	ReasonWithinFile DuplicateReason = "within_file"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrFingerprintConflict is returned when the unique fingerprint
	// constraint rejected a write, typically because a concurrent import
	// inserted the same row after the existence check.
	ErrFingerprintConflict = errors.New("fingerprint already exists")
)

// Import is the audit record written once per processed file.
type Import struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	Kind          Kind      `json:"kind"`
	UploadedAt    time.Time `json:"uploadedAt"`
	TotalRows     int       `json:"totalRows"`
	InsertedRows  int       `json:"insertedRows"`
	DuplicateRows int       `json:"duplicateRows"`
	Status        Status    `json:"status"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
}

// PendingDuplicate is a row classified as duplicate during ingestion.
type PendingDuplicate struct {
	Reason DuplicateReason
	Record validator.Record
}

// Duplicate is a stored duplicate row that can later be rescued.
type Duplicate struct {
	ID        uuid.UUID        `json:"id"`
	ImportID  uuid.UUID        `json:"importId"`
	Kind      Kind             `json:"kind"`
	Reason    DuplicateReason  `json:"reason"`
	Record    validator.Record `json:"record"`
	CreatedAt time.Time        `json:"createdAt"`
}

// DeleteResult reports what an import deletion removed.
type DeleteResult struct {
	Kind       Kind `json:"kind"`
	Records    int  `json:"records"`
	Duplicates int  `json:"duplicates"`
}

// ImportRepository defines data access for imports.
type ImportRepository interface {
	// ExistingFingerprints returns the subset of fingerprints already stored
	// for kind.
	ExistingFingerprints(ctx context.Context, kind Kind, fingerprints []string) (map[string]struct{}, error)
	// CreateImport writes the audit record, the new records and the
	// duplicates in one transaction.
	CreateImport(ctx context.Context, imp *Import, records []validator.Record, duplicates []PendingDuplicate) error
	// CreateFailedImport writes the audit record of a rejected file.
	CreateFailedImport(ctx context.Context, imp *Import) error
	GetImport(ctx context.Context, id uuid.UUID) (*Import, error)
	ListImports(ctx context.Context, kind Kind, limit, offset int) ([]Import, error)
	ListDuplicates(ctx context.Context, importID uuid.UUID) ([]Duplicate, error)
	// RescueDuplicates turns stored duplicates into real records with the
	// fingerprint returned by refingerprint, removes the duplicates and moves
	// the counts on their imports, all in one transaction.
	RescueDuplicates(ctx context.Context, kind Kind, ids []uuid.UUID, refingerprint func(string) string) (int, error)
	// DeleteImport removes an import with its records and duplicates.
	DeleteImport(ctx context.Context, id uuid.UUID) (DeleteResult, error)
}
