package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/repository"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/expense-tracker/pkg/cache"
)

// partition splits validated rows into rows to insert and duplicates.
// Rows whose fingerprint is already stored are cross-import duplicates; a
// later row repeating an earlier row of the same file is a within-file
// duplicate. Order of the input is kept in both outputs.
func partition(rows []validator.Record, existing map[string]struct{}) ([]validator.Record, []repository.PendingDuplicate) {
	seen := make(map[string]struct{}, len(rows))
	insert := make([]validator.Record, 0, len(rows))
	var dups []repository.PendingDuplicate

	for _, r := range rows {
		if _, ok := existing[r.Fingerprint]; ok {
			dups = append(dups, repository.PendingDuplicate{Reason: repository.ReasonCrossImport, Record: r})
			continue
		}
		if _, ok := seen[r.Fingerprint]; ok {
			dups = append(dups, repository.PendingDuplicate{Reason: repository.ReasonWithinFile, Record: r})
			continue
		}
		seen[r.Fingerprint] = struct{}{}
		insert = append(insert, r)
	}
	return insert, dups
}

// existingFingerprints checks the stored fingerprints in batches so a large
// file never produces one unbounded query.
func (s *ImportService) existingFingerprints(ctx context.Context, kind repository.Kind, rows []validator.Record) (map[string]struct{}, error) {
	unique := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Fingerprint]; ok {
			continue
		}
		seen[r.Fingerprint] = struct{}{}
		unique = append(unique, r.Fingerprint)
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(unique); start += s.batchSize {
		end := min(start+s.batchSize, len(unique))
		found, err := s.repo.ExistingFingerprints(ctx, kind, unique[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to check existing fingerprints: %w", err)
		}
		for fp := range found {
			existing[fp] = struct{}{}
		}
	}
	return existing, nil
}

func (s *ImportService) ingest(ctx context.Context, kind repository.Kind, filename string, rows []validator.Record) (*FileResult, error) {
	existing, err := s.existingFingerprints(ctx, kind, rows)
	if err != nil {
		return nil, err
	}

	insert, dups := partition(rows, existing)

	imp := &repository.Import{
		ID:            uuid.New(),
		Filename:      filename,
		Kind:          kind,
		TotalRows:     len(rows),
		InsertedRows:  len(insert),
		DuplicateRows: len(dups),
		Status:        repository.StatusSucceeded,
	}
	if err := s.repo.CreateImport(ctx, imp, insert, dups); err != nil {
		return nil, fmt.Errorf("failed to create import: %w", err)
	}

	tags := recordTags(kind)
	if len(dups) > 0 {
		tags = append(tags, cache.TagDuplicates)
	}
	s.invalidator.Invalidate(ctx, tags...)

	id := imp.ID
	return &FileResult{
		Filename:      filename,
		Status:        upload.StatusSucceeded,
		ImportID:      &id,
		TotalRows:     imp.TotalRows,
		InsertedRows:  imp.InsertedRows,
		DuplicateRows: imp.DuplicateRows,
	}, nil
}
