// Package service provides the import orchestration logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/repository"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/expense-tracker/pkg/cache"
	"github.com/FACorreiaa/expense-tracker/pkg/metrics"
)

const (
	importBatchSize  = 500
	maxFilesPerBatch = 10

	defaultListLimit = 50
	maxListLimit     = 200
)

// GenericFailureMessage is shown when an import could not be stored.
const GenericFailureMessage = "The import could not be saved. Please try again."

var (
	ErrImportNotFound     = errors.New("import not found")
	ErrDuplicatesNotFound = errors.New("no matching duplicate records")
	ErrNoFiles            = errors.New("no files uploaded")
	ErrTooManyFiles       = errors.New("too many files uploaded")
	ErrUnknownUploadKind  = errors.New("unknown upload kind")
)

// UploadKind is the header shape of an uploaded file.
type UploadKind string

const (
	UploadExpenses     UploadKind = "expenses"
	UploadTransactions UploadKind = "transactions"
	UploadIncome       UploadKind = "income"
)

// ParseUploadKind validates an upload kind coming from a request.
func ParseUploadKind(s string) (UploadKind, error) {
	switch k := UploadKind(s); k {
	case UploadExpenses, UploadTransactions, UploadIncome:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUploadKind, s)
}

// RecordKind is the record family the upload is stored as.
func (k UploadKind) RecordKind() repository.Kind {
	if k == UploadIncome {
		return repository.KindIncome
	}
	return repository.KindExpense
}

// FileResult is the outcome of importing one file.
type FileResult struct {
	Filename      string              `json:"filename"`
	Status        upload.Status       `json:"status"`
	ImportID      *uuid.UUID          `json:"importId,omitempty"`
	TotalRows     int                 `json:"totalRows"`
	InsertedRows  int                 `json:"insertedRows"`
	DuplicateRows int                 `json:"duplicateRows"`
	Errors        []parser.FieldError `json:"errors,omitempty"`
}

// BatchStatus summarizes a multi-file upload.
type BatchStatus string

const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// BatchResult aggregates the files of one upload request.
type BatchResult struct {
	Status        BatchStatus  `json:"status"`
	Files         []FileResult `json:"files"`
	TotalRows     int          `json:"totalRows"`
	InsertedRows  int          `json:"insertedRows"`
	DuplicateRows int          `json:"duplicateRows"`
}

// ImportService orchestrates file validation and dedup-aware ingestion.
type ImportService struct {
	repo        repository.ImportRepository
	validator   *validator.Validator
	logger      *slog.Logger
	limits      upload.Limits
	batchSize   int
	maxFiles    int
	invalidator cache.Invalidator
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	newSuffix   func() string
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, v *validator.Validator, logger *slog.Logger) *ImportService {
	return &ImportService{
		repo:        repo,
		validator:   v,
		logger:      logger,
		limits:      upload.DefaultLimits(),
		batchSize:   importBatchSize,
		maxFiles:    maxFilesPerBatch,
		invalidator: cache.NewLogInvalidator(logger),
		tracer:      otel.Tracer("github.com/FACorreiaa/expense-tracker/internal/domain/import/service"),
		newSuffix:   uuid.NewString,
	}
}

// WithLimits overrides the per-file limits.
func (s *ImportService) WithLimits(limits upload.Limits) *ImportService {
	s.limits = limits
	return s
}

// WithExistenceBatchSize sets how many fingerprints one existence query checks.
func (s *ImportService) WithExistenceBatchSize(n int) *ImportService {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// WithMaxFiles sets how many files one upload request may carry.
func (s *ImportService) WithMaxFiles(n int) *ImportService {
	if n > 0 {
		s.maxFiles = n
	}
	return s
}

// WithInvalidator sets who is told about stale cached views after commits.
func (s *ImportService) WithInvalidator(inv cache.Invalidator) *ImportService {
	s.invalidator = inv
	return s
}

// WithMetrics enables Prometheus instrumentation.
func (s *ImportService) WithMetrics(m *metrics.Metrics) *ImportService {
	s.metrics = m
	return s
}

// ImportBatch imports every file independently and aggregates the outcome.
func (s *ImportService) ImportBatch(ctx context.Context, kind UploadKind, files []upload.File) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > s.maxFiles {
		return nil, fmt.Errorf("%w: %d files, at most %d allowed", ErrTooManyFiles, len(files), s.maxFiles)
	}

	result := &BatchResult{Files: make([]FileResult, 0, len(files))}
	succeeded := 0
	for _, f := range files {
		// Errors are already logged and reflected in the file result.
		res, _ := s.ImportFile(ctx, kind, f)
		result.Files = append(result.Files, *res)
		result.TotalRows += res.TotalRows
		result.InsertedRows += res.InsertedRows
		result.DuplicateRows += res.DuplicateRows
		if res.Status == upload.StatusSucceeded {
			succeeded++
		}
	}

	switch succeeded {
	case len(files):
		result.Status = BatchSucceeded
	case 0:
		result.Status = BatchFailed
	default:
		result.Status = BatchPartial
	}
	return result, nil
}

// ImportFile validates one file and, when every row is valid, stores it.
// Every attempt leaves one audit record, failed ones included.
// The returned result is never nil. A non-nil error means storage failed;
// the result then carries a generic message instead of the cause.
func (s *ImportService) ImportFile(ctx context.Context, kind UploadKind, f upload.File) (*FileResult, error) {
	ctx, span := s.tracer.Start(ctx, "import.ImportFile", trace.WithAttributes(
		attribute.String("import.kind", string(kind)),
		attribute.String("import.filename", f.Name),
		attribute.Int("import.bytes", len(f.Data)),
	))
	defer span.End()

	start := time.Now()
	recordKind := kind.RecordKind()

	outcome, err := s.process(kind, f)
	if err != nil {
		return &FileResult{Filename: f.Name, Status: upload.StatusFailed, Errors: []parser.FieldError{{Field: parser.FileField, Message: err.Error()}}}, err
	}

	if outcome.Status == upload.StatusFailed {
		res := &FileResult{
			Filename:  f.Name,
			Status:    upload.StatusFailed,
			TotalRows: outcome.TotalRows,
			Errors:    outcome.Errors,
		}
		s.observe(recordKind, upload.StatusFailed, 0, 0, len(outcome.Errors), start)

		if err := s.recordFailure(ctx, recordKind, f.Name, outcome.FirstError()); err != nil {
			s.logger.ErrorContext(ctx, "failed to record rejected import",
				slog.String("filename", f.Name),
				slog.String("kind", string(recordKind)),
				slog.Any("error", err),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "audit write failed")
			return res, err
		}

		s.logger.InfoContext(ctx, "import rejected",
			slog.String("filename", f.Name),
			slog.String("kind", string(recordKind)),
			slog.Int("rows", outcome.TotalRows),
			slog.Int("errors", len(outcome.Errors)),
		)
		return res, nil
	}

	res, err := s.ingest(ctx, recordKind, f.Name, outcome.Rows)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store import",
			slog.String("filename", f.Name),
			slog.String("kind", string(recordKind)),
			slog.Int("rows", len(outcome.Rows)),
			slog.Any("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		s.observe(recordKind, upload.StatusFailed, 0, 0, 0, start)
		if auditErr := s.recordFailure(ctx, recordKind, f.Name, GenericFailureMessage); auditErr != nil {
			s.logger.ErrorContext(ctx, "failed to record failed import",
				slog.String("filename", f.Name),
				slog.String("kind", string(recordKind)),
				slog.Any("error", auditErr),
			)
		}
		return &FileResult{
			Filename:  f.Name,
			Status:    upload.StatusFailed,
			TotalRows: outcome.TotalRows,
			Errors:    []parser.FieldError{{Field: parser.FileField, Message: GenericFailureMessage}},
		}, err
	}

	span.SetAttributes(
		attribute.Int("import.inserted", res.InsertedRows),
		attribute.Int("import.duplicates", res.DuplicateRows),
	)
	s.observe(recordKind, upload.StatusSucceeded, res.InsertedRows, res.DuplicateRows, 0, start)
	s.logger.InfoContext(ctx, "import stored",
		slog.String("filename", f.Name),
		slog.String("kind", string(recordKind)),
		slog.Int("rows", res.TotalRows),
		slog.Int("inserted", res.InsertedRows),
		slog.Int("duplicates", res.DuplicateRows),
	)
	return res, nil
}

func (s *ImportService) process(kind UploadKind, f upload.File) (upload.Outcome[validator.Record], error) {
	switch kind {
	case UploadExpenses:
		return upload.Process(s.limits, f, parser.ExpenseSchema, s.validator.Expense), nil
	case UploadTransactions:
		return upload.Process(s.limits, f, parser.TransactionSchema, s.validator.Transaction), nil
	case UploadIncome:
		return upload.Process(s.limits, f, parser.IncomeSchema, s.validator.Income), nil
	}
	return upload.Outcome[validator.Record]{}, fmt.Errorf("%w: %q", ErrUnknownUploadKind, kind)
}

// recordFailure writes the single audit record of a rejected file.
func (s *ImportService) recordFailure(ctx context.Context, kind repository.Kind, filename, message string) error {
	imp := &repository.Import{
		ID:           uuid.New(),
		Filename:     filename,
		Kind:         kind,
		Status:       repository.StatusFailed,
		ErrorMessage: &message,
	}
	if err := s.repo.CreateFailedImport(ctx, imp); err != nil {
		return fmt.Errorf("failed to record failed import: %w", err)
	}
	s.invalidator.Invalidate(ctx, cache.TagImports)
	return nil
}

// RescueDuplicates stores previously skipped duplicates as real records.
func (s *ImportService) RescueDuplicates(ctx context.Context, kind repository.Kind, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, ErrDuplicatesNotFound
	}

	refingerprint := func(fp string) string {
		return fp + "-" + s.newSuffix()
	}

	n, err := s.repo.RescueDuplicates(ctx, kind, ids, refingerprint)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrDuplicatesNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to rescue duplicates",
			slog.String("kind", string(kind)),
			slog.Int("requested", len(ids)),
			slog.Any("error", err),
		)
		return 0, fmt.Errorf("failed to rescue duplicates: %w", err)
	}

	s.invalidator.Invalidate(ctx, append(recordTags(kind), cache.TagDuplicates)...)
	s.logger.InfoContext(ctx, "duplicates rescued",
		slog.String("kind", string(kind)),
		slog.Int("requested", len(ids)),
		slog.Int("rescued", n),
	)
	return n, nil
}

// DeleteImport removes an import together with its records and duplicates.
func (s *ImportService) DeleteImport(ctx context.Context, id uuid.UUID) (repository.DeleteResult, error) {
	res, err := s.repo.DeleteImport(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.DeleteResult{}, ErrImportNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete import",
			slog.String("import_id", id.String()),
			slog.Any("error", err),
		)
		return repository.DeleteResult{}, fmt.Errorf("failed to delete import: %w", err)
	}

	s.invalidator.Invalidate(ctx, append(recordTags(res.Kind), cache.TagDuplicates)...)
	s.logger.InfoContext(ctx, "import deleted",
		slog.String("import_id", id.String()),
		slog.Int("records", res.Records),
		slog.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// ListImports returns the audit history, newest first. An empty kind lists
// every kind.
func (s *ImportService) ListImports(ctx context.Context, kind repository.Kind, limit, offset int) ([]repository.Import, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	imports, err := s.repo.ListImports(ctx, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	return imports, nil
}

// ListDuplicates returns the duplicates still attached to an import.
func (s *ImportService) ListDuplicates(ctx context.Context, importID uuid.UUID) ([]repository.Duplicate, error) {
	if _, err := s.repo.GetImport(ctx, importID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrImportNotFound
		}
		return nil, fmt.Errorf("failed to get import: %w", err)
	}

	dups, err := s.repo.ListDuplicates(ctx, importID)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicates: %w", err)
	}
	return dups, nil
}

func recordTags(kind repository.Kind) []cache.Tag {
	if kind == repository.KindIncome {
		return []cache.Tag{cache.TagIncome, cache.TagImports, cache.TagDashboard}
	}
	return []cache.Tag{cache.TagTransactions, cache.TagImports, cache.TagDashboard}
}

func (s *ImportService) observe(kind repository.Kind, status upload.Status, inserted, duplicates, invalid int, start time.Time) {
	if s.metrics == nil {
		return
	}
	k := string(kind)
	s.metrics.ImportsTotal.WithLabelValues(k, string(status)).Inc()
	s.metrics.ImportRows.WithLabelValues(k, "inserted").Add(float64(inserted))
	s.metrics.ImportRows.WithLabelValues(k, "duplicate").Add(float64(duplicates))
	s.metrics.ImportRows.WithLabelValues(k, "invalid").Add(float64(invalid))
	s.metrics.ImportDuration.WithLabelValues(k).Observe(time.Since(start).Seconds())
}
