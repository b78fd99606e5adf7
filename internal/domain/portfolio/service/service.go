// Package service applies uploaded holdings files to portfolio snapshots.
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

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/repository"
	"github.com/FACorreiaa/expense-tracker/pkg/cache"
	"github.com/FACorreiaa/expense-tracker/pkg/metrics"
)

const metricsKind = "portfolio"

// GenericFailureMessage is shown when a holdings file could not be stored.
const GenericFailureMessage = "The portfolio import could not be saved. Please try again."

var (
	ErrDuplicatePortfolioImport = errors.New("this file was already imported for that snapshot date")
	ErrInvalidSnapshotDate      = errors.New("snapshot date must be a real date as YYYY-MM-DD")
	ErrSnapshotNotFound         = errors.New("snapshot not found")
)

// ImportResult is the outcome of one holdings upload.
type ImportResult struct {
	Filename     string               `json:"filename"`
	Status       upload.Status        `json:"status"`
	ImportID     *uuid.UUID           `json:"importId,omitempty"`
	SnapshotDate string               `json:"snapshotDate"`
	TotalRows    int                  `json:"totalRows"`
	Positions    []portfolio.Position `json:"positions,omitempty"`
	Errors       []parser.FieldError  `json:"errors,omitempty"`
}

// PortfolioService handles holdings imports and snapshot reads.
type PortfolioService struct {
	repo        repository.Repository
	validator   *portfolio.HoldingValidator
	logger      *slog.Logger
	limits      upload.Limits
	invalidator cache.Invalidator
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(repo repository.Repository, v *portfolio.HoldingValidator, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		repo:        repo,
		validator:   v,
		logger:      logger,
		limits:      upload.DefaultLimits(),
		invalidator: cache.NewLogInvalidator(logger),
		tracer:      otel.Tracer("github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/service"),
	}
}

func (s *PortfolioService) WithLimits(limits upload.Limits) *PortfolioService {
	s.limits = limits
	return s
}

func (s *PortfolioService) WithInvalidator(inv cache.Invalidator) *PortfolioService {
	s.invalidator = inv
	return s
}

func (s *PortfolioService) WithMetrics(m *metrics.Metrics) *PortfolioService {
	s.metrics = m
	return s
}

// ImportHoldings validates a holdings file and merges it into the snapshot
// of snapshotDate. Row problems come back in the result with a nil error.
// Re-importing the same filename for the same date returns
// ErrDuplicatePortfolioImport and a symbol already held in another currency
// returns portfolio.ErrCurrencyMismatch; neither changes anything.
func (s *PortfolioService) ImportHoldings(ctx context.Context, snapshotDate string, f upload.File) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "portfolio.ImportHoldings", trace.WithAttributes(
		attribute.String("portfolio.snapshot_date", snapshotDate),
		attribute.String("portfolio.filename", f.Name),
	))
	defer span.End()

	day, err := normalizer.DayUTC(snapshotDate)
	if err != nil {
		return nil, ErrInvalidSnapshotDate
	}
	date := day.Format(time.DateOnly)

	start := time.Now()
	outcome := upload.Process(s.limits, f, parser.HoldingSchema, s.validator.Validate)
	if outcome.Status == upload.StatusFailed {
		s.observe(upload.StatusFailed, start)
		s.logger.InfoContext(ctx, "holdings import rejected",
			slog.String("filename", f.Name),
			slog.String("snapshot_date", date),
			slog.Int("rows", outcome.TotalRows),
			slog.Int("errors", len(outcome.Errors)),
		)
		return &ImportResult{
			Filename:     f.Name,
			Status:       upload.StatusFailed,
			SnapshotDate: date,
			TotalRows:    outcome.TotalRows,
			Errors:       outcome.Errors,
		}, nil
	}

	exists, err := s.repo.ImportExists(ctx, f.Name, day)
	if err != nil {
		return nil, s.fail(ctx, span, f.Name, date, err)
	}
	if exists {
		return nil, ErrDuplicatePortfolioImport
	}

	imported := outcome.Rows
	imp := repository.Import{
		ID:            uuid.New(),
		Filename:      f.Name,
		SnapshotDate:  day,
		PositionCount: len(imported),
	}
	snap, err := s.repo.ApplyImport(ctx, imp, func(existing []portfolio.Position) ([]portfolio.Position, error) {
		return portfolio.MergePositions(existing, imported)
	})
	if errors.Is(err, repository.ErrDuplicateImport) {
		return nil, ErrDuplicatePortfolioImport
	}
	if errors.Is(err, portfolio.ErrCurrencyMismatch) {
		s.observe(upload.StatusFailed, start)
		s.logger.InfoContext(ctx, "holdings import rejected",
			slog.String("filename", f.Name),
			slog.String("snapshot_date", date),
			slog.Any("error", err),
		)
		return nil, err
	}
	if err != nil {
		return nil, s.fail(ctx, span, f.Name, date, err)
	}

	s.invalidator.Invalidate(ctx, cache.TagPortfolio, cache.TagDashboard)
	s.observe(upload.StatusSucceeded, start)
	span.SetAttributes(attribute.Int("portfolio.positions", len(snap.Positions)))
	s.logger.InfoContext(ctx, "holdings imported",
		slog.String("filename", f.Name),
		slog.String("snapshot_date", date),
		slog.Int("rows", outcome.TotalRows),
		slog.Int("positions", len(snap.Positions)),
	)

	id := imp.ID
	return &ImportResult{
		Filename:     f.Name,
		Status:       upload.StatusSucceeded,
		ImportID:     &id,
		SnapshotDate: date,
		TotalRows:    outcome.TotalRows,
		Positions:    snap.Positions,
	}, nil
}

// GetSnapshot returns the positions of the snapshot for date.
func (s *PortfolioService) GetSnapshot(ctx context.Context, snapshotDate string) (*repository.Snapshot, error) {
	day, err := normalizer.DayUTC(snapshotDate)
	if err != nil {
		return nil, ErrInvalidSnapshotDate
	}

	snap, err := s.repo.GetSnapshot(ctx, day)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (s *PortfolioService) fail(ctx context.Context, span trace.Span, filename, date string, err error) error {
	s.logger.ErrorContext(ctx, "failed to store holdings import",
		slog.String("filename", filename),
		slog.String("snapshot_date", date),
		slog.Any("error", err),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "portfolio import failed")
	s.observe(upload.StatusFailed, time.Time{})
	return fmt.Errorf("failed to import holdings: %w", err)
}

func (s *PortfolioService) observe(status upload.Status, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ImportsTotal.WithLabelValues(metricsKind, string(status)).Inc()
	if !start.IsZero() {
		s.metrics.ImportDuration.WithLabelValues(metricsKind).Observe(time.Since(start).Seconds())
	}
}
