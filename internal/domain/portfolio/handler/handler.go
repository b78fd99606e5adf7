package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio"
	portfolioservice "github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/service"
	"github.com/FACorreiaa/expense-tracker/pkg/interceptors"
)

// FileField is the multipart field carrying the holdings CSV.
const FileField = "file"

// PortfolioHandler serves the portfolio snapshot endpoints.
type PortfolioHandler struct {
	portfolioSvc *portfolioservice.PortfolioService
	logger       *slog.Logger
	limits       upload.Limits
}

// NewPortfolioHandler creates a new portfolio handler
func NewPortfolioHandler(portfolioSvc *portfolioservice.PortfolioService, limits upload.Limits, logger *slog.Logger) *PortfolioHandler {
	if limits.MaxFileBytes <= 0 {
		limits = upload.DefaultLimits()
	}
	return &PortfolioHandler{portfolioSvc: portfolioSvc, logger: logger, limits: limits}
}

// Register mounts the routes on mux.
func (h *PortfolioHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/portfolio/snapshots/{date}/imports", h.ImportHoldings)
	mux.HandleFunc("GET /api/portfolio/snapshots/{date}", h.GetSnapshot)
}

// ImportHoldings handles POST /api/portfolio/snapshots/{date}/imports
func (h *PortfolioHandler) ImportHoldings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.limits.MaxFileBytes)+1<<20)
	if err := r.ParseMultipartForm(int64(h.limits.MaxFileBytes)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			interceptors.WriteError(w, http.StatusRequestEntityTooLarge, "Upload is too large")
			return
		}
		interceptors.WriteError(w, http.StatusBadRequest, "Expected a multipart/form-data upload")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	headers := r.MultipartForm.File[FileField]
	if len(headers) != 1 {
		interceptors.WriteError(w, http.StatusBadRequest, "Attach exactly one CSV file in the \"file\" field")
		return
	}
	files, err := upload.ReadMultipart(headers, h.limits)
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "Could not read the uploaded file")
		return
	}

	result, err := h.portfolioSvc.ImportHoldings(r.Context(), r.PathValue("date"), files[0])
	switch {
	case errors.Is(err, portfolioservice.ErrInvalidSnapshotDate):
		interceptors.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, portfolioservice.ErrDuplicatePortfolioImport):
		interceptors.WriteError(w, http.StatusConflict, "This file was already imported for that date")
		return
	case errors.Is(err, portfolio.ErrCurrencyMismatch):
		interceptors.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		interceptors.WriteError(w, http.StatusInternalServerError, portfolioservice.GenericFailureMessage)
		return
	}

	status := http.StatusCreated
	if result.Status == upload.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	interceptors.WriteJSON(w, status, result)
}

// GetSnapshot handles GET /api/portfolio/snapshots/{date}
func (h *PortfolioHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.portfolioSvc.GetSnapshot(r.Context(), r.PathValue("date"))
	switch {
	case errors.Is(err, portfolioservice.ErrInvalidSnapshotDate):
		interceptors.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, portfolioservice.ErrSnapshotNotFound):
		interceptors.WriteError(w, http.StatusNotFound, "Snapshot not found")
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to get snapshot", slog.Any("error", err))
		interceptors.WriteError(w, http.StatusInternalServerError, "Failed to load snapshot")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, snap)
}
