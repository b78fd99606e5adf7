package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/expense-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/pkg/interceptors"
)

// FilesField is the multipart field carrying the uploaded CSV files.
const FilesField = "files"

// multipartOverhead covers boundaries and part headers on top of file bytes.
const multipartOverhead = 1 << 20

// ImportHandler serves the import endpoints.
type ImportHandler struct {
	importSvc *importservice.ImportService
	logger    *slog.Logger
	limits    upload.Limits
	maxFiles  int
}

// NewImportHandler creates a new import handler
func NewImportHandler(importSvc *importservice.ImportService, limits upload.Limits, maxFiles int, logger *slog.Logger) *ImportHandler {
	if limits.MaxFileBytes <= 0 {
		limits = upload.DefaultLimits()
	}
	if maxFiles <= 0 {
		maxFiles = 10
	}
	return &ImportHandler{
		importSvc: importSvc,
		logger:    logger,
		limits:    limits,
		maxFiles:  maxFiles,
	}
}

// Register mounts the routes on mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/imports/{kind}", h.Upload)
	mux.HandleFunc("GET /api/imports", h.ListImports)
	mux.HandleFunc("DELETE /api/imports/{id}", h.DeleteImport)
	mux.HandleFunc("GET /api/imports/{id}/duplicates", h.ListDuplicates)
	mux.HandleFunc("POST /api/duplicates/rescue", h.RescueDuplicates)
}

// Upload handles POST /api/imports/{kind}
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := importservice.ParseUploadKind(r.PathValue("kind"))
	if err != nil {
		interceptors.WriteError(w, http.StatusNotFound, "Unknown import kind, expected expenses, transactions or income")
		return
	}

	maxBody := int64(h.maxFiles)*int64(h.limits.MaxFileBytes) + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
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

	headers := r.MultipartForm.File[FilesField]
	if len(headers) > h.maxFiles {
		interceptors.WriteError(w, http.StatusBadRequest, "Too many files, upload at most "+strconv.Itoa(h.maxFiles)+" at once")
		return
	}

	files, err := upload.ReadMultipart(headers, h.limits)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read uploaded files", slog.Any("error", err))
		interceptors.WriteError(w, http.StatusBadRequest, "Could not read the uploaded files")
		return
	}

	result, err := h.importSvc.ImportBatch(ctx, kind, files)
	switch {
	case errors.Is(err, importservice.ErrNoFiles):
		interceptors.WriteError(w, http.StatusBadRequest, "Attach at least one CSV file in the \"files\" field")
		return
	case errors.Is(err, importservice.ErrTooManyFiles):
		interceptors.WriteError(w, http.StatusBadRequest, "Too many files, upload at most "+strconv.Itoa(h.maxFiles)+" at once")
		return
	case err != nil:
		interceptors.WriteError(w, http.StatusInternalServerError, importservice.GenericFailureMessage)
		return
	}

	status := http.StatusOK
	if result.Status == importservice.BatchFailed {
		status = http.StatusUnprocessableEntity
	}
	interceptors.WriteJSON(w, status, result)
}

// ListImports handles GET /api/imports
func (h *ImportHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var kind repository.Kind
	if raw := q.Get("kind"); raw != "" {
		k, err := repository.ParseKind(raw)
		if err != nil {
			interceptors.WriteError(w, http.StatusBadRequest, "kind must be expense or income")
			return
		}
		kind = k
	}

	limit, err := intParam(q.Get("limit"))
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "offset must be a number")
		return
	}

	imports, err := h.importSvc.ListImports(r.Context(), kind, limit, offset)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list imports", slog.Any("error", err))
		interceptors.WriteError(w, http.StatusInternalServerError, "Failed to list imports")
		return
	}
	if imports == nil {
		imports = []repository.Import{}
	}

	interceptors.WriteJSON(w, http.StatusOK, map[string]any{
		"imports": imports,
		"count":   len(imports),
	})
}

// DeleteImport handles DELETE /api/imports/{id}
func (h *ImportHandler) DeleteImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "Invalid import id")
		return
	}

	res, err := h.importSvc.DeleteImport(r.Context(), id)
	if errors.Is(err, importservice.ErrImportNotFound) {
		interceptors.WriteError(w, http.StatusNotFound, "Import not found")
		return
	}
	if err != nil {
		interceptors.WriteError(w, http.StatusInternalServerError, "Failed to delete import")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, res)
}

// ListDuplicates handles GET /api/imports/{id}/duplicates
func (h *ImportHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "Invalid import id")
		return
	}

	dups, err := h.importSvc.ListDuplicates(r.Context(), id)
	if errors.Is(err, importservice.ErrImportNotFound) {
		interceptors.WriteError(w, http.StatusNotFound, "Import not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list duplicates", slog.String("import_id", id.String()), slog.Any("error", err))
		interceptors.WriteError(w, http.StatusInternalServerError, "Failed to list duplicates")
		return
	}
	if dups == nil {
		dups = []repository.Duplicate{}
	}

	interceptors.WriteJSON(w, http.StatusOK, map[string]any{
		"duplicates": dups,
		"count":      len(dups),
	})
}

type rescueRequest struct {
	Kind string      `json:"kind"`
	IDs  []uuid.UUID `json:"ids"`
}

// RescueDuplicates handles POST /api/duplicates/rescue
func (h *ImportHandler) RescueDuplicates(w http.ResponseWriter, r *http.Request) {
	var req rescueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	kind, err := repository.ParseKind(req.Kind)
	if err != nil {
		interceptors.WriteError(w, http.StatusBadRequest, "kind must be expense or income")
		return
	}
	if len(req.IDs) == 0 {
		interceptors.WriteError(w, http.StatusBadRequest, "ids is required")
		return
	}

	n, err := h.importSvc.RescueDuplicates(r.Context(), kind, req.IDs)
	if errors.Is(err, importservice.ErrDuplicatesNotFound) {
		interceptors.WriteError(w, http.StatusNotFound, "No matching duplicates")
		return
	}
	if err != nil {
		interceptors.WriteError(w, http.StatusInternalServerError, "Failed to rescue duplicates")
		return
	}
	interceptors.WriteJSON(w, http.StatusOK, map[string]int{"rescued": n})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
