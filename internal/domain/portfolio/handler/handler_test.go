package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio"
	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/repository"
	portfolioservice "github.com/FACorreiaa/expense-tracker/internal/domain/portfolio/service"
)

type fakeRepo struct {
	seen     map[string]bool
	snapshot *repository.Snapshot
}

func (f *fakeRepo) ImportExists(_ context.Context, filename string, date time.Time) (bool, error) {
	return f.seen[filename+date.Format(time.DateOnly)], nil
}

func (f *fakeRepo) ApplyImport(_ context.Context, imp repository.Import, merge func([]portfolio.Position) ([]portfolio.Position, error)) (*repository.Snapshot, error) {
	var existing []portfolio.Position
	if f.snapshot != nil {
		existing = f.snapshot.Positions
	}
	merged, err := merge(existing)
	if err != nil {
		return nil, err
	}
	f.seen[imp.Filename+imp.SnapshotDate.Format(time.DateOnly)] = true
	f.snapshot = &repository.Snapshot{ID: uuid.New(), Date: imp.SnapshotDate.Format(time.DateOnly), Positions: merged}
	return f.snapshot, nil
}

func (f *fakeRepo) GetSnapshot(context.Context, time.Time) (*repository.Snapshot, error) {
	if f.snapshot == nil {
		return nil, repository.ErrSnapshotNotFound
	}
	return f.snapshot, nil
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := portfolioservice.NewPortfolioService(&fakeRepo{seen: map[string]bool{}}, portfolio.NewHoldingValidator("USD"), logger)
	mux := http.NewServeMux()
	NewPortfolioHandler(svc, upload.DefaultLimits(), logger).Register(mux)
	return mux
}

func holdingsRequest(t *testing.T, date, content string) *http.Request {
	t.Helper()
	return namedHoldingsRequest(t, date, "broker.csv", content)
}

func namedHoldingsRequest(t *testing.T, date, filename, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(FileField, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/portfolio/snapshots/"+date+"/imports", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportHoldings(t *testing.T) {
	mux := newTestMux(t)
	csv := "symbol,companyName,marketValue,costBasis\nVTI,Vanguard,100,90\nBND,Bond,300,310\n"

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, holdingsRequest(t, "2025-03-31", csv))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"weightBps":7500`)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, holdingsRequest(t, "2025-03-31", csv))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots/2025-03-31", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"symbol":"BND"`)
}

func TestImportHoldings_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		date       string
		csv        string
		wantStatus int
	}{
		{"bad date", "2025-02-30", "symbol,companyName,marketValue\nVTI,V,1\n", http.StatusBadRequest},
		{"row errors", "2025-03-31", "symbol,companyName,marketValue\nVTI,V,zero\n", http.StatusUnprocessableEntity},
		{"missing header", "2025-03-31", "symbol,marketValue\nVTI,1\n", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestMux(t).ServeHTTP(rr, holdingsRequest(t, tt.date, tt.csv))
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestImportHoldings_CurrencyMismatch(t *testing.T) {
	mux := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, namedHoldingsRequest(t, "2025-03-31", "us.csv", "symbol,companyName,marketValue,currency\nSAP,SAP SE,100,USD\n"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, namedHoldingsRequest(t, "2025-03-31", "eu.csv", "symbol,companyName,marketValue,currency\nSAP,SAP SE,100,EUR\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "currency does not match")

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots/2025-03-31", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"currency":"USD"`)
	assert.NotContains(t, rr.Body.String(), `"currency":"EUR"`)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestMux(t).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/portfolio/snapshots/2025-01-31", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
