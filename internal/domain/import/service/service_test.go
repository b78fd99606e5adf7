package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/repository"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/upload"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/expense-tracker/pkg/cache"
	"github.com/FACorreiaa/expense-tracker/pkg/metrics"
)

// ============================================================================
// In-memory repository
// ============================================================================

type storedRecord struct {
	importID uuid.UUID
	record   validator.Record
}

type memRepo struct {
	mu         sync.Mutex
	imports    map[uuid.UUID]*repository.Import
	order      []uuid.UUID
	records    map[repository.Kind]map[string]storedRecord
	duplicates map[uuid.UUID]repository.Duplicate

	existenceCalls [][]string
	failCreate     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		imports: map[uuid.UUID]*repository.Import{},
		records: map[repository.Kind]map[string]storedRecord{
			repository.KindExpense: {},
			repository.KindIncome:  {},
		},
		duplicates: map[uuid.UUID]repository.Duplicate{},
	}
}

func (m *memRepo) ExistingFingerprints(_ context.Context, kind repository.Kind, fps []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existenceCalls = append(m.existenceCalls, append([]string(nil), fps...))
	out := map[string]struct{}{}
	for _, fp := range fps {
		if _, ok := m.records[kind][fp]; ok {
			out[fp] = struct{}{}
		}
	}
	return out, nil
}

func (m *memRepo) CreateImport(_ context.Context, imp *repository.Import, records []validator.Record, dups []repository.PendingDuplicate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	for _, r := range records {
		if _, ok := m.records[imp.Kind][r.Fingerprint]; ok {
			return repository.ErrFingerprintConflict
		}
	}
	for _, r := range records {
		m.records[imp.Kind][r.Fingerprint] = storedRecord{importID: imp.ID, record: r}
	}
	for _, d := range dups {
		id := uuid.New()
		m.duplicates[id] = repository.Duplicate{ID: id, ImportID: imp.ID, Kind: imp.Kind, Reason: d.Reason, Record: d.Record}
	}
	stored := *imp
	stored.UploadedAt = time.Now()
	m.imports[imp.ID] = &stored
	m.order = append(m.order, imp.ID)
	return nil
}

func (m *memRepo) CreateFailedImport(_ context.Context, imp *repository.Import) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *imp
	m.imports[imp.ID] = &stored
	m.order = append(m.order, imp.ID)
	return nil
}

func (m *memRepo) GetImport(_ context.Context, id uuid.UUID) (*repository.Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *imp
	return &cp, nil
}

func (m *memRepo) ListImports(_ context.Context, kind repository.Kind, limit, offset int) ([]repository.Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Import
	for i := len(m.order) - 1; i >= 0; i-- {
		imp, ok := m.imports[m.order[i]]
		if !ok || (kind != "" && imp.Kind != kind) {
			continue
		}
		out = append(out, *imp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListDuplicates(_ context.Context, importID uuid.UUID) ([]repository.Duplicate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Duplicate
	for _, d := range m.duplicates {
		if d.ImportID == importID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) RescueDuplicates(_ context.Context, kind repository.Kind, ids []uuid.UUID, refingerprint func(string) string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []repository.Duplicate
	for _, id := range ids {
		if d, ok := m.duplicates[id]; ok && d.Kind == kind {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		return 0, repository.ErrNotFound
	}
	for _, d := range found {
		rec := d.Record
		rec.Fingerprint = refingerprint(rec.Fingerprint)
		m.records[kind][rec.Fingerprint] = storedRecord{importID: d.ImportID, record: rec}
		delete(m.duplicates, d.ID)
		imp := m.imports[d.ImportID]
		imp.InsertedRows++
		imp.DuplicateRows--
	}
	return len(found), nil
}

func (m *memRepo) DeleteImport(_ context.Context, id uuid.UUID) (repository.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return repository.DeleteResult{}, repository.ErrNotFound
	}
	res := repository.DeleteResult{Kind: imp.Kind}
	for fp, r := range m.records[imp.Kind] {
		if r.importID == id {
			delete(m.records[imp.Kind], fp)
			res.Records++
		}
	}
	for did, d := range m.duplicates {
		if d.ImportID == id {
			delete(m.duplicates, did)
			res.Duplicates++
		}
	}
	delete(m.imports, id)
	return res, nil
}

func (m *memRepo) count(kind repository.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[kind])
}

// ============================================================================
// Helpers
// ============================================================================

func newTestService(repo repository.ImportRepository) (*ImportService, *cache.Recorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := validator.New(validator.Config{Categorizer: normalizer.NewCategorizer(normalizer.DefaultKeywordRules())})
	rec := &cache.Recorder{}
	return NewImportService(repo, v, logger).WithInvalidator(rec), rec
}

func csvFile(name string, lines ...string) upload.File {
	return upload.File{Name: name, Data: []byte(strings.Join(lines, "\n") + "\n")}
}

// ============================================================================
// ImportFile
// ============================================================================

func TestImportFile_VendorExample(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	res, err := svc.ImportFile(context.Background(), UploadTransactions, csvFile("bank.csv",
		"date,vendor,amount,category",
		"01-01-2025,Store A,$10.00,Food",
		"01-02-2025,Store B,20.50,Transport",
	))
	require.NoError(t, err)

	assert.Equal(t, upload.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, 2, res.InsertedRows)
	assert.Equal(t, 0, res.DuplicateRows)
	require.NotNil(t, res.ImportID)

	var cents []int64
	for _, r := range repo.records[repository.KindExpense] {
		if r.record.Line == 2 {
			cents = append(cents, r.record.AmountCents)
		}
	}
	assert.Equal(t, []int64{1000}, cents)
}

func TestImportFile_SameFileTwice(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	f := csvFile("jan.csv",
		"date,description,amount,category",
		"01-15-2025,Coffee,4.50,Dining",
		"01-16-2025,Groceries run,52.10,Groceries",
		"01-17-2025,Bus pass,30,Transportation",
	)

	first, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)
	assert.Equal(t, 3, first.InsertedRows)

	second, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)
	assert.Equal(t, upload.StatusSucceeded, second.Status)
	assert.Equal(t, 3, second.TotalRows)
	assert.Equal(t, 0, second.InsertedRows)
	assert.Equal(t, 3, second.DuplicateRows)
	assert.Equal(t, 3, repo.count(repository.KindExpense))

	dups, err := svc.ListDuplicates(context.Background(), *second.ImportID)
	require.NoError(t, err)
	require.Len(t, dups, 3)
	for _, d := range dups {
		assert.Equal(t, repository.ReasonCrossImport, d.Reason)
	}
}

func TestImportFile_OverlappingFiles(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)

	_, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("a.csv",
		"date,description,amount",
		"01-01-2025,Rent,1200",
		"01-02-2025,Coffee,3.25",
	))
	require.NoError(t, err)

	res, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("b.csv",
		"date,description,amount",
		"01-02-2025,  coffee ,3.25",
		"01-03-2025,Cinema,15",
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedRows)
	assert.Equal(t, 1, res.DuplicateRows)
	assert.Equal(t, 3, repo.count(repository.KindExpense))
}

func TestImportFile_WithinFileDuplicate(t *testing.T) {
	repo := newMemRepo()
	svc, rec := newTestService(repo)

	res, err := svc.ImportFile(context.Background(), UploadIncome, csvFile("pay.csv",
		"date,source,amount",
		"01-31-2025,Salary,3000",
		"01-31-2025,salary,3000.00",
		"02-28-2025,,150",
	))
	require.NoError(t, err)
	assert.Equal(t, 2, res.InsertedRows)
	assert.Equal(t, 1, res.DuplicateRows)
	assert.Equal(t, 2, repo.count(repository.KindIncome))
	assert.Equal(t, 0, repo.count(repository.KindExpense))

	dups, err := svc.ListDuplicates(context.Background(), *res.ImportID)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, repository.ReasonWithinFile, dups[0].Reason)

	assert.Equal(t, []cache.Tag{cache.TagIncome, cache.TagImports, cache.TagDashboard, cache.TagDuplicates}, rec.Tags())
}

func TestImportFile_InvalidRowRejectsWholeFile(t *testing.T) {
	repo := newMemRepo()
	svc, rec := newTestService(repo)

	res, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("feb.csv",
		"date,description,amount",
		"02-01-2025,Coffee,4.50",
		"02-30-2025,Lunch,12",
	))
	require.NoError(t, err)

	assert.Equal(t, upload.StatusFailed, res.Status)
	assert.Nil(t, res.ImportID)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, 0, res.InsertedRows)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, "date", res.Errors[0].Field)
	assert.Equal(t, 0, repo.count(repository.KindExpense))

	imports, err := svc.ListImports(context.Background(), "", 0, 0)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, repository.StatusFailed, imports[0].Status)
	assert.Equal(t, 0, imports[0].TotalRows)
	require.NotNil(t, imports[0].ErrorMessage)
	assert.Contains(t, *imports[0].ErrorMessage, "row 3")
	assert.Equal(t, []cache.Tag{cache.TagImports}, rec.Tags())
}

func TestImportFile_StorageFailure(t *testing.T) {
	repo := newMemRepo()
	repo.failCreate = errors.New("connection reset")
	svc, rec := newTestService(repo)

	res, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("jan.csv",
		"date,description,amount",
		"01-15-2025,Coffee,4.50",
	))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, upload.StatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, GenericFailureMessage, res.Errors[0].Message)
	assert.NotContains(t, res.Errors[0].Message, "connection reset")
	assert.Equal(t, []cache.Tag{cache.TagImports}, rec.Tags())

	imports, err := svc.ListImports(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, repository.StatusFailed, imports[0].Status)
	assert.Equal(t, "jan.csv", imports[0].Filename)
	assert.Zero(t, imports[0].InsertedRows)
	require.NotNil(t, imports[0].ErrorMessage)
	assert.Equal(t, GenericFailureMessage, *imports[0].ErrorMessage)
	assert.Empty(t, repo.records[repository.KindExpense])
}

func TestImportFile_ExistenceCheckIsBatched(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	svc.WithExistenceBatchSize(500)

	faker := gofakeit.New(42)
	lines := []string{"date,description,amount"}
	for i := range 1201 {
		day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i%365)
		lines = append(lines, fmt.Sprintf("%s,%s %d,%d.%02d",
			day.Format("01-02-2006"),
			strings.ReplaceAll(faker.Company(), ",", ""),
			i,
			faker.Number(1, 500),
			faker.Number(0, 99),
		))
	}

	res, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("big.csv", lines...))
	require.NoError(t, err)
	assert.Equal(t, 1201, res.InsertedRows)

	require.Len(t, repo.existenceCalls, 3)
	assert.Len(t, repo.existenceCalls[0], 500)
	assert.Len(t, repo.existenceCalls[1], 500)
	assert.Len(t, repo.existenceCalls[2], 201)
}

func TestImportFile_RecordsMetrics(t *testing.T) {
	repo := newMemRepo()
	m := metrics.New()
	svc, _ := newTestService(repo)
	svc.WithMetrics(m)

	_, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile("jan.csv",
		"date,description,amount",
		"01-15-2025,Coffee,4.50",
		"01-15-2025,Coffee,4.50",
	))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportsTotal.WithLabelValues("expense", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportRows.WithLabelValues("expense", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportRows.WithLabelValues("expense", "duplicate")))
}

// ============================================================================
// ImportBatch
// ============================================================================

func TestImportBatch(t *testing.T) {
	good := csvFile("good.csv", "date,description,amount", "03-01-2025,Coffee,4.50")
	bad := csvFile("bad.csv", "date,descr,amount", "03-01-2025,Coffee,4.50")

	tests := []struct {
		name       string
		files      []upload.File
		wantStatus BatchStatus
		wantErr    error
	}{
		{"all succeed", []upload.File{good}, BatchSucceeded, nil},
		{"partial", []upload.File{good, bad}, BatchPartial, nil},
		{"all fail", []upload.File{bad}, BatchFailed, nil},
		{"no files", nil, "", ErrNoFiles},
		{"too many", make([]upload.File, 11), "", ErrTooManyFiles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(newMemRepo())
			res, err := svc.ImportBatch(context.Background(), UploadExpenses, tt.files)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Len(t, res.Files, len(tt.files))
		})
	}
}

func TestImportBatch_SumsCounts(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	res, err := svc.ImportBatch(context.Background(), UploadExpenses, []upload.File{
		csvFile("a.csv", "date,description,amount", "03-01-2025,Coffee,4.50", "03-02-2025,Tea,3"),
		csvFile("b.csv", "date,description,amount", "03-02-2025,Tea,3", "03-03-2025,Cake,5"),
	})
	require.NoError(t, err)
	assert.Equal(t, BatchSucceeded, res.Status)
	assert.Equal(t, 4, res.TotalRows)
	assert.Equal(t, 3, res.InsertedRows)
	assert.Equal(t, 1, res.DuplicateRows)
}

// ============================================================================
// Rescue, delete and listing
// ============================================================================

func TestRescueDuplicates(t *testing.T) {
	repo := newMemRepo()
	svc, rec := newTestService(repo)
	svc.newSuffix = func() string { return "r1" }
	f := csvFile("jan.csv", "date,description,amount", "01-15-2025,Coffee,4.50")

	_, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)
	second, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)

	dups, err := svc.ListDuplicates(context.Background(), *second.ImportID)
	require.NoError(t, err)
	require.Len(t, dups, 1)

	rec.Reset()
	n, err := svc.RescueDuplicates(context.Background(), repository.KindExpense, []uuid.UUID{dups[0].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, repo.count(repository.KindExpense))
	assert.Contains(t, repo.records[repository.KindExpense], dups[0].Record.Fingerprint+"-r1")
	assert.Contains(t, rec.Tags(), cache.TagDuplicates)

	imp, err := repo.GetImport(context.Background(), *second.ImportID)
	require.NoError(t, err)
	assert.Equal(t, 1, imp.InsertedRows)
	assert.Equal(t, 0, imp.DuplicateRows)

	_, err = svc.RescueDuplicates(context.Background(), repository.KindExpense, []uuid.UUID{dups[0].ID})
	assert.ErrorIs(t, err, ErrDuplicatesNotFound)

	_, err = svc.RescueDuplicates(context.Background(), repository.KindExpense, nil)
	assert.ErrorIs(t, err, ErrDuplicatesNotFound)
}

func TestDeleteImport(t *testing.T) {
	repo := newMemRepo()
	svc, rec := newTestService(repo)
	f := csvFile("jan.csv", "date,description,amount", "01-15-2025,Coffee,4.50", "01-15-2025,Coffee,4.50")

	res, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)

	rec.Reset()
	del, err := svc.DeleteImport(context.Background(), *res.ImportID)
	require.NoError(t, err)
	assert.Equal(t, repository.DeleteResult{Kind: repository.KindExpense, Records: 1, Duplicates: 1}, del)
	assert.Equal(t, 0, repo.count(repository.KindExpense))
	assert.Contains(t, rec.Tags(), cache.TagTransactions)

	// The rows can be imported again once their import is gone.
	again, err := svc.ImportFile(context.Background(), UploadExpenses, f)
	require.NoError(t, err)
	assert.Equal(t, 1, again.InsertedRows)

	_, err = svc.DeleteImport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestListImports_ClampsLimit(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	for i := range 3 {
		_, err := svc.ImportFile(context.Background(), UploadExpenses, csvFile(fmt.Sprintf("f%d.csv", i),
			"date,description,amount", fmt.Sprintf("01-0%d-2025,Coffee,4.50", i+1)))
		require.NoError(t, err)
	}

	all, err := svc.ListImports(context.Background(), repository.KindExpense, -1, -5)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "f2.csv", all[0].Filename)

	page, err := svc.ListImports(context.Background(), repository.KindExpense, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "f1.csv", page[0].Filename)

	income, err := svc.ListImports(context.Background(), repository.KindIncome, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, income)
}

func TestListDuplicates_UnknownImport(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	_, err := svc.ListDuplicates(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestParseUploadKind(t *testing.T) {
	for _, s := range []string{"expenses", "transactions", "income"} {
		k, err := ParseUploadKind(s)
		require.NoError(t, err)
		assert.Equal(t, UploadKind(s), k)
	}
	assert.Equal(t, repository.KindIncome, UploadIncome.RecordKind())
	assert.Equal(t, repository.KindExpense, UploadTransactions.RecordKind())

	_, err := ParseUploadKind("holdings")
	assert.ErrorIs(t, err, ErrUnknownUploadKind)
}
