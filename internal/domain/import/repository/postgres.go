package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/expense-tracker/pkg/db"
)

// recordTable describes where a kind's records live.
type recordTable struct {
	name        string
	textColumn  string
	keyColumn   string
	hasCategory bool
}

var recordTables = map[Kind]recordTable{
	KindExpense: {name: "transactions", textColumn: "description", keyColumn: "description_key", hasCategory: true},
	KindIncome:  {name: "income", textColumn: "source", keyColumn: "source_key"},
}

func tableFor(kind Kind) (recordTable, error) {
	t, ok := recordTables[kind]
	if !ok {
		return recordTable{}, fmt.Errorf("unknown record kind %q", kind)
	}
	return t, nil
}

func (t recordTable) columns() []string {
	cols := []string{"id", "import_id", "date", t.textColumn, t.keyColumn, "amount_cents"}
	if t.hasCategory {
		cols = append(cols, "category", "category_key")
	}
	return append(cols, "currency", "fingerprint")
}

func (t recordTable) values(importID uuid.UUID, rec validator.Record, fingerprint string) ([]any, error) {
	day, err := normalizer.DayUTC(rec.Date)
	if err != nil {
		return nil, fmt.Errorf("record on line %d has invalid date %q: %w", rec.Line, rec.Date, err)
	}
	vals := []any{uuid.New(), importID, day, rec.Text, rec.TextKey, rec.AmountCents}
	if t.hasCategory {
		vals = append(vals, rec.Category, rec.CategoryKey)
	}
	return append(vals, rec.Currency, fingerprint), nil
}

var duplicateColumns = []string{
	"id", "import_id", "kind", "reason", "date", "text", "text_key",
	"amount_cents", "category", "category_key", "currency", "fingerprint",
}

const importColumns = `id, filename, kind, uploaded_at, total_rows, inserted_rows, duplicate_rows, status, error_message`

// PostgresImportRepository implements ImportRepository on PostgreSQL.
type PostgresImportRepository struct {
	pool db.Pool
}

// NewPostgresImportRepository creates a new PostgreSQL import repository
func NewPostgresImportRepository(pool db.Pool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

func (r *PostgresImportRepository) ExistingFingerprints(ctx context.Context, kind Kind, fingerprints []string) (map[string]struct{}, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	found := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return found, nil
	}

	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT fingerprint FROM %s WHERE fingerprint = ANY($1)`, t.name),
		fingerprints,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		found[fp] = struct{}{}
	}
	return found, rows.Err()
}

func (r *PostgresImportRepository) CreateImport(ctx context.Context, imp *Import, records []validator.Record, duplicates []PendingDuplicate) error {
	t, err := tableFor(imp.Kind)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertImport(ctx, tx, imp); err != nil {
		return err
	}

	if len(records) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns(),
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				return t.values(imp.ID, records[i], records[i].Fingerprint)
			}),
		)
		if err != nil {
			return mapWriteError("failed to insert records", err)
		}
	}

	if len(duplicates) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"duplicate_records"}, duplicateColumns,
			pgx.CopyFromSlice(len(duplicates), func(i int) ([]any, error) {
				return duplicateValues(imp.ID, imp.Kind, duplicates[i])
			}),
		)
		if err != nil {
			return mapWriteError("failed to insert duplicates", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteError("failed to commit import", err)
	}
	return nil
}

func (r *PostgresImportRepository) CreateFailedImport(ctx context.Context, imp *Import) error {
	return insertImport(ctx, r.pool, imp)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertImport(ctx context.Context, q queryRower, imp *Import) error {
	query := `
		INSERT INTO imports (id, filename, kind, total_rows, inserted_rows, duplicate_rows, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING uploaded_at`

	err := q.QueryRow(ctx, query,
		imp.ID, imp.Filename, imp.Kind, imp.TotalRows, imp.InsertedRows,
		imp.DuplicateRows, imp.Status, imp.ErrorMessage,
	).Scan(&imp.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import: %w", err)
	}
	return nil
}

func (r *PostgresImportRepository) GetImport(ctx context.Context, id uuid.UUID) (*Import, error) {
	query := `SELECT ` + importColumns + ` FROM imports WHERE id = $1`

	imp, err := scanImport(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import: %w", err)
	}
	return imp, nil
}

func (r *PostgresImportRepository) ListImports(ctx context.Context, kind Kind, limit, offset int) ([]Import, error) {
	query := `
		SELECT ` + importColumns + `
		FROM imports
		WHERE ($1 = '' OR kind = $1)
		ORDER BY uploaded_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	var imports []Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		imports = append(imports, *imp)
	}
	return imports, rows.Err()
}

func scanImport(row pgx.Row) (*Import, error) {
	var imp Import
	err := row.Scan(
		&imp.ID, &imp.Filename, &imp.Kind, &imp.UploadedAt, &imp.TotalRows,
		&imp.InsertedRows, &imp.DuplicateRows, &imp.Status, &imp.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &imp, nil
}

const duplicateSelect = `
	SELECT id, import_id, kind, reason, date, text, text_key, amount_cents,
	       COALESCE(category, ''), COALESCE(category_key, ''), currency, fingerprint, created_at
	FROM duplicate_records`

func (r *PostgresImportRepository) ListDuplicates(ctx context.Context, importID uuid.UUID) ([]Duplicate, error) {
	rows, err := r.pool.Query(ctx, duplicateSelect+` WHERE import_id = $1 ORDER BY created_at, id`, importID)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicates: %w", err)
	}
	return collectDuplicates(rows)
}

func (r *PostgresImportRepository) RescueDuplicates(ctx context.Context, kind Kind, ids []uuid.UUID, refingerprint func(string) string) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, duplicateSelect+` WHERE kind = $1 AND id = ANY($2) ORDER BY created_at, id FOR UPDATE`, kind, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load duplicates: %w", err)
	}
	dups, err := collectDuplicates(rows)
	if err != nil {
		return 0, err
	}
	if len(dups) == 0 {
		return 0, ErrNotFound
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns(),
		pgx.CopyFromSlice(len(dups), func(i int) ([]any, error) {
			d := dups[i]
			return t.values(d.ImportID, d.Record, refingerprint(d.Record.Fingerprint))
		}),
	)
	if err != nil {
		return 0, mapWriteError("failed to insert rescued records", err)
	}

	rescuedIDs := make([]uuid.UUID, len(dups))
	perImport := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for i, d := range dups {
		rescuedIDs[i] = d.ID
		if _, ok := perImport[d.ImportID]; !ok {
			order = append(order, d.ImportID)
		}
		perImport[d.ImportID]++
	}

	if _, err := tx.Exec(ctx, `DELETE FROM duplicate_records WHERE id = ANY($1)`, rescuedIDs); err != nil {
		return 0, fmt.Errorf("failed to delete rescued duplicates: %w", err)
	}

	for _, importID := range order {
		_, err := tx.Exec(ctx, `
			UPDATE imports
			SET inserted_rows = inserted_rows + $2, duplicate_rows = duplicate_rows - $2
			WHERE id = $1`,
			importID, perImport[importID],
		)
		if err != nil {
			return 0, fmt.Errorf("failed to update import counters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapWriteError("failed to commit rescue", err)
	}
	return len(dups), nil
}

func (r *PostgresImportRepository) DeleteImport(ctx context.Context, id uuid.UUID) (DeleteResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var kind Kind
	err = tx.QueryRow(ctx, `SELECT kind FROM imports WHERE id = $1 FOR UPDATE`, id).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeleteResult{}, ErrNotFound
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to lock import: %w", err)
	}

	t, err := tableFor(kind)
	if err != nil {
		return DeleteResult{}, err
	}

	records, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE import_id = $1`, t.name), id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete records: %w", err)
	}
	dups, err := tx.Exec(ctx, `DELETE FROM duplicate_records WHERE import_id = $1`, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete duplicates: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM imports WHERE id = $1`, id); err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete import: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteResult{}, fmt.Errorf("failed to commit delete: %w", err)
	}
	return DeleteResult{
		Kind:       kind,
		Records:    int(records.RowsAffected()),
		Duplicates: int(dups.RowsAffected()),
	}, nil
}

func duplicateValues(importID uuid.UUID, kind Kind, d PendingDuplicate) ([]any, error) {
	day, err := normalizer.DayUTC(d.Record.Date)
	if err != nil {
		return nil, fmt.Errorf("duplicate on line %d has invalid date %q: %w", d.Record.Line, d.Record.Date, err)
	}
	return []any{
		uuid.New(), importID, kind, d.Reason, day, d.Record.Text, d.Record.TextKey,
		d.Record.AmountCents, nilIfEmpty(d.Record.Category), nilIfEmpty(d.Record.CategoryKey),
		d.Record.Currency, d.Record.Fingerprint,
	}, nil
}

func collectDuplicates(rows pgx.Rows) ([]Duplicate, error) {
	defer rows.Close()

	var dups []Duplicate
	for rows.Next() {
		var (
			d   Duplicate
			day time.Time
		)
		err := rows.Scan(
			&d.ID, &d.ImportID, &d.Kind, &d.Reason, &day, &d.Record.Text, &d.Record.TextKey,
			&d.Record.AmountCents, &d.Record.Category, &d.Record.CategoryKey,
			&d.Record.Currency, &d.Record.Fingerprint, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		d.Record.Date = day.Format(normalizer.ISODateLayout)
		dups = append(dups, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicates: %w", err)
	}
	return dups, nil
}

func mapWriteError(msg string, err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", msg, ErrFingerprintConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
