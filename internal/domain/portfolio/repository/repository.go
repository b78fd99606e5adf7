// Package repository persists portfolio snapshots, their positions, security
// metadata and the record of which holdings files were imported.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/expense-tracker/internal/domain/portfolio"
	"github.com/FACorreiaa/expense-tracker/pkg/db"
)

var (
	ErrDuplicateImport  = errors.New("portfolio file already imported for this date")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Import records one applied holdings file.
type Import struct {
	ID            uuid.UUID
	Filename      string
	SnapshotDate  time.Time
	PositionCount int
}

// Snapshot is a dated set of positions.
type Snapshot struct {
	ID        uuid.UUID            `json:"id"`
	Date      string               `json:"date"`
	Positions []portfolio.Position `json:"positions"`
}

// Repository defines data access for portfolio snapshots.
type Repository interface {
	ImportExists(ctx context.Context, filename string, snapshotDate time.Time) (bool, error)
	// ApplyImport records imp, loads the snapshot's positions, replaces them
	// with merge(existing) and upserts the securities they reference, all in
	// one transaction. A merge error rolls the transaction back and is
	// returned as is.
	ApplyImport(ctx context.Context, imp Import, merge func(existing []portfolio.Position) ([]portfolio.Position, error)) (*Snapshot, error)
	GetSnapshot(ctx context.Context, snapshotDate time.Time) (*Snapshot, error)
}

const positionSelect = `
	SELECT p.symbol, s.company_name, s.exchange, s.currency, s.logo_url,
	       p.market_value_cents, p.shares, p.weight_bps
	FROM portfolio_positions p
	JOIN securities s ON s.symbol = p.symbol
	WHERE p.snapshot_id = $1
	ORDER BY p.market_value_cents DESC, p.symbol ASC`

var positionColumns = []string{"snapshot_id", "symbol", "market_value_cents", "weight_bps", "shares"}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository creates a new PostgreSQL portfolio repository
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ImportExists(ctx context.Context, filename string, snapshotDate time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM portfolio_imports WHERE filename = $1 AND snapshot_date = $2)`,
		filename, snapshotDate,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check portfolio import: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ApplyImport(ctx context.Context, imp Import, merge func([]portfolio.Position) ([]portfolio.Position, error)) (*Snapshot, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO portfolio_imports (id, filename, snapshot_date, position_count)
		VALUES ($1, $2, $3, $4)`,
		imp.ID, imp.Filename, imp.SnapshotDate, imp.PositionCount,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateImport
		}
		return nil, fmt.Errorf("failed to insert portfolio import: %w", err)
	}

	var snapshotID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO portfolio_snapshots (id, snapshot_date)
		VALUES ($1, $2)
		ON CONFLICT (snapshot_date) DO UPDATE SET updated_at = NOW()
		RETURNING id`,
		uuid.New(), imp.SnapshotDate,
	).Scan(&snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	existing, err := loadPositions(ctx, tx, snapshotID)
	if err != nil {
		return nil, err
	}

	merged, err := merge(existing)
	if err != nil {
		return nil, err
	}

	for _, p := range merged {
		_, err = tx.Exec(ctx, `
			INSERT INTO securities (symbol, company_name, exchange, currency, logo_url)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (symbol) DO UPDATE SET
				company_name = EXCLUDED.company_name,
				exchange = EXCLUDED.exchange,
				currency = EXCLUDED.currency,
				logo_url = EXCLUDED.logo_url,
				updated_at = NOW()`,
			p.Symbol, p.CompanyName, p.Exchange, p.Currency, p.LogoURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert security %s: %w", p.Symbol, err)
		}
	}

	if _, err = tx.Exec(ctx, `DELETE FROM portfolio_positions WHERE snapshot_id = $1`, snapshotID); err != nil {
		return nil, fmt.Errorf("failed to clear positions: %w", err)
	}

	if len(merged) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"portfolio_positions"}, positionColumns,
			pgx.CopyFromSlice(len(merged), func(i int) ([]any, error) {
				p := merged[i]
				return []any{snapshotID, p.Symbol, p.MarketValueCents, p.WeightBps, p.Shares}, nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert positions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateImport
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Snapshot{
		ID:        snapshotID,
		Date:      imp.SnapshotDate.Format(time.DateOnly),
		Positions: merged,
	}, nil
}

func (r *PostgresRepository) GetSnapshot(ctx context.Context, snapshotDate time.Time) (*Snapshot, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM portfolio_snapshots WHERE snapshot_date = $1`, snapshotDate,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	positions, err := loadPositions(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: id, Date: snapshotDate.Format(time.DateOnly), Positions: positions}, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadPositions(ctx context.Context, q querier, snapshotID uuid.UUID) ([]portfolio.Position, error) {
	rows, err := q.Query(ctx, positionSelect, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []portfolio.Position
	for rows.Next() {
		var p portfolio.Position
		if err := rows.Scan(
			&p.Symbol, &p.CompanyName, &p.Exchange, &p.Currency, &p.LogoURL,
			&p.MarketValueCents, &p.Shares, &p.WeightBps,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	return positions, nil
}
