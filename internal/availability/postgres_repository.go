package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erimias46/babrber-frontend-sub000/internal/geo"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores availability in Postgres.
type PostgresRepository struct {
	db dbtx
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("availability: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db dbtx) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertBlockSQL = `
	INSERT INTO availability_blocks (id, provider_id, starts_at, ends_at, location, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// InsertBlocks writes all blocks in one transaction.
func (r *PostgresRepository) InsertBlocks(ctx context.Context, blocks ...Block) error {
	if len(blocks) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("availability: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range blocks {
		loc, err := marshalLocation(b.Location)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertBlockSQL, b.ID, b.ProviderID, b.Start, b.End, loc, b.CreatedAt, b.UpdatedAt); err != nil {
			return fmt.Errorf("availability: insert block: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("availability: commit blocks: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateBlock(ctx context.Context, block Block) error {
	loc, err := marshalLocation(block.Location)
	if err != nil {
		return err
	}
	query := `
		UPDATE availability_blocks
		SET starts_at = $1, ends_at = $2, location = $3, updated_at = $4
		WHERE id = $5 AND provider_id = $6
	`
	ct, err := r.db.Exec(ctx, query, block.Start, block.End, loc, block.UpdatedAt, block.ID, block.ProviderID)
	if err != nil {
		return fmt.Errorf("availability: update block: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteBlock(ctx context.Context, providerID, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM availability_blocks WHERE id = $1 AND provider_id = $2`, id, providerID)
	if err != nil {
		return fmt.Errorf("availability: delete block: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectBlockColumns = `SELECT id, provider_id, starts_at, ends_at, location, created_at, updated_at FROM availability_blocks`

func (r *PostgresRepository) GetBlock(ctx context.Context, providerID, id string) (*Block, error) {
	row := r.db.QueryRow(ctx, selectBlockColumns+` WHERE id = $1 AND provider_id = $2`, id, providerID)
	b, err := scanBlock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("availability: select block: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]Block, error) {
	rows, err := r.db.Query(ctx, selectBlockColumns+`
		WHERE provider_id = $1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at, id`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: list blocks: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("availability: scan block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetSettings(ctx context.Context, providerID string) (*Settings, error) {
	query := `
		SELECT provider_id, slot_interval_minutes, buffer_minutes, updated_at
		FROM scheduling_settings
		WHERE provider_id = $1
	`
	var s Settings
	if err := r.db.QueryRow(ctx, query, providerID).Scan(&s.ProviderID, &s.SlotIntervalMinutes, &s.BufferMinutes, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("availability: select settings: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) PutSettings(ctx context.Context, settings Settings) error {
	query := `
		INSERT INTO scheduling_settings (provider_id, slot_interval_minutes, buffer_minutes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id) DO UPDATE
		SET slot_interval_minutes = EXCLUDED.slot_interval_minutes,
		    buffer_minutes = EXCLUDED.buffer_minutes,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, settings.ProviderID, settings.SlotIntervalMinutes, settings.BufferMinutes, settings.UpdatedAt); err != nil {
		return fmt.Errorf("availability: upsert settings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertService(ctx context.Context, svc Service) error {
	query := `
		INSERT INTO services (id, provider_id, name, description, price_cents, duration_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.Exec(ctx, query, svc.ID, svc.ProviderID, svc.Name, svc.Description, svc.PriceCents, svc.DurationMinutes, svc.CreatedAt, svc.UpdatedAt); err != nil {
		return fmt.Errorf("availability: insert service: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateService(ctx context.Context, svc Service) error {
	query := `
		UPDATE services
		SET name = $1, description = $2, price_cents = $3, duration_minutes = $4, updated_at = $5
		WHERE id = $6 AND provider_id = $7 AND deleted_at IS NULL
	`
	ct, err := r.db.Exec(ctx, query, svc.Name, svc.Description, svc.PriceCents, svc.DurationMinutes, svc.UpdatedAt, svc.ID, svc.ProviderID)
	if err != nil {
		return fmt.Errorf("availability: update service: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteService soft-deletes so that requests keep a valid reference.
func (r *PostgresRepository) DeleteService(ctx context.Context, providerID, id string) error {
	ct, err := r.db.Exec(ctx, `UPDATE services SET deleted_at = now() WHERE id = $1 AND provider_id = $2 AND deleted_at IS NULL`, id, providerID)
	if err != nil {
		return fmt.Errorf("availability: delete service: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectServiceColumns = `SELECT id, provider_id, name, description, price_cents, duration_minutes, created_at, updated_at FROM services`

func (r *PostgresRepository) GetService(ctx context.Context, id string) (*Service, error) {
	row := r.db.QueryRow(ctx, selectServiceColumns+` WHERE id = $1 AND deleted_at IS NULL`, id)
	s, err := scanService(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("availability: select service: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) ListServices(ctx context.Context, providerID string) ([]Service, error) {
	rows, err := r.db.Query(ctx, selectServiceColumns+` WHERE provider_id = $1 AND deleted_at IS NULL ORDER BY name`, providerID)
	if err != nil {
		return nil, fmt.Errorf("availability: list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("availability: scan service: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanBlock(row pgx.Row) (Block, error) {
	var b Block
	var loc []byte
	if err := row.Scan(&b.ID, &b.ProviderID, &b.Start, &b.End, &loc, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Block{}, err
	}
	if len(loc) > 0 {
		var l geo.Location
		if err := json.Unmarshal(loc, &l); err != nil {
			return Block{}, fmt.Errorf("availability: decode location: %w", err)
		}
		b.Location = &l
	}
	return b, nil
}

func scanService(row pgx.Row) (Service, error) {
	var s Service
	err := row.Scan(&s.ID, &s.ProviderID, &s.Name, &s.Description, &s.PriceCents, &s.DurationMinutes, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func marshalLocation(loc *geo.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("availability: encode location: %w", err)
	}
	return data, nil
}
