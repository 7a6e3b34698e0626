package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the manifests table. Applied by the serve command at startup
// when a database is configured.
const Schema = `
CREATE TABLE IF NOT EXISTS manifests (
    tracking_number TEXT PRIMARY KEY,
    package_number  TEXT NOT NULL DEFAULT '',
    manifest_date   TIMESTAMPTZ,
    transport_code  TEXT NOT NULL DEFAULT '',
    customer_code   TEXT NOT NULL DEFAULT '',
    goods_code      TEXT NOT NULL DEFAULT '',
    weight_kg       DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS manifests_package_number_idx ON manifests (package_number) WHERE package_number <> '';
`

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// pgStore implements Store on a pgx connection pool.
type pgStore struct {
	pool  *pgxpool.Pool
	hooks MutationHooks
}

// PGOption is a functional option for configuring the postgres store.
type PGOption func(*pgStore) error

// WithMutationHooks attaches post-commit mutation hooks to the store.
func WithMutationHooks(hooks MutationHooks) PGOption {
	return func(s *pgStore) error {
		if hooks == nil {
			return fmt.Errorf("hooks cannot be nil")
		}
		s.hooks = hooks
		return nil
	}
}

// NewPostgresStore creates a Store backed by the given pgx pool. The caller is
// responsible for closing the pool when it is done.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PGOption) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	s := &pgStore{pool: pool, hooks: NopHooks{}}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema applies the manifests schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply manifests schema: %w", err)
	}
	return nil
}

func (s *pgStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Record, error) {
	const q = `
SELECT tracking_number, package_number, manifest_date, transport_code,
       customer_code, goods_code, weight_kg, created_at, updated_at
FROM manifests WHERE tracking_number = $1`

	var (
		rec          Record
		manifestDate *time.Time
	)
	err := s.pool.QueryRow(ctx, q, trackingNumber).Scan(
		&rec.TrackingNumber,
		&rec.PackageNumber,
		&manifestDate,
		&rec.TransportCode,
		&rec.CustomerCode,
		&rec.GoodsCode,
		&rec.WeightKG,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query manifest %s: %w", trackingNumber, err)
	}
	if manifestDate != nil {
		rec.ManifestDate = *manifestDate
	}
	return &rec, nil
}

func (s *pgStore) Create(ctx context.Context, rec *Record) error {
	const q = `
INSERT INTO manifests (tracking_number, package_number, manifest_date,
                       transport_code, customer_code, goods_code, weight_kg)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		rec.TrackingNumber,
		rec.PackageNumber,
		nullableTime(rec.ManifestDate),
		rec.TransportCode,
		rec.CustomerCode,
		rec.GoodsCode,
		rec.WeightKG,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert manifest %s: %w", rec.TrackingNumber, err)
	}

	slog.Debug("Manifest created", "tracking_number", rec.TrackingNumber)
	s.hooks.OnCreate(ctx, rec.TrackingNumber)
	return nil
}

func (s *pgStore) Update(ctx context.Context, rec *Record) error {
	const q = `
UPDATE manifests
SET package_number = $2, manifest_date = $3, transport_code = $4,
    customer_code = $5, goods_code = $6, weight_kg = $7, updated_at = now()
WHERE tracking_number = $1`

	tag, err := s.pool.Exec(ctx, q,
		rec.TrackingNumber,
		rec.PackageNumber,
		nullableTime(rec.ManifestDate),
		rec.TransportCode,
		rec.CustomerCode,
		rec.GoodsCode,
		rec.WeightKG,
	)
	if err != nil {
		return fmt.Errorf("failed to update manifest %s: %w", rec.TrackingNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	slog.Debug("Manifest updated", "tracking_number", rec.TrackingNumber)
	s.hooks.OnUpdate(ctx, rec.TrackingNumber)
	return nil
}

func (s *pgStore) Delete(ctx context.Context, trackingNumber string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM manifests WHERE tracking_number = $1`, trackingNumber)
	if err != nil {
		return fmt.Errorf("failed to delete manifest %s: %w", trackingNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	slog.Debug("Manifest deleted", "tracking_number", trackingNumber)
	s.hooks.OnDelete(ctx, trackingNumber)
	return nil
}

func (s *pgStore) List(ctx context.Context, limit, offset int) ([]Record, error) {
	const q = `
SELECT tracking_number, package_number, manifest_date, transport_code,
       customer_code, goods_code, weight_kg, created_at, updated_at
FROM manifests ORDER BY tracking_number LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec          Record
			manifestDate *time.Time
		)
		if err := rows.Scan(
			&rec.TrackingNumber,
			&rec.PackageNumber,
			&manifestDate,
			&rec.TransportCode,
			&rec.CustomerCode,
			&rec.GoodsCode,
			&rec.WeightKG,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}
		if manifestDate != nil {
			rec.ManifestDate = *manifestDate
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate manifest rows: %w", err)
	}
	return out, nil
}

func (s *pgStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM manifests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count manifests: %w", err)
	}
	return n, nil
}

func (s *pgStore) CountWithPackage(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM manifests WHERE package_number <> ''`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count manifests with package: %w", err)
	}
	return n, nil
}

// nullableTime maps the zero time to NULL so unset manifest dates do not store
// the zero timestamp.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
