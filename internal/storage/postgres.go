package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/proximity"
	_ "github.com/lib/pq"
)

// PostgresRecordStore keeps user profiles in a single table. Bucket columns
// hold already-rounded values so matching is plain equality on bucket_key.
type PostgresRecordStore struct {
	db        *sql.DB
	precision int
}

func NewPostgresRecordStore(ctx context.Context, connStr string, precision int) (*PostgresRecordStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresRecordStore{db: db, precision: precision}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var _ proximity.RecordStore = (*PostgresRecordStore)(nil)

const profilesSchema = `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		bucket_key TEXT,
		bucket_lat DOUBLE PRECISION,
		bucket_lon DOUBLE PRECISION,
		location_updated_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_profiles_bucket_key ON profiles (bucket_key);
	CREATE INDEX IF NOT EXISTS idx_profiles_updated_at ON profiles (updated_at DESC);
`

func (p *PostgresRecordStore) initSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, profilesSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (p *PostgresRecordStore) Close() error {
	return p.db.Close()
}

func (p *PostgresRecordStore) UpsertUser(ctx context.Context, userID, displayName string) error {
	query := `
		INSERT INTO profiles (id, display_name, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			updated_at = NOW()
	`
	if _, err := p.db.ExecContext(ctx, query, userID, displayName); err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", userID, err)
	}
	return nil
}

func (p *PostgresRecordStore) UpdateUserLocation(ctx context.Context, userID string, bucket geo.Bucket) error {
	query := `
		INSERT INTO profiles (id, bucket_key, bucket_lat, bucket_lon, location_updated_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			bucket_key = EXCLUDED.bucket_key,
			bucket_lat = EXCLUDED.bucket_lat,
			bucket_lon = EXCLUDED.bucket_lon,
			location_updated_at = EXCLUDED.location_updated_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, query, userID, bucket.Key(), bucket.Latitude(), bucket.Longitude())
	if err != nil {
		return fmt.Errorf("failed to update location of %s: %w", userID, err)
	}
	return nil
}

func (p *PostgresRecordStore) QueryUsersByBucket(ctx context.Context, bucket geo.Bucket, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	query := `
		SELECT id, display_name, bucket_lat, bucket_lon, location_updated_at
		FROM profiles
		WHERE bucket_key = $1 AND id <> $2
		ORDER BY id
	`
	args := []any{bucket.Key(), excludeUserID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return p.queryRecords(ctx, query, args...)
}

func (p *PostgresRecordStore) QueryAllUsers(ctx context.Context, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	query := `
		SELECT id, display_name, bucket_lat, bucket_lon, location_updated_at
		FROM profiles
		WHERE id <> $1
		ORDER BY updated_at DESC
	`
	args := []any{excludeUserID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return p.queryRecords(ctx, query, args...)
}

func (p *PostgresRecordStore) GetUserLocation(ctx context.Context, userID string) (*geo.Bucket, error) {
	query := `SELECT bucket_lat, bucket_lon FROM profiles WHERE id = $1`

	var lat, lon sql.NullFloat64
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&lat, &lon)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read location of %s: %w", userID, err)
	}
	if !lat.Valid || !lon.Valid {
		return nil, nil
	}
	b := geo.NewBucket(lat.Float64, lon.Float64, p.precision)
	return &b, nil
}

func (p *PostgresRecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]proximity.UserRecord, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var records []proximity.UserRecord
	for rows.Next() {
		var (
			record    proximity.UserRecord
			lat, lon  sql.NullFloat64
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&record.ID, &record.DisplayName, &lat, &lon, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if lat.Valid && lon.Valid {
			b := geo.NewBucket(lat.Float64, lon.Float64, p.precision)
			record.Bucket = &b
		}
		if updatedAt.Valid {
			record.UpdatedAt = updatedAt.Time
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
