// Package postgres is the PostgreSQL-backed catalog.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/zkgate/internal/catalog"
	"github.com/R3E-Network/zkgate/internal/platform/migrations"
)

// Store implements catalog.Catalog on the zkgate_programs table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ catalog.Catalog = (*Store)(nil)

// New wraps an open handle. The driver name of db must use $N bind variables.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

func (s *Store) Put(ctx context.Context, rec catalog.Record) error {
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO zkgate_programs (id, name, vendor, digest, compiler_version, artifact_path, created_at, updated_at)
		VALUES (:id, :name, :vendor, :digest, :compiler_version, :artifact_path, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			vendor = EXCLUDED.vendor,
			digest = EXCLUDED.digest,
			compiler_version = EXCLUDED.compiler_version,
			artifact_path = EXCLUDED.artifact_path,
			updated_at = EXCLUDED.updated_at
	`, rec)
	if err != nil {
		return fmt.Errorf("put program %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (catalog.Record, error) {
	var rec catalog.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, name, vendor, digest, compiler_version, artifact_path, created_at, updated_at
		FROM zkgate_programs
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Record{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Record{}, fmt.Errorf("get program %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]catalog.Record, error) {
	var recs []catalog.Record
	err := s.db.SelectContext(ctx, &recs, `
		SELECT id, name, vendor, digest, compiler_version, artifact_path, created_at, updated_at
		FROM zkgate_programs
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM zkgate_programs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete program %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
