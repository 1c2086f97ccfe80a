// Package pgstore is the Postgres-backed kv.Store, for deployments that
// already run Postgres and want the entitlement record in the same database.
package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps one row per key in a simple upsert table.
type Store struct {
	pg     *pgxpool.Pool
	schema string
}

// New creates a Store against the given schema (default "adkit").
func New(pg *pgxpool.Pool, schema string) *Store {
	s := strings.TrimSpace(schema)
	if s == "" {
		s = "adkit"
	}
	return &Store{pg: pg, schema: s}
}

func (s *Store) table() string { return s.schema + ".kv" }

// Migrate creates the schema and table if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pg.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+s.schema); err != nil {
		return err
	}
	_, err := s.pg.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table()+` (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pg.QueryRow(ctx, `SELECT value FROM `+s.table()+` WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pg.Exec(ctx, `INSERT INTO `+s.table()+` (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pg.Exec(ctx, `DELETE FROM `+s.table()+` WHERE key = $1`, key)
	return err
}
