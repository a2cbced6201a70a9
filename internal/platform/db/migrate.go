package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is one versioned schema change. Migrations are embedded rather
// than read from disk so the loader binary is self-contained.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "therapy_concepts",
		SQL: `CREATE TABLE IF NOT EXISTS therapy_concepts (
			label_and_type TEXT NOT NULL,
			concept_id     TEXT NOT NULL,
			src_name       TEXT NOT NULL,
			item_type      TEXT NOT NULL,
			record         JSONB,
			PRIMARY KEY (label_and_type, concept_id)
		);
		CREATE INDEX IF NOT EXISTS idx_therapy_concepts_item_type
			ON therapy_concepts (item_type);
		CREATE INDEX IF NOT EXISTS idx_therapy_concepts_concept_id
			ON therapy_concepts (concept_id);`,
	},
	{
		Version: 2,
		Name:    "source_metadata",
		SQL: `CREATE TABLE IF NOT EXISTS source_metadata (
			src_name TEXT PRIMARY KEY,
			meta     JSONB NOT NULL
		);`,
	},
}

// Migrate applies all pending migrations, tracking progress in _migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := pool.Query(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO _migrations (version, name) VALUES ($1, $2)`,
			m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}
