// Package store persists tenant configuration and the per-tenant message log.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database and applies the schema. Supported
// dialects are "sqlite" (default) and "postgres".
func Open(dialect, dsn string) (*sqlx.DB, error) {
	var driver string
	switch dialect {
	case "", "sqlite":
		driver = "sqlite"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported db dialect %q", dialect)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("dialect", driver).Msg("Database ready")
	return db, nil
}

func migrate(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			business_name TEXT NOT NULL DEFAULT '',
			business_description TEXT NOT NULL DEFAULT '',
			menu TEXT NOT NULL DEFAULT '',
			bot_prompt TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL DEFAULT '',
			subscription TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			body TEXT NOT NULL,
			contact TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			PRIMARY KEY (id, tenant_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_tenant_time ON messages (tenant_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
