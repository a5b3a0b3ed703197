// Package pg implements every store.* interface against Postgres, using
// jackc/pgx/v5's stdlib driver so the rest of the codebase can keep using
// the familiar database/sql surface while getting pgx's connection pool
// and native type handling underneath.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens a pooled Postgres connection. dsn must come from the
// environment (config.DatabaseConfig.PostgresDSN) — never from a
// version-controlled file.
func OpenDB(dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
