package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between MySQL and SQLite.
type Dialect struct {
	Name         string
	insertIgnore string
	schema       []string
}

var MySQL = Dialect{
	Name:         "mysql",
	insertIgnore: "INSERT IGNORE INTO",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS marketplace_items (
			id          VARCHAR(64)  NOT NULL PRIMARY KEY,
			title       VARCHAR(255) NOT NULL,
			type        VARCHAR(64)  NOT NULL,
			description TEXT         NOT NULL,
			tags        TEXT         NOT NULL,
			license     TEXT         NOT NULL,
			images      TEXT         NOT NULL,
			is_free     BOOLEAN      NOT NULL,
			price       BIGINT       NOT NULL,
			drive_link  TEXT         NOT NULL,
			downloads   BIGINT       NOT NULL DEFAULT 0,
			created_at  BIGINT       NOT NULL,
			updated_at  BIGINT       NOT NULL,
			INDEX idx_items_type_created (type, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS blog_posts (
			id          VARCHAR(64)  NOT NULL PRIMARY KEY,
			title       VARCHAR(255) NOT NULL,
			author      VARCHAR(255) NOT NULL,
			content     MEDIUMTEXT   NOT NULL,
			cover_image TEXT         NOT NULL,
			created_at  BIGINT       NOT NULL,
			INDEX idx_posts_created (created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_purchases (
			id              VARCHAR(64)  NOT NULL PRIMARY KEY,
			item_id         VARCHAR(64)  NOT NULL,
			email           VARCHAR(320) NOT NULL,
			amount          BIGINT       NOT NULL,
			currency        VARCHAR(8)   NOT NULL,
			status          VARCHAR(16)  NOT NULL,
			payment_url     TEXT         NOT NULL,
			idempotency_key CHAR(64)     NOT NULL,
			created_at      BIGINT       NOT NULL,
			updated_at      BIGINT       NOT NULL,
			UNIQUE KEY uq_purchases_idempotency (idempotency_key),
			INDEX idx_purchases_status_created (status, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS fulfillments (
			idempotency_key CHAR(64)     NOT NULL PRIMARY KEY,
			item_id         VARCHAR(64)  NOT NULL,
			email           VARCHAR(320) NOT NULL,
			reference       VARCHAR(128) NOT NULL,
			source          VARCHAR(16)  NOT NULL,
			created_at      BIGINT       NOT NULL
		)`,
	},
}

var SQLite = Dialect{
	Name:         "sqlite",
	insertIgnore: "INSERT OR IGNORE INTO",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS marketplace_items (
			id          TEXT    NOT NULL PRIMARY KEY,
			title       TEXT    NOT NULL,
			type        TEXT    NOT NULL,
			description TEXT    NOT NULL,
			tags        TEXT    NOT NULL,
			license     TEXT    NOT NULL,
			images      TEXT    NOT NULL,
			is_free     INTEGER NOT NULL,
			price       INTEGER NOT NULL,
			drive_link  TEXT    NOT NULL,
			downloads   INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_type_created ON marketplace_items (type, created_at)`,
		`CREATE TABLE IF NOT EXISTS blog_posts (
			id          TEXT    NOT NULL PRIMARY KEY,
			title       TEXT    NOT NULL,
			author      TEXT    NOT NULL,
			content     TEXT    NOT NULL,
			cover_image TEXT    NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created ON blog_posts (created_at)`,
		`CREATE TABLE IF NOT EXISTS pending_purchases (
			id              TEXT    NOT NULL PRIMARY KEY,
			item_id         TEXT    NOT NULL,
			email           TEXT    NOT NULL,
			amount          INTEGER NOT NULL,
			currency        TEXT    NOT NULL,
			status          TEXT    NOT NULL,
			payment_url     TEXT    NOT NULL,
			idempotency_key TEXT    NOT NULL UNIQUE,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_status_created ON pending_purchases (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS fulfillments (
			idempotency_key TEXT    NOT NULL PRIMARY KEY,
			item_id         TEXT    NOT NULL,
			email           TEXT    NOT NULL,
			reference       TEXT    NOT NULL,
			source          TEXT    NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
	},
}

func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case MySQL.Name:
		return MySQL, nil
	case SQLite.Name:
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenSQL opens and pings the database. SQLite is limited to one
// connection because it serializes writers anyway.
func OpenSQL(ctx context.Context, driver, dsn string, pool PoolConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("open %s: %w", driver, err)
	}

	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxIdleConns)
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Dialect{}, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, dialect, nil
}

// Migrate creates the tables the adapter needs if they do not exist.
func (m *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range m.dialect.schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", m.dialect.Name, err)
		}
	}
	return nil
}
