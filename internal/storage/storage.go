// Package storage persists candidates and published articles in PostgreSQL
// or SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/adrg/xdg"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrDuplicate     = errors.New("article already exists")
	ErrNotFound      = errors.New("article not found")
	ErrNotQueued     = errors.New("article is not queued")
	ErrInvalidStatus = errors.New("invalid status")
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Store is the durable queue and article repository.
type Store struct {
	db      *sql.DB
	dialect string
	sb      sq.StatementBuilderType
}

// Open connects to dsn and creates the schema when missing.
//
// postgres:// and postgresql:// DSNs select PostgreSQL. Anything else is a
// SQLite path, optionally prefixed with sqlite://. An empty dsn uses a file
// under the XDG data directory.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dialect, target, err := resolveDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect, target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := &Store{db: db, dialect: dialect, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if dialect == DialectPostgres {
		s.sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func resolveDSN(dsn string) (dialect, target string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case dsn == "":
		path := filepath.Join(xdg.DataHome, "techfeed", "techfeed.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", "", fmt.Errorf("create data dir: %w", err)
		}
		return DialectSQLite, path, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	default:
		return DialectSQLite, dsn, nil
	}
}

func (s *Store) Dialect() string { return s.dialect }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	fingerprint VARCHAR(64) NOT NULL,
	slug TEXT NOT NULL,
	status VARCHAR(16) NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	draft_context TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	domain VARCHAR(64) NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	key_takeaways TEXT NOT NULL DEFAULT '[]',
	original_sources TEXT NOT NULL DEFAULT '[]',
	views BIGINT NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_fingerprint ON articles(fingerprint);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_slug ON articles(slug);
CREATE INDEX IF NOT EXISTS idx_articles_status_created ON articles(status, created_at);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at)
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	slug TEXT NOT NULL,
	status TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	draft_context TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	key_takeaways TEXT NOT NULL DEFAULT '[]',
	original_sources TEXT NOT NULL DEFAULT '[]',
	views INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_fingerprint ON articles(fingerprint);
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_slug ON articles(slug);
CREATE INDEX IF NOT EXISTS idx_articles_status_created ON articles(status, created_at);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at)
`

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
