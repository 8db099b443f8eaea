// Package db provides SQLite persistence for apnd.
//
// The package owns the connection, pragmas and schema migrations, and
// exposes a small statement surface (Execute, QueryScalar, QueryRows).
// Domain packages write their own SQL against it; rows come back rendered
// through rowcodec so callers decode them with one tested codec.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dataDirPerms = 0o750

// Store holds the SQLite handle for apnd. It keeps a single open
// connection, so statements from concurrent callers run one at a time.
//
//	store, err := db.Open("/var/lib/apnd/apnd.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	rows, err := store.QueryRows(ctx, "SELECT id, name FROM apn_templates")
type Store struct {
	Path string
	DB   *sql.DB
}

// pragmas run on the connection before migrations.
var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Open creates the parent directory if needed, connects, applies pragmas
// and migrates the schema.
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open bounded by ctx.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dataDirPerms); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", dir, err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := prepare(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite %s: %w", path, err)
	}
	return &Store{Path: path, DB: conn}, nil
}

func prepare(ctx context.Context, conn *sql.DB) error {
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return Migrate(ctx, conn)
}

// Close releases the connection. A nil Store is a no-op.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
