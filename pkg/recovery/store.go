// Copyright 2025 Certen Protocol
//
// BackupStore - Pluggable Durable Storage for Chain Backups
// The core never imports a concrete BackupStore; FileStore and
// PostgresStore are the ledger's own collaborator implementations, wired
// the way the teacher wires its connection-pooled database.Client.

package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// BackupStore is the collaborator interface the Recovery service consults
// for durable I/O. Implementations must be safe for concurrent use.
type BackupStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// FileStore is a BackupStore backed by a local directory. Writes land in a
// *.tmp file and are renamed into place only on success, so a crash mid-write
// never leaves a corrupt backup visible to List/Read.
type FileStore struct {
	dir string
}

// NewFileStore constructs a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recovery: create backup dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) resolve(path string) string {
	return filepath.Join(f.dir, filepath.Clean("/"+path))
}

// Write atomically writes data to path via a temp-file-then-rename.
func (f *FileStore) Write(ctx context.Context, path string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	full := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("recovery: mkdir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("recovery: write temp file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("recovery: rename temp file: %w", err)
	}
	return nil
}

// Read returns the bytes at path.
func (f *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("recovery: read %s: %w", path, err)
	}
	return data, nil
}

// ListPrefix returns every path under dir whose relative name starts with
// prefix, most recent first (backup filenames embed a UTC timestamp).
func (f *FileStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recovery: list %s: %w", f.dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Delete removes path.
func (f *FileStore) Delete(ctx context.Context, path string) error {
	if err := os.Remove(f.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("recovery: delete %s: %w", path, err)
	}
	return nil
}

// PostgresStore is a BackupStore that persists backup blobs as rows in a
// Postgres table, for deployments that want backups co-located with other
// case metadata rather than on the ledger host's local disk.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool. The caller owns the
// pool's lifecycle (open/close); PostgresStore never closes db itself.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("recovery: nil database handle")
	}
	const schema = `
CREATE TABLE IF NOT EXISTS ledger_backups (
	path        TEXT PRIMARY KEY,
	data        BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("recovery: ensure backup table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Write upserts the blob at path.
func (p *PostgresStore) Write(ctx context.Context, path string, data []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ledger_backups (path, data, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		path, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recovery: write %s: %w", path, err)
	}
	return nil
}

// Read fetches the blob at path.
func (p *PostgresStore) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM ledger_backups WHERE path = $1`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recovery: %s: %w", path, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: read %s: %w", path, err)
	}
	return data, nil
}

// ListPrefix returns every path starting with prefix, most recent first.
func (p *PostgresStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT path FROM ledger_backups WHERE path LIKE $1 ORDER BY created_at DESC`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("recovery: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("recovery: scan row: %w", err)
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

// Delete removes the row at path.
func (p *PostgresStore) Delete(ctx context.Context, path string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM ledger_backups WHERE path = $1`, path); err != nil {
		return fmt.Errorf("recovery: delete %s: %w", path, err)
	}
	return nil
}
