// Package metadata provides the metadata store shared by the local and
// remote sides of the synchronizer.
//
// The store is an embedded SQLite database (ncruces/go-sqlite3) with WAL
// enabled so status queries can run while a reconciliation run writes. It
// keeps one record per synchronized path: the last known doc type, local
// inode, remote document id and revision, size and checksum.
//
// Writers must hold the store lock, see Lock.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// ErrNotFound is returned when no record matches a lookup.
//
//	if errors.Is(err, metadata.ErrNotFound) {
//	    // unknown to the store
//	}
var ErrNotFound = errors.New("document not found")

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the SQLite backed metadata store.
type Store struct {
	conn *sql.DB
	path string
	lock *Lock
}

// Open opens (creating if needed) the store at path and initializes its
// schema.
//
// The caller MUST call Close() when done.
//
//	store, err := metadata.Open(".twinsync/metadata.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, lock: NewLock()}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := s.conn.Exec(p.stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the documents table. It is idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		doc_type TEXT NOT NULL,
		local_id TEXT,
		remote_id TEXT,
		remote_rev TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		trashed INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_local_id ON documents(local_id);
	CREATE INDEX IF NOT EXISTS idx_documents_remote_id ON documents(remote_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Lock waits for the store lock and returns the function releasing it.
func (s *Store) Lock(ctx context.Context, owner string) (func(), error) {
	return s.lock.Acquire(ctx, owner)
}

// LockHolder returns the owner currently holding the store lock, or "".
func (s *Store) LockHolder() string {
	return s.lock.Holder()
}

const selectColumns = `SELECT path, doc_type, local_id, remote_id, remote_rev, size, checksum, trashed FROM documents`

// Get returns the record stored at path.
func (s *Store) Get(path string) (*reconcile.Snapshot, error) {
	return s.GetContext(context.Background(), path)
}

// GetContext returns the record stored at path with context support.
func (s *Store) GetContext(ctx context.Context, path string) (*reconcile.Snapshot, error) {
	return s.getOne(ctx, "path", path)
}

// GetByLocalID returns the record whose local identity is id.
func (s *Store) GetByLocalID(id string) (*reconcile.Snapshot, error) {
	return s.GetByLocalIDContext(context.Background(), id)
}

// GetByLocalIDContext returns the record whose local identity is id with context support.
func (s *Store) GetByLocalIDContext(ctx context.Context, id string) (*reconcile.Snapshot, error) {
	return s.getOne(ctx, "local_id", id)
}

// GetByRemoteID returns the record whose remote document id is id.
func (s *Store) GetByRemoteID(id string) (*reconcile.Snapshot, error) {
	return s.GetByRemoteIDContext(context.Background(), id)
}

// GetByRemoteIDContext returns the record whose remote document id is id with context support.
func (s *Store) GetByRemoteIDContext(ctx context.Context, id string) (*reconcile.Snapshot, error) {
	return s.getOne(ctx, "remote_id", id)
}

func (s *Store) getOne(ctx context.Context, column, value string) (*reconcile.Snapshot, error) {
	if value == "" {
		return nil, fmt.Errorf("%s %q: %w", column, value, ErrNotFound)
	}
	row := s.conn.QueryRowContext(ctx, selectColumns+` WHERE `+column+` = ? ORDER BY path LIMIT 1`, value)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by %s: %w", column, err)
	}
	return snap, nil
}

// List returns every record, ordered by path.
func (s *Store) List() ([]*reconcile.Snapshot, error) {
	return s.ListContext(context.Background())
}

// ListContext returns every record with context support.
func (s *Store) ListContext(ctx context.Context) ([]*reconcile.Snapshot, error) {
	rows, err := s.conn.QueryContext(ctx, selectColumns+` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*reconcile.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*reconcile.Snapshot, error) {
	var (
		snap                        reconcile.Snapshot
		docType                     string
		localID, remoteID, rev, sum sql.NullString
		trashed                     int
	)
	if err := row.Scan(&snap.Path, &docType, &localID, &remoteID, &rev, &snap.Size, &sum, &trashed); err != nil {
		return nil, err
	}
	if err := snap.DocType.UnmarshalText([]byte(docType)); err != nil {
		return nil, err
	}
	snap.LocalID = localID.String
	snap.RemoteID = remoteID.String
	snap.RemoteRev = rev.String
	snap.Checksum = sum.String
	snap.Trashed = trashed != 0
	return &snap, nil
}

// Put inserts or replaces the record at snap.Path.
func (s *Store) Put(snap *reconcile.Snapshot) error {
	return s.PutContext(context.Background(), snap)
}

// PutContext inserts or replaces a record with context support.
func (s *Store) PutContext(ctx context.Context, snap *reconcile.Snapshot) error {
	if err := put(ctx, s.conn, snap); err != nil {
		return fmt.Errorf("failed to put %s: %w", snap.Path, err)
	}
	return nil
}

// BulkPut writes all records in one transaction.
func (s *Store) BulkPut(snaps []*reconcile.Snapshot) error {
	return s.BulkPutContext(context.Background(), snaps)
}

// BulkPutContext writes all records in one transaction with context support.
func (s *Store) BulkPutContext(ctx context.Context, snaps []*reconcile.Snapshot) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snaps {
		if err := put(ctx, tx, snap); err != nil {
			return fmt.Errorf("failed to put %s: %w", snap.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, snap *reconcile.Snapshot) error {
	if snap == nil || snap.Path == "" {
		return errors.New("record has no path")
	}
	query := `
	INSERT INTO documents (
		path, doc_type, local_id, remote_id, remote_rev, size, checksum, trashed, updated_at
	) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		doc_type = excluded.doc_type,
		local_id = excluded.local_id,
		remote_id = excluded.remote_id,
		remote_rev = excluded.remote_rev,
		size = excluded.size,
		checksum = excluded.checksum,
		trashed = excluded.trashed,
		updated_at = excluded.updated_at
	`
	trashed := 0
	if snap.Trashed {
		trashed = 1
	}
	_, err := db.ExecContext(ctx, query,
		snap.Path,
		snap.DocType.String(),
		snap.LocalID,
		snap.RemoteID,
		snap.RemoteRev,
		snap.Size,
		snap.Checksum,
		trashed,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// underClause matches a path and everything below it. It takes the same
// path three times.
const underClause = `(path = ? OR substr(path, 1, length(?) + 1) = ? || '/')`

// Delete removes the record at path and every record below it. Deleting a
// missing path is not an error.
func (s *Store) Delete(path string) error {
	return s.DeleteContext(context.Background(), path)
}

// DeleteContext removes a subtree with context support.
func (s *Store) DeleteContext(ctx context.Context, path string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE `+underClause, path, path, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// MoveTree renames the record at from, and every record below it, to to.
// Whatever was recorded at to is replaced.
func (s *Store) MoveTree(from, to string) error {
	return s.MoveTreeContext(context.Background(), from, to)
}

// MoveTreeContext renames a subtree with context support.
func (s *Store) MoveTreeContext(ctx context.Context, from, to string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE `+underClause+` AND NOT `+underClause,
		to, to, to, from, from, from,
	); err != nil {
		return fmt.Errorf("failed to clear %s: %w", to, err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET path = ? || substr(path, length(?) + 1), updated_at = ? WHERE `+underClause,
		to, from, time.Now().UTC().Format(time.RFC3339), from, from, from,
	)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", from, to, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("move %s: %w", from, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of records.
func (s *Store) Count() (int, error) {
	return s.CountContext(context.Background())
}

// CountContext returns the number of records with context support.
func (s *Store) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}
