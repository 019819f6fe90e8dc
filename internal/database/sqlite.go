package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"medguard/internal/database/migrations"
	"medguard/internal/guard"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteManifestStore keeps backup histories in SQLite: one backup_files row per
// source path, one backup_versions row per retained version, and the ordered block
// list of each version in version_blocks.
type SQLiteManifestStore struct {
	db   *sql.DB
	path string
}

var _ guard.ManifestStore = (*SQLiteManifestStore)(nil)

// NewSQLiteManifestStore opens (creating if needed) the database at path and
// migrates it to the latest schema. path can be ":memory:".
func NewSQLiteManifestStore(path string) (*SQLiteManifestStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating manifest database: %w", err)
	}

	return &SQLiteManifestStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection.
// The pool is pinned to a single connection so per-connection PRAGMAs hold and
// ":memory:" databases are not lost between queries.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (s *SQLiteManifestStore) Path() string { return s.path }

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteManifestStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Load returns the history of path, or nil if the path has never been backed up.
func (s *SQLiteManifestStore) Load(path string) (*guard.BackupInfo, error) {
	return loadInfo(context.Background(), s.db, path)
}

func loadInfo(ctx context.Context, q queryer, path string) (*guard.BackupInfo, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version, created_at, file_hash, size, permissions, modified_at
		FROM backup_versions WHERE path = ? ORDER BY version`, path)
	if err != nil {
		return nil, fmt.Errorf("%w: querying versions for %s: %w", guard.ErrIO, path, err)
	}

	var versions []guard.BackupVersion
	index := make(map[uint64]int)
	for rows.Next() {
		var (
			v                 guard.BackupVersion
			created, modified int64
			perm              uint32
		)
		if err := rows.Scan(&v.Version, &created, &v.FileHash, &v.Metadata.Size, &perm, &modified); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: decoding version row for %s: %w", guard.ErrManifestUnreadable, path, err)
		}
		v.Timestamp = time.Unix(0, created).UTC()
		v.Metadata.ModifiedAt = time.Unix(0, modified).UTC()
		v.Metadata.Permissions = fs.FileMode(perm)
		index[v.Version] = len(versions)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: iterating versions for %s: %w", guard.ErrIO, path, err)
	}
	rows.Close()

	if len(versions) == 0 {
		return nil, nil
	}

	blocks, err := q.QueryContext(ctx, `
		SELECT version, position, digest
		FROM version_blocks WHERE path = ? ORDER BY version, position`, path)
	if err != nil {
		return nil, fmt.Errorf("%w: querying blocks for %s: %w", guard.ErrIO, path, err)
	}
	defer blocks.Close()

	for blocks.Next() {
		var (
			version  uint64
			position int
			d        string
		)
		if err := blocks.Scan(&version, &position, &d); err != nil {
			return nil, fmt.Errorf("%w: decoding block row for %s: %w", guard.ErrManifestUnreadable, path, err)
		}
		i, ok := index[version]
		if !ok || position != len(versions[i].BlockHashes) {
			return nil, fmt.Errorf("%w: block list for %s version %d has a gap at %d", guard.ErrManifestUnreadable, path, version, position)
		}
		versions[i].BlockHashes = append(versions[i].BlockHashes, d)
	}
	if err := blocks.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating blocks for %s: %w", guard.ErrIO, path, err)
	}

	for i := range versions {
		if versions[i].BlockHashes == nil {
			versions[i].BlockHashes = []string{}
		}
	}

	return &guard.BackupInfo{FilePath: path, Versions: versions}, nil
}

// Save replaces the stored history for info.FilePath in one transaction.
// Versions are immutable once written, so only added and trimmed versions touch the database.
func (s *SQLiteManifestStore) Save(info *guard.BackupInfo) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", guard.ErrIO, err)
	}
	defer tx.Rollback()

	if len(info.Versions) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_files WHERE path = ?`, info.FilePath); err != nil {
			return fmt.Errorf("%w: deleting history for %s: %w", guard.ErrIO, info.FilePath, err)
		}
		return commit(tx)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backup_files (path, created_at) VALUES (?, ?)
		ON CONFLICT(path) DO NOTHING`,
		info.FilePath, info.Versions[0].Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("%w: recording file %s: %w", guard.ErrIO, info.FilePath, err)
	}

	existing, err := versionNumbers(ctx, tx, info.FilePath)
	if err != nil {
		return err
	}

	wanted := make(map[uint64]bool, len(info.Versions))
	for _, v := range info.Versions {
		wanted[v.Version] = true
	}

	for version := range existing {
		if wanted[version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_versions WHERE path = ? AND version = ?`, info.FilePath, version); err != nil {
			return fmt.Errorf("%w: trimming %s version %d: %w", guard.ErrIO, info.FilePath, version, err)
		}
	}

	for _, v := range info.Versions {
		if existing[v.Version] {
			continue
		}
		if err := insertVersion(ctx, tx, info.FilePath, v); err != nil {
			return err
		}
	}

	return commit(tx)
}

func versionNumbers(ctx context.Context, tx *sql.Tx, path string) (map[uint64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM backup_versions WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("%w: listing versions for %s: %w", guard.ErrIO, path, err)
	}
	defer rows.Close()

	out := make(map[uint64]bool)
	for rows.Next() {
		var v uint64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%w: scanning version: %w", guard.ErrIO, err)
		}
		out[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating versions: %w", guard.ErrIO, err)
	}
	return out, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, path string, v guard.BackupVersion) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO backup_versions (path, version, created_at, file_hash, size, permissions, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		path, v.Version, v.Timestamp.UnixNano(), v.FileHash, v.Metadata.Size,
		uint32(v.Metadata.Permissions), v.Metadata.ModifiedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: inserting %s version %d: %w", guard.ErrIO, path, v.Version, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO version_blocks (path, version, position, digest) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing block insert: %w", guard.ErrIO, err)
	}
	defer stmt.Close()

	for i, d := range v.BlockHashes {
		if _, err := stmt.ExecContext(ctx, path, v.Version, i, d); err != nil {
			return fmt.Errorf("%w: inserting block %d of %s version %d: %w", guard.ErrIO, i, path, v.Version, err)
		}
	}
	return nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %w", guard.ErrIO, err)
	}
	return nil
}

// List returns every stored history ordered by path.
func (s *SQLiteManifestStore) List() ([]*guard.BackupInfo, error) {
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, `SELECT path FROM backup_files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing files: %w", guard.ErrIO, err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scanning path: %w", guard.ErrIO, err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: iterating paths: %w", guard.ErrIO, err)
	}
	rows.Close()

	infos := make([]*guard.BackupInfo, 0, len(paths))
	for _, p := range paths {
		info, err := loadInfo(ctx, s.db, p)
		if err != nil {
			return nil, err
		}
		if info != nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Close closes the database connection.
func (s *SQLiteManifestStore) Close() error {
	return s.db.Close()
}
