package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SQLiteStore keeps the snapshot in three tables that are rewritten inside a
// single transaction. The database file is created on the first Save.
type SQLiteStore struct {
	path      string
	db        *sql.DB
	recovered string
}

// corruptSuffix is appended to a database file that could not be opened.
const corruptSuffix = ".corrupt"

// NewSQLiteStore returns a store backed by the database at dbPath, opening it
// if it already exists. A file that is not a readable database is moved to
// dbPath+".corrupt" and replaced by an empty one, so Load reports ErrNoIndex
// and the index is rebuilt.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	s := &SQLiteStore{path: dbPath}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return s, nil
	}
	db, err := openSQLite(dbPath)
	if err == nil {
		s.db = db
		return s, nil
	}
	if !isCorruptDatabase(err) {
		return nil, err
	}
	if err := moveAside(dbPath); err != nil {
		return nil, fmt.Errorf("failed to move corrupt database aside: %w", err)
	}
	if s.db, err = openSQLite(dbPath); err != nil {
		return nil, err
	}
	s.recovered = dbPath + corruptSuffix
	return s, nil
}

// ensureOpen creates the database and its parent directories on first use.
func (s *SQLiteStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := openSQLite(s.path)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// moveAside renames the database to its corrupt name and drops its WAL files.
func moveAside(dbPath string) error {
	if err := os.Rename(dbPath, dbPath+corruptSuffix); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Recovered returns the path an unreadable database was moved to when the
// store was opened, or "" if the database opened cleanly.
func (s *SQLiteStore) Recovered() string {
	return s.recovered
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunk_texts (
		position INTEGER PRIMARY KEY,
		text TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunk_vectors (
		position INTEGER PRIMARY KEY,
		vector BLOB NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Save replaces every row of the three tables in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"index_meta", "chunk_texts", "chunk_vectors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		"fingerprint": snap.Fingerprint,
		"model":       snap.Model,
		"dimensions":  strconv.Itoa(snap.Dimensions),
		"count":       strconv.Itoa(len(snap.Texts)),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	textStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_texts (position, text) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer textStmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_vectors (position, vector) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, text := range snap.Texts {
		if _, err := textStmt.ExecContext(ctx, i, text); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", i, err)
		}
		if _, err := vecStmt.ExecContext(ctx, i, EncodeVector(snap.Vectors[i])); err != nil {
			return fmt.Errorf("failed to write vector %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// Load reads the snapshot back, checking that the tables agree with each other.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	if s.db == nil {
		return nil, ErrNoIndex
	}
	meta, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	fp, ok := meta["fingerprint"]
	if !ok {
		return nil, ErrNoIndex
	}
	dims, err := strconv.Atoi(meta["dimensions"])
	if err != nil {
		return nil, fmt.Errorf("%w: dimensions: %v", ErrCorrupt, err)
	}
	count, err := strconv.Atoi(meta["count"])
	if err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrCorrupt, err)
	}

	texts, err := s.readTexts(ctx)
	if err != nil {
		return nil, err
	}
	vectors, err := s.readVectors(ctx)
	if err != nil {
		return nil, err
	}
	if len(texts) != count || len(vectors) != count {
		return nil, fmt.Errorf("%w: %d texts and %d vectors, metadata says %d", ErrCorrupt, len(texts), len(vectors), count)
	}

	snap := &Snapshot{
		Fingerprint: fp,
		Model:       meta["model"],
		Dimensions:  dims,
		Texts:       texts,
		Vectors:     vectors,
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return snap, nil
}

func (s *SQLiteStore) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *SQLiteStore) readTexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position, text FROM chunk_texts ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()
	texts := make([]string, 0)
	for rows.Next() {
		var pos int
		var text string
		if err := rows.Scan(&pos, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if pos != len(texts) {
			return nil, fmt.Errorf("%w: chunk position %d out of sequence", ErrCorrupt, pos)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func (s *SQLiteStore) readVectors(ctx context.Context) ([][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position, vector FROM chunk_vectors ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()
	vectors := make([][]float32, 0)
	for rows.Next() {
		var pos int
		var blob []byte
		if err := rows.Scan(&pos, &blob); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if pos != len(vectors) {
			return nil, fmt.Errorf("%w: vector position %d out of sequence", ErrCorrupt, pos)
		}
		v, err := DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// Exists reports whether a snapshot has been saved.
func (s *SQLiteStore) Exists() bool {
	if s.db == nil {
		return false
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM index_meta WHERE key = 'fingerprint'`).Scan(&n)
	if err != nil {
		return false
	}
	return n > 0
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Persistence = (*SQLiteStore)(nil)
