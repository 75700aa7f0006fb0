package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteManifest implements Manifest using SQLite
type SQLiteManifest struct {
	db *sql.DB
}

// NewSQLiteManifest opens or creates the manifest database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLiteManifest(dbPath string) (*SQLiteManifest, error) {
	if dbPath != ":memory:" {
		dbPath = expandPath(dbPath)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	m := &SQLiteManifest{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

// initSchema creates the manifest table
func (m *SQLiteManifest) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingested_sources (
		url TEXT PRIMARY KEY,
		title TEXT,
		content_hash TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		ingested_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ingested_at ON ingested_sources(ingested_at);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Lookup returns the stored record for url, or nil when absent
func (m *SQLiteManifest) Lookup(ctx context.Context, url string) (*ManifestEntry, error) {
	var entry ManifestEntry
	err := m.db.QueryRowContext(ctx,
		"SELECT url, title, content_hash, chunks, ingested_at FROM ingested_sources WHERE url = ?", url,
	).Scan(&entry.URL, &entry.Title, &entry.ContentHash, &entry.Chunks, &entry.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", url, err)
	}
	return &entry, nil
}

// Record upserts the record for an ingested source
func (m *SQLiteManifest) Record(ctx context.Context, entry *ManifestEntry) error {
	if entry.IngestedAt.IsZero() {
		entry.IngestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ingested_sources (url, title, content_hash, chunks, ingested_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = excluded.title,
			content_hash = excluded.content_hash,
			chunks = excluded.chunks,
			ingested_at = excluded.ingested_at
	`
	if _, err := m.db.ExecContext(ctx, query,
		entry.URL, entry.Title, entry.ContentHash, entry.Chunks, entry.IngestedAt,
	); err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.URL, err)
	}
	return nil
}

// List returns records ordered by ingestion time, newest first
func (m *SQLiteManifest) List(ctx context.Context, limit int) ([]*ManifestEntry, error) {
	query := "SELECT url, title, content_hash, chunks, ingested_at FROM ingested_sources ORDER BY ingested_at DESC, url"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ManifestEntry
	for rows.Next() {
		var entry ManifestEntry
		if err := rows.Scan(&entry.URL, &entry.Title, &entry.ContentHash, &entry.Chunks, &entry.IngestedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Close closes the database connection
func (m *SQLiteManifest) Close() error {
	return m.db.Close()
}
