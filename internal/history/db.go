// Package history keeps a sqlite ledger of source URLs that already became videos,
// so later jobs do not narrate the same image twice.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/reel-service/internal/core"
	"github.com/book-expert/reel-service/internal/fsutil"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// timestampLayout is fixed width so processed_at sorts chronologically as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// Record is one processed item.
type Record struct {
	URL         string    `json:"url"`
	ItemID      string    `json:"item_id"`
	JobID       string    `json:"job_id"`
	VideoPath   string    `json:"video_path"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Ledger implements core.SeenFilter on a sqlite database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database at path, creating it and its schema if needed.
func Open(path string) (*Ledger, error) {
	err := fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range pragmas {
		_, err = db.Exec(pragma)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Seen reports whether url was already turned into a video.
func (l *Ledger) Seen(ctx context.Context, url string) (bool, error) {
	var one int

	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM processed_items WHERE url = ?`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to query history for %s: %w", url, err)
	}

	return true, nil
}

// MarkProcessed stores every succeeded entry of manifest and returns how many rows
// were written. Entries already present keep their first record.
func (l *Ledger) MarkProcessed(ctx context.Context, manifest *core.Manifest) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin history transaction: %w", err)
	}

	now := l.now().UTC().Format(timestampLayout)
	written := 0

	for _, entry := range manifest.Entries {
		if entry.Status != core.StatusSucceeded || entry.Video == nil || entry.URL == "" {
			continue
		}

		result, execErr := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO processed_items (url, item_id, job_id, video_path, processed_at)
			 VALUES (?, ?, ?, ?, ?)`,
			entry.URL, entry.ItemID, manifest.JobID, entry.Video.Path, now)
		if execErr != nil {
			_ = tx.Rollback()

			return 0, fmt.Errorf("failed to record %s: %w", entry.URL, execErr)
		}

		affected, _ := result.RowsAffected()
		written += int(affected)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit history: %w", err)
	}

	return written, nil
}

// Recent returns the newest records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT url, item_id, job_id, video_path, processed_at
		 FROM processed_items ORDER BY processed_at DESC, url LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var (
			record      Record
			processedAt string
		)

		scanErr := rows.Scan(&record.URL, &record.ItemID, &record.JobID, &record.VideoPath, &processedAt)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", scanErr)
		}

		record.ProcessedAt, _ = time.Parse(timestampLayout, processedAt)
		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return records, nil
}
