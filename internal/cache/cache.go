// Package cache maintains a derived sqlite index over the persisted
// commit records so queries don't walk the notes namespace every time.
// It is rebuildable from the records at any point and is never a source
// of truth.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/promptrail/internal/receipt"
)

const fileName = "cache.db"

// Cache is the sqlite-backed query index.
type Cache struct {
	db   *sql.DB
	path string
}

// Open creates or opens the cache database under dataDir, typically the
// working copy's .promptrail directory.
func Open(dataDir string) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, fileName)
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	c := &Cache{db: db, path: dbPath}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL,
		prompt_number INTEGER NOT NULL DEFAULT 0,
		prompt_summary TEXT NOT NULL DEFAULT '',
		captured_at DATETIME NOT NULL,
		session_start DATETIME,
		session_end DATETIME,
		cost_usd REAL NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read INTEGER NOT NULL DEFAULT 0,
		cache_write INTEGER NOT NULL DEFAULT 0,
		orphaned INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id, commit_sha)
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_commit ON receipts(commit_sha);
	CREATE INDEX IF NOT EXISTS idx_receipts_session ON receipts(session_id);
	CREATE INDEX IF NOT EXISTS idx_receipts_captured ON receipts(captured_at DESC);

	CREATE TABLE IF NOT EXISTS file_changes (
		receipt_id TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		path TEXT NOT NULL,
		blob_hash TEXT NOT NULL DEFAULT '',
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		orphaned INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (receipt_id, commit_sha) REFERENCES receipts(id, commit_sha) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_file_changes_path ON file_changes(path);
	CREATE INDEX IF NOT EXISTS idx_file_changes_receipt ON file_changes(receipt_id);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// recordSource is the part of the notes store the cache rebuilds from.
type recordSource interface {
	List() ([]receipt.CommitRecord, error)
}

// Rebuild drops every indexed row and repopulates from the record
// store, inside one transaction so readers never see a half-built
// index.
func (c *Cache) Rebuild(ctx context.Context, source recordSource) (int, error) {
	records, err := source.List()
	if err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_changes`); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM receipts`); err != nil {
		return 0, err
	}

	total := 0
	for _, rec := range records {
		for _, r := range rec.Receipts {
			if err := insertReceipt(ctx, tx, rec.Commit, r); err != nil {
				return 0, fmt.Errorf("index receipt %s: %w", r.ID, err)
			}
			total++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rebuild: %w", err)
	}
	return total, nil
}

func insertReceipt(ctx context.Context, tx *sql.Tx, commit string, r receipt.Receipt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO receipts (id, commit_sha, provider, model, author, session_id,
			prompt_number, prompt_summary, captured_at, session_start, session_end,
			cost_usd, input_tokens, output_tokens, cache_read, cache_write, orphaned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, commit, r.Provider, r.Model, r.Author, r.SessionID,
		r.PromptNumber, r.PromptSummary, r.CapturedAt, nullTime(r.SessionStart), nullTime(r.SessionEnd),
		r.CostUSD, r.Usage.Input, r.Usage.Output, r.Usage.CacheRead, r.Usage.CacheWrite, r.Orphaned)
	if err != nil {
		return err
	}

	for _, fc := range r.FileChanges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_changes (receipt_id, commit_sha, path, blob_hash,
				start_line, end_line, additions, deletions, orphaned)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, commit, fc.Path, fc.BlobHash,
			fc.StartLine, fc.EndLine, fc.Additions, fc.Deletions, fc.Orphaned)
		if err != nil {
			return err
		}
	}
	return nil
}

// Summary is the aggregate view over the indexed receipts.
type Summary struct {
	Receipts    int
	Commits     int
	Sessions    int
	TotalCost   float64
	TotalTokens int64
	Orphaned    int
}

// Summarize reports aggregate figures from the index.
func (c *Cache) Summarize(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT commit_sha),
		       COUNT(DISTINCT session_id),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(input_tokens + output_tokens + cache_read + cache_write), 0),
		       COALESCE(SUM(orphaned), 0)
		FROM receipts
	`).Scan(&s.Receipts, &s.Commits, &s.Sessions, &s.TotalCost, &s.TotalTokens, &s.Orphaned)
	if err != nil {
		return nil, fmt.Errorf("summarize cache: %w", err)
	}
	return s, nil
}

// CommitsForPath returns the commits whose receipts touch a path,
// newest capture first.
func (c *Cache) CommitsForPath(ctx context.Context, path string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT fc.commit_sha
		FROM file_changes fc
		JOIN receipts r ON r.id = fc.receipt_id AND r.commit_sha = fc.commit_sha
		WHERE fc.path = ?
		ORDER BY r.captured_at DESC
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []string
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return nil, err
		}
		commits = append(commits, sha)
	}
	return commits, rows.Err()
}

// SessionsSince returns distinct session ids with activity at or after
// the cutoff.
func (c *Cache) SessionsSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT session_id FROM receipts
		WHERE captured_at >= ?
		ORDER BY session_id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
