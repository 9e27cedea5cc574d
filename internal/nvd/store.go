package nvd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const metaFeedStamp = "feed_stamp"

// Store persists parsed feed entries and the feed timestamp in a sqlite
// database, so later runs skip the download unless the cache went stale.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the cache database under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "nvd.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", path, err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id          TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		score       REAL NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the persisted entry collection wholesale and records the
// feed timestamp. The cache is rebuilt, never patched incrementally.
func (s *Store) Replace(entries []match.Entry, stamp time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting cache transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	ins, err := tx.Prepare(`INSERT OR REPLACE INTO entries (id, description, score) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() {
		_ = ins.Close()
	}()
	for _, e := range entries {
		if _, err := ins.Exec(e.ID, e.Description, e.Score); err != nil {
			return fmt.Errorf("storing entry %s: %w", e.ID, err)
		}
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaFeedStamp, stamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing feed stamp: %w", err)
	}
	return tx.Commit()
}

// Load reads the persisted entries and the feed timestamp. A cache which
// was never filled returns model.ErrNoLocalCache.
func (s *Store) Load() ([]match.Entry, time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaFeedStamp).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, model.ErrNoLocalCache
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading feed stamp: %w", err)
	}
	stamp, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parsing feed stamp %q: %w", raw, err)
	}

	rows, err := s.db.Query(`SELECT id, description, score FROM entries ORDER BY id`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []match.Entry
	for rows.Next() {
		var e match.Entry
		if err := rows.Scan(&e.ID, &e.Description, &e.Score); err != nil {
			return nil, time.Time{}, fmt.Errorf("scanning cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache entries: %w", err)
	}
	return entries, stamp, nil
}
