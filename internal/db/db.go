// Package db implements persistence (spec.md §4.1 "Persistence" / C13):
// a pooled SQLite connection in WAL mode with foreign keys on, and schema
// migrations; the repositories over it live in internal/library and
// internal/tasks. Grounded on the teacher's
// internal/db package (same modernc.org/sqlite driver, same
// file:...?_pragma=... DSN style), generalized from a single jobs table
// to the full library/book/chapter/task schema spec.md §3 and §6 call
// for.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	SQL *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite tolerates multiple reader connections; writes
	// serialize internally, same bound the teacher used.
	s.SetMaxOpenConns(4)
	s.SetMaxIdleConns(4)

	d := &DB{SQL: s}
	if err := d.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.SQL.Close() }

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`,

	`CREATE TABLE IF NOT EXISTS libraries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL, -- 'local' | 'webdav'
		local_path TEXT NOT NULL DEFAULT '',
		webdav_url TEXT NOT NULL DEFAULT '',
		webdav_username TEXT NOT NULL DEFAULT '',
		webdav_password_enc TEXT NOT NULL DEFAULT '',
		root_path TEXT NOT NULL DEFAULT '',
		last_scanned_at INTEGER,
		scraper_config_json TEXT NOT NULL DEFAULT '{}',
		scraping_enabled INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		narrator TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		theme_color TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		hash TEXT NOT NULL,
		manual_corrected INTEGER NOT NULL DEFAULT 0,
		match_pattern TEXT NOT NULL DEFAULT '',
		chapter_regex TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_books_library_hash ON books(library_id, hash);`,
	`CREATE INDEX IF NOT EXISTS idx_books_library ON books(library_id);`,

	`CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		title TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		chapter_index INTEGER NOT NULL DEFAULT 0,
		is_extra INTEGER NOT NULL DEFAULT 0,
		hash TEXT NOT NULL,
		manual_corrected INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_book ON chapters(book_id);`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_hash ON chapters(book_id, hash);`,

	`CREATE TABLE IF NOT EXISTS merge_suggestions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_a_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		book_b_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
		score REAL NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending'
	);`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		error TEXT,
		retries INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_type_status ON tasks(type, status);`,

	// Out-of-scope surfaces (spec.md §1) kept only as schema shape so
	// foreign keys and the prefetcher's per-user-flag lookup resolve;
	// CRUD for these lives in the external REST layer.
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'user'
	);`,
	`CREATE TABLE IF NOT EXISTS user_library_access (
		user_id INTEGER NOT NULL,
		library_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, library_id)
	);`,
	`CREATE TABLE IF NOT EXISTS user_book_access (
		user_id INTEGER NOT NULL,
		book_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, book_id)
	);`,
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER PRIMARY KEY,
		auto_preload INTEGER NOT NULL DEFAULT 1,
		auto_cache INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS progress (
		user_id INTEGER NOT NULL,
		chapter_id INTEGER NOT NULL,
		position REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, chapter_id)
	);`,
	`CREATE TABLE IF NOT EXISTS favorites (
		user_id INTEGER NOT NULL,
		book_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, book_id)
	);`,
}

func (d *DB) migrate() error {
	for _, s := range migrations {
		if _, err := d.SQL.Exec(s); err != nil {
			es := err.Error()
			if strings.Contains(es, "duplicate") || strings.Contains(es, "already exists") {
				continue
			}
			return err
		}
	}
	_, _ = d.SQL.Exec(`INSERT OR IGNORE INTO schema_migrations(version) VALUES (1)`)

	// Recovery: if the process restarted mid-scan, a queued/running
	// library_scan task survives as a row but no runner owns it anymore.
	// Mark it terminal instead of leaving it stuck, mirroring the
	// teacher's own post-restart normalization of stuck jobs.
	_, _ = d.SQL.Exec(`UPDATE tasks SET status='failed', error='interrupted by restart', updated_at=? WHERE status IN ('running','queued') AND type='library_scan'`, nowUnix())
	return nil
}

func nowUnix() int64 { return time.Now().Unix() }
