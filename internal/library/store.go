package library

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gaby/audiobookd/internal/db"
)

var ErrNotFound = errors.New("library: not found")

type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) DB() *db.DB { return s.db }

const libraryCols = `id,name,kind,local_path,webdav_url,webdav_username,webdav_password_enc,root_path,last_scanned_at,scraper_config_json,scraping_enabled`

func scanLibrary(row interface{ Scan(dest ...any) error }) (Library, error) {
	var l Library
	var lastScanned sql.NullInt64
	var scraping int
	if err := row.Scan(&l.ID, &l.Name, &l.Kind, &l.LocalPath, &l.WebDAVURL, &l.WebDAVUsername,
		&l.WebDAVPasswordEnc, &l.RootPath, &lastScanned, &l.ScraperConfigJSON, &scraping); err != nil {
		return Library{}, err
	}
	if lastScanned.Valid {
		l.LastScannedAt = &lastScanned.Int64
	}
	l.ScrapingEnabled = scraping != 0
	return l, nil
}

func (s *Store) GetLibrary(ctx context.Context, id int64) (Library, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+libraryCols+` FROM libraries WHERE id=?`, id)
	l, err := scanLibrary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Library{}, ErrNotFound
	}
	return l, err
}

func (s *Store) ListLibraries(ctx context.Context) ([]Library, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+libraryCols+` FROM libraries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TouchLastScanned sets last_scanned_at to now, monotonic per spec.md §3.
func (s *Store) TouchLastScanned(ctx context.Context, libraryID int64) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE libraries SET last_scanned_at=? WHERE id=? AND (last_scanned_at IS NULL OR last_scanned_at < ?)`,
		time.Now().Unix(), libraryID, time.Now().Unix())
	return err
}

const bookCols = `id,library_id,title,author,narrator,cover_url,theme_color,description,tags,path,hash,manual_corrected,match_pattern,chapter_regex`

func scanBook(row interface{ Scan(dest ...any) error }) (Book, error) {
	var b Book
	var manualCorrected int
	if err := row.Scan(&b.ID, &b.LibraryID, &b.Title, &b.Author, &b.Narrator, &b.CoverURL,
		&b.ThemeColor, &b.Description, &b.Tags, &b.Path, &b.Hash, &manualCorrected,
		&b.MatchPattern, &b.ChapterRegex); err != nil {
		return Book{}, err
	}
	b.ManualCorrected = manualCorrected != 0
	return b, nil
}

func (s *Store) GetBook(ctx context.Context, id int64) (Book, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+bookCols+` FROM books WHERE id=?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, ErrNotFound
	}
	return b, err
}

func (s *Store) GetBookByHash(ctx context.Context, libraryID int64, hash string) (Book, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+bookCols+` FROM books WHERE library_id=? AND hash=?`, libraryID, hash)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, ErrNotFound
	}
	return b, err
}

// ManualCorrectedBooks returns every manual_corrected book in a library,
// fetched once at scan start for the "new-chapter protection" match
// against each newly scanned directory name (spec.md §4.6).
func (s *Store) ManualCorrectedBooks(ctx context.Context, libraryID int64) ([]Book, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+bookCols+` FROM books WHERE library_id=? AND manual_corrected=1`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListBooksByLibrary(ctx context.Context, libraryID int64) ([]Book, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+bookCols+` FROM books WHERE library_id=? ORDER BY id`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertBook creates a new book row and returns it with its assigned ID.
func (s *Store) InsertBook(ctx context.Context, b Book) (Book, error) {
	res, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO books(library_id,title,author,narrator,cover_url,theme_color,description,tags,path,hash,manual_corrected,match_pattern,chapter_regex)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.LibraryID, b.Title, b.Author, b.Narrator, b.CoverURL, b.ThemeColor, b.Description,
		b.Tags, b.Path, b.Hash, boolToInt(b.ManualCorrected), b.MatchPattern, b.ChapterRegex)
	if err != nil {
		return Book{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Book{}, err
	}
	b.ID = id
	return b, nil
}

// UpdateBook writes every field. Callers must have already applied the
// manual_corrected lock (spec.md §3: locked fields are never overwritten
// by scan/scrape) before calling this.
func (s *Store) UpdateBook(ctx context.Context, b Book) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE books SET title=?,author=?,narrator=?,cover_url=?,theme_color=?,description=?,tags=?,path=?,hash=?,manual_corrected=?,match_pattern=?,chapter_regex=? WHERE id=?`,
		b.Title, b.Author, b.Narrator, b.CoverURL, b.ThemeColor, b.Description, b.Tags,
		b.Path, b.Hash, boolToInt(b.ManualCorrected), b.MatchPattern, b.ChapterRegex, b.ID)
	return err
}

func (s *Store) DeleteBook(ctx context.Context, id int64) error {
	_, err := s.db.SQL.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
	return err
}

const chapterCols = `id,book_id,title,path,duration,chapter_index,is_extra,hash,manual_corrected,created_at`

func scanChapter(row interface{ Scan(dest ...any) error }) (Chapter, error) {
	var c Chapter
	var isExtra, manualCorrected int
	if err := row.Scan(&c.ID, &c.BookID, &c.Title, &c.Path, &c.Duration, &c.ChapterIndex,
		&isExtra, &c.Hash, &manualCorrected, &c.CreatedAt); err != nil {
		return Chapter{}, err
	}
	c.IsExtra = isExtra != 0
	c.ManualCorrected = manualCorrected != 0
	return c, nil
}

func (s *Store) GetChapter(ctx context.Context, id int64) (Chapter, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+chapterCols+` FROM chapters WHERE id=?`, id)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	return c, err
}

func (s *Store) GetChapterByPath(ctx context.Context, bookID int64, path string) (Chapter, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+chapterCols+` FROM chapters WHERE book_id=? AND path=?`, bookID, path)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	return c, err
}

func (s *Store) GetChapterByHash(ctx context.Context, bookID int64, hash string) (Chapter, error) {
	row := s.db.SQL.QueryRowContext(ctx, `SELECT `+chapterCols+` FROM chapters WHERE book_id=? AND hash=? LIMIT 1`, bookID, hash)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListChaptersByBook(ctx context.Context, bookID int64) ([]Chapter, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT `+chapterCols+` FROM chapters WHERE book_id=? ORDER BY chapter_index`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertChapter(ctx context.Context, c Chapter) (Chapter, error) {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO chapters(book_id,title,path,duration,chapter_index,is_extra,hash,manual_corrected,created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.BookID, c.Title, c.Path, c.Duration, c.ChapterIndex, boolToInt(c.IsExtra), c.Hash,
		boolToInt(c.ManualCorrected), c.CreatedAt)
	if err != nil {
		return Chapter{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Chapter{}, err
	}
	c.ID = id
	return c, nil
}

func (s *Store) UpdateChapter(ctx context.Context, c Chapter) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`UPDATE chapters SET title=?,path=?,duration=?,chapter_index=?,is_extra=?,hash=?,manual_corrected=? WHERE id=?`,
		c.Title, c.Path, c.Duration, c.ChapterIndex, boolToInt(c.IsExtra), c.Hash, boolToInt(c.ManualCorrected), c.ID)
	return err
}

// ReassignChapterToBook moves a chapter under a new book_id, used by the
// merge engine to relocate a source book's surviving chapters.
func (s *Store) ReassignChapterToBook(ctx context.Context, chapterID, targetBookID int64, newIndex int) error {
	_, err := s.db.SQL.ExecContext(ctx, `UPDATE chapters SET book_id=?, chapter_index=? WHERE id=?`, targetBookID, newIndex, chapterID)
	return err
}

// ReindexChapter sets a chapter's chapter_index without touching other fields.
func (s *Store) ReindexChapter(ctx context.Context, chapterID int64, index int) error {
	_, err := s.db.SQL.ExecContext(ctx, `UPDATE chapters SET chapter_index=? WHERE id=?`, index, chapterID)
	return err
}

func (s *Store) DeleteChapter(ctx context.Context, id int64) error {
	_, err := s.db.SQL.ExecContext(ctx, `DELETE FROM chapters WHERE id=?`, id)
	return err
}

// InsertMergeSuggestion records a pending similarity suggestion (spec.md §4.7).
func (s *Store) InsertMergeSuggestion(ctx context.Context, bookAID, bookBID int64, score float64, reason string) error {
	_, err := s.db.SQL.ExecContext(ctx,
		`INSERT INTO merge_suggestions(book_a_id,book_b_id,score,reason,status) VALUES(?,?,?,?,'pending')`,
		bookAID, bookBID, score, reason)
	return err
}
