package scanner

import (
	"context"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/cleaner"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/crypto"
	"github.com/gaby/audiobookd/internal/hashutil"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/storage"
)

// groupStats counts what processGroup actually touched, folded into
// the scan's overall Result.
type groupStats struct {
	books    int
	chapters int
}

// processGroup resolves one directory group into a book row and its
// chapter rows (spec.md §4.6 "Resolve"). Failures here are returned to
// the caller as a GroupError and do not abort the rest of the scan.
func (p *Pipeline) processGroup(ctx context.Context, lib library.Library, matchers []matchedBook, grp group) (groupStats, error) {
	src := p.sourceFor(lib)

	book, isNew, err := p.resolveBook(ctx, lib, matchers, grp)
	if err != nil {
		return groupStats{}, err
	}

	if !book.ManualCorrected {
		if err := p.fillBookFields(ctx, lib, grp, &book); err != nil {
			return groupStats{}, err
		}
	}

	if isNew {
		created, err := p.Books.InsertBook(ctx, book)
		if err != nil {
			return groupStats{}, err
		}
		book = created
	} else {
		if err := p.Books.UpdateBook(ctx, book); err != nil {
			return groupStats{}, err
		}
	}

	stats := groupStats{books: 1}
	for i, f := range grp.Files {
		if err := p.processChapter(ctx, src, book, i, f); err != nil {
			return stats, err
		}
		stats.chapters++
	}
	return stats, nil
}

func (p *Pipeline) sourceFor(lib library.Library) storage.Source {
	if lib.Kind == library.KindWebDAV {
		return storage.Source{
			Kind:     storage.WebDAV,
			BaseURL:  lib.WebDAVURL,
			Username: lib.WebDAVUsername,
			Password: crypto.ResolvePassword(p.CryptoKey, lib.WebDAVPasswordEnc),
		}
	}
	return storage.Source{Kind: storage.Local, LocalRoot: lib.LocalPath}
}

// resolveBook finds the book this group belongs to: a match_pattern hit
// against a manual_corrected book takes precedence (spec.md §4.6 step
// 2 "new-chapter protection"), then a hash lookup, else a fresh row.
func (p *Pipeline) resolveBook(ctx context.Context, lib library.Library, matchers []matchedBook, grp group) (library.Book, bool, error) {
	for _, m := range matchers {
		if m.pattern.MatchString(grp.DirName) {
			return m.book, false, nil
		}
	}

	hash := hashutil.BookHash(grp.DirPath)
	existing, err := p.Books.GetBookByHash(ctx, lib.ID, hash)
	if err == nil {
		return existing, false, nil
	}
	if err != library.ErrNotFound {
		return library.Book{}, false, err
	}

	return library.Book{
		LibraryID: lib.ID,
		Title:     cleanedTitle(grp.DirName),
		Path:      grp.DirPath,
		Hash:      hash,
	}, true, nil
}

func cleanedTitle(dirName string) string {
	if title, _ := cleaner.Clean(dirName, "", nil); title != "" {
		return title
	}
	return dirName
}

// fillBookFields applies tag/NFO extraction (local libraries only,
// spec.md §4.4) and the scraper orchestrator, without overwriting any
// field the book already carries from a prior scan.
func (p *Pipeline) fillBookFields(ctx context.Context, lib library.Library, grp group, book *library.Book) error {
	if lib.Kind != library.KindWebDAV && p.Metadata != nil {
		var paths []string
		for _, f := range grp.Files {
			paths = append(paths, f.LocalPath)
		}
		fields := p.Metadata.ExtractBook(ctx, grp.DirPath, paths)
		applyIfEmpty(&book.Title, fields.Title)
		applyIfEmpty(&book.Author, fields.Author)
		applyIfEmpty(&book.Narrator, fields.Narrator)
		applyIfEmpty(&book.Description, fields.Intro)
		applyIfEmpty(&book.CoverURL, fields.CoverURL)
		applyIfEmpty(&book.ThemeColor, fields.ThemeColor)
		if book.Tags == "" && len(fields.Tags) > 0 {
			book.Tags = strings.Join(fields.Tags, ",")
		}
	}

	if !lib.ScrapingEnabled || p.Scraper == nil {
		return nil
	}
	if book.Author != "" && book.Description != "" && book.CoverURL != "" {
		return nil
	}

	cfg := p.scraperConfigFor(lib)
	query := book.Title
	if book.Author != "" {
		query = book.Title + " " + book.Author
	}
	scraped, err := p.Scraper.Scrape(ctx, cfg, query, 1, 1)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	applyIfEmpty(&book.Author, scraped.Author)
	applyIfEmpty(&book.Narrator, scraped.Narrator)
	applyIfEmpty(&book.Description, scraped.Description)
	applyIfEmpty(&book.CoverURL, scraped.CoverURL)
	if book.Tags == "" && len(scraped.Tags) > 0 {
		book.Tags = strings.Join(scraped.Tags, ",")
	}
	return nil
}

func (p *Pipeline) scraperConfigFor(lib library.Library) config.ScraperDefaults {
	cfg := p.Defaults
	override := library.ParseScraperConfig(lib.ScraperConfigJSON)
	if len(override.DefaultSources) > 0 {
		cfg.DefaultSources = override.DefaultSources
	}
	if len(override.FieldSources) > 0 {
		merged := make(map[string]string, len(cfg.FieldSources)+len(override.FieldSources))
		for k, v := range cfg.FieldSources {
			merged[k] = v
		}
		for k, v := range override.FieldSources {
			merged[k] = v
		}
		cfg.FieldSources = merged
	}
	if override.CacheTTLSecs > 0 {
		cfg.CacheTTLSecs = override.CacheTTLSecs
	}
	if override.CacheMaxSize > 0 {
		cfg.CacheMaxSize = override.CacheMaxSize
	}
	return cfg
}

func applyIfEmpty(dst *string, val string) {
	if *dst == "" && val != "" {
		*dst = val
	}
}

// processChapter resolves the chapter row for a single audio file. The
// content hash (not mtime) decides whether anything actually changed:
// re-hashing an untouched file reproduces the same hash and the row is
// left alone, which is what makes re-scanning idempotent (spec.md §8)
// regardless of how a caller's filesystem reports mtimes.
func (p *Pipeline) processChapter(ctx context.Context, src storage.Source, book library.Book, position int, f fileEntry) error {
	relPath := chapterStorePath(book, f)

	existing, err := p.Books.GetChapterByPath(ctx, book.ID, relPath)
	switch err {
	case nil:
		if existing.ManualCorrected {
			return nil
		}
		return p.reprocessChapter(ctx, src, book, position, f, &existing)
	case library.ErrNotFound:
		return p.insertNewChapter(ctx, src, book, position, f)
	default:
		return err
	}
}

func (p *Pipeline) reprocessChapter(ctx context.Context, src storage.Source, book library.Book, position int, f fileEntry, existing *library.Chapter) error {
	hash, fields, err := p.hashAndExtract(ctx, src, f)
	if err != nil {
		return err
	}
	if hash == existing.Hash && existing.ChapterIndex == position {
		return nil
	}
	existing.Hash = hash
	existing.ChapterIndex = position
	if fields.Title != "" {
		existing.Title = fields.Title
	} else if existing.Title == "" {
		existing.Title = titleFromName(f.Name, book.Title)
	}
	if fields.Duration > 0 {
		existing.Duration = fields.Duration
	}
	if !existing.ManualCorrected {
		applyChapterRegex(book, f.Name, &existing.ChapterIndex, &existing.Title)
	}
	return p.Books.UpdateChapter(ctx, *existing)
}

func (p *Pipeline) insertNewChapter(ctx context.Context, src storage.Source, book library.Book, position int, f fileEntry) error {
	hash, fields, err := p.hashAndExtract(ctx, src, f)
	if err != nil {
		return err
	}
	if byHash, err := p.Books.GetChapterByHash(ctx, book.ID, hash); err == nil {
		return p.Books.ReassignChapterToBook(ctx, byHash.ID, book.ID, position)
	} else if err != library.ErrNotFound {
		return err
	}

	title := fields.Title
	isExtra := false
	if title == "" {
		title, isExtra = cleaner.Clean(f.Name, book.Title, nil)
	}
	if title == "" {
		title = titleFromName(f.Name, book.Title)
	}

	index := position
	applyChapterRegex(book, f.Name, &index, &title)

	_, err = p.Books.InsertChapter(ctx, library.Chapter{
		BookID:       book.ID,
		Title:        title,
		Path:         chapterStorePath(book, f),
		Duration:     fields.Duration,
		ChapterIndex: index,
		IsExtra:      isExtra,
		Hash:         hash,
	})
	return err
}

// applyChapterRegex runs book.ChapterRegex against filename and, when it
// matches, overrides index and/or title from its (up to two) capture
// groups (spec.md §4.6 step 5): first group is the index, second the
// title. Either group may be absent from the pattern.
func applyChapterRegex(book library.Book, filename string, index *int, title *string) {
	if book.ChapterRegex == "" {
		return
	}
	re, err := regexp.Compile(book.ChapterRegex)
	if err != nil {
		return
	}
	m := re.FindStringSubmatch(filename)
	if m == nil {
		return
	}
	if len(m) > 1 && m[1] != "" {
		if n, err := strconv.Atoi(m[1]); err == nil {
			*index = n
		}
	}
	if len(m) > 2 && m[2] != "" {
		*title = m[2]
	}
}

func titleFromName(name, bookTitle string) string {
	if idx, ok := cleaner.ChapterIndexHint(name); ok {
		return bookTitle + ", Chapter " + strconv.Itoa(idx)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (p *Pipeline) hashAndExtract(ctx context.Context, src storage.Source, f fileEntry) (string, chapterFields, error) {
	stream, size, err := p.Storage.Open(ctx, src, relativeTo(src, f), nil)
	if err != nil {
		return "", chapterFields{}, err
	}
	defer stream.Close()

	hash, err := hashutil.ChapterHash(stream, size, f.Name)
	if err != nil {
		return "", chapterFields{}, err
	}

	var out chapterFields
	if src.Kind == storage.Local && p.Metadata != nil {
		mf := p.Metadata.ExtractChapter(ctx, f.LocalPath, "")
		out.Title = mf.Title
		out.Duration = mf.Duration
	}
	return hash, out, nil
}

type chapterFields struct {
	Title    string
	Duration float64
}

func relativeTo(src storage.Source, f fileEntry) string {
	if src.Kind == storage.Local {
		rel, err := filepath.Rel(src.LocalRoot, f.LocalPath)
		if err != nil {
			return f.LocalPath
		}
		return rel
	}
	rel := strings.TrimPrefix(f.StorePath, src.BaseURL)
	rel = strings.TrimPrefix(rel, "/")
	if dec, err := url.PathUnescape(rel); err == nil {
		return dec
	}
	return rel
}

// chapterStorePath is the value written into chapters.path: stable
// across re-scans regardless of directory-walk order.
func chapterStorePath(book library.Book, f fileEntry) string {
	return f.StorePath
}
