package merge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gaby/audiobookd/internal/db"
	"github.com/gaby/audiobookd/internal/library"
)

func newTestEngine(t *testing.T) (*Engine, *library.Store, int64) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	store := library.NewStore(d)

	ctx := context.Background()
	_, err = d.SQL.ExecContext(ctx, `INSERT INTO libraries(name,kind,local_path,root_path) VALUES('L','local','/x','/x')`)
	if err != nil {
		t.Fatalf("seed library: %v", err)
	}
	var libID int64
	if err := d.SQL.QueryRowContext(ctx, `SELECT id FROM libraries ORDER BY id DESC LIMIT 1`).Scan(&libID); err != nil {
		t.Fatalf("fetch library id: %v", err)
	}
	return NewEngine(store), store, libID
}

func TestAutoMergeFoldsDuplicateBooksWithSameTitleAndAuthor(t *testing.T) {
	e, store, libID := newTestEngine(t)
	ctx := context.Background()

	b1, err := store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Frank Herbert", Path: "/d1", Hash: "h1"})
	if err != nil {
		t.Fatalf("InsertBook b1: %v", err)
	}
	b2, err := store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Frank Herbert", Path: "/d2", Hash: "h2"})
	if err != nil {
		t.Fatalf("InsertBook b2: %v", err)
	}

	if _, err := store.InsertChapter(ctx, library.Chapter{BookID: b1.ID, Title: "Book One, Chapter 1", Path: "/d1/c1.mp3", Hash: "c1", ChapterIndex: 0}); err != nil {
		t.Fatalf("InsertChapter: %v", err)
	}
	if _, err := store.InsertChapter(ctx, library.Chapter{BookID: b2.ID, Title: "Book One, Chapter 2", Path: "/d2/c2.mp3", Hash: "c2", ChapterIndex: 0}); err != nil {
		t.Fatalf("InsertChapter: %v", err)
	}

	if err := e.AutoMerge(ctx, libID); err != nil {
		t.Fatalf("AutoMerge: %v", err)
	}

	remaining, err := store.ListBooksByLibrary(ctx, libID)
	if err != nil {
		t.Fatalf("ListBooksByLibrary: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("remaining books = %d, want 1", len(remaining))
	}
	if !remaining[0].ManualCorrected {
		t.Fatal("target should be marked manual_corrected after merge")
	}

	chapters, err := store.ListChaptersByBook(ctx, remaining[0].ID)
	if err != nil {
		t.Fatalf("ListChaptersByBook: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(chapters))
	}

	byIndex := make(map[int]string, len(chapters))
	for _, c := range chapters {
		byIndex[c.ChapterIndex] = c.Title
	}
	if byIndex[0] != "Book One, Chapter 1" || byIndex[1] != "Book One, Chapter 2" {
		t.Fatalf("post-merge chapters must be 0-based and natural-sorted by title: %+v", chapters)
	}
}

func TestAutoMergePrefersManualCorrectedTarget(t *testing.T) {
	e, store, libID := newTestEngine(t)
	ctx := context.Background()

	b1, _ := store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Herbert", Path: "/d1", Hash: "h1"})
	b2, _ := store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Herbert", Path: "/d2", Hash: "h2", ManualCorrected: true})

	if err := e.AutoMerge(ctx, libID); err != nil {
		t.Fatalf("AutoMerge: %v", err)
	}

	remaining, err := store.ListBooksByLibrary(ctx, libID)
	if err != nil {
		t.Fatalf("ListBooksByLibrary: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != b2.ID {
		t.Fatalf("remaining = %+v, want only b2 (%d) to survive", remaining, b2.ID)
	}
	_ = b1
}

func TestAutoMergeSkipsGroupsWithDifferentAuthors(t *testing.T) {
	e, store, libID := newTestEngine(t)
	ctx := context.Background()

	store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Author A", Path: "/d1", Hash: "h1"})
	store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "Dune", Author: "Author B", Path: "/d2", Hash: "h2"})

	if err := e.AutoMerge(ctx, libID); err != nil {
		t.Fatalf("AutoMerge: %v", err)
	}
	remaining, err := store.ListBooksByLibrary(ctx, libID)
	if err != nil {
		t.Fatalf("ListBooksByLibrary: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2 (no merge across differing authors)", len(remaining))
	}
}

func TestSuggestSimilarRecordsPendingSuggestionForCloseTitles(t *testing.T) {
	e, store, libID := newTestEngine(t)
	ctx := context.Background()

	store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "The Hobbit", Author: "Frank Herbert", Path: "/d1", Hash: "h1"})
	store.InsertBook(ctx, library.Book{LibraryID: libID, Title: "The Hobbitt", Author: "Frank Herbert", Path: "/d2", Hash: "h2"})

	if err := e.SuggestSimilar(ctx, libID); err != nil {
		t.Fatalf("SuggestSimilar: %v", err)
	}

	var count int
	if err := store.DB().SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM merge_suggestions WHERE status='pending'`).Scan(&count); err != nil {
		t.Fatalf("count suggestions: %v", err)
	}
	if count != 1 {
		t.Fatalf("pending suggestions = %d, want 1", count)
	}
}
