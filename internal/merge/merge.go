// Package merge implements the merge engine (spec.md §4.7): an
// auto-merge pass run at the end of every scan that folds duplicate
// books with identical title/author into one, and a separate
// similarity-suggestion pass that only ever proposes merges for human
// review.
package merge

import (
	"context"
	"sort"
	"strings"

	edlib "github.com/hbollon/go-edlib"

	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/natsort"
)

// Engine runs the merge passes against a library.Store.
type Engine struct {
	Books *library.Store
}

func NewEngine(books *library.Store) *Engine { return &Engine{Books: books} }

// AutoMerge groups libraryID's books by title, and for every group of
// size >= 2 whose books also share an author, folds them into one
// target (spec.md §4.7). It is meant to run once per scan, after the
// scan pipeline finishes walking.
func (e *Engine) AutoMerge(ctx context.Context, libraryID int64) error {
	books, err := e.Books.ListBooksByLibrary(ctx, libraryID)
	if err != nil {
		return err
	}

	groups := make(map[string][]library.Book)
	var order []string
	for _, b := range books {
		key := b.Title
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], b)
	}

	for _, title := range order {
		group := groups[title]
		if len(group) < 2 {
			continue
		}
		if !sameAuthor(group) {
			continue
		}
		if err := e.mergeGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func sameAuthor(group []library.Book) bool {
	author := group[0].Author
	for _, b := range group[1:] {
		if b.Author != author {
			return false
		}
	}
	return true
}

// mergeGroup folds every book in group but the target into the target:
// its chapters are reassigned (hash duplicates dropped), appended
// starting at max(target.chapter_index)+1, then the whole target is
// re-indexed by natural-order title sort. Source books are deleted.
func (e *Engine) mergeGroup(ctx context.Context, group []library.Book) error {
	target := pickTarget(group)

	targetChapters, err := e.Books.ListChaptersByBook(ctx, target.ID)
	if err != nil {
		return err
	}
	existingHashes := make(map[string]bool, len(targetChapters))
	nextIndex := -1
	for _, c := range targetChapters {
		existingHashes[c.Hash] = true
		if c.ChapterIndex > nextIndex {
			nextIndex = c.ChapterIndex
		}
	}

	for _, src := range group {
		if src.ID == target.ID {
			continue
		}
		srcChapters, err := e.Books.ListChaptersByBook(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, c := range srcChapters {
			if existingHashes[c.Hash] {
				// Dropped: cascade-deleted along with the source book.
				continue
			}
			nextIndex++
			if err := e.Books.ReassignChapterToBook(ctx, c.ID, target.ID, nextIndex); err != nil {
				return err
			}
			existingHashes[c.Hash] = true
		}
		if err := e.Books.DeleteBook(ctx, src.ID); err != nil {
			return err
		}
	}

	if err := e.reindexByTitle(ctx, target.ID); err != nil {
		return err
	}

	if !target.ManualCorrected {
		target.ManualCorrected = true
		if err := e.Books.UpdateBook(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

// pickTarget chooses the unique manual_corrected book if there is
// exactly one, else the lowest-ID book (spec.md §4.7).
func pickTarget(group []library.Book) library.Book {
	var corrected []library.Book
	for _, b := range group {
		if b.ManualCorrected {
			corrected = append(corrected, b)
		}
	}
	if len(corrected) == 1 {
		return corrected[0]
	}
	target := group[0]
	for _, b := range group[1:] {
		if b.ID < target.ID {
			target = b
		}
	}
	return target
}

// reindexByTitle re-reads bookID's chapters and re-numbers chapter_index
// 0..N-1 by natural-order title sort (spec.md §8: consecutive, starting
// at 0).
func (e *Engine) reindexByTitle(ctx context.Context, bookID int64) error {
	chapters, err := e.Books.ListChaptersByBook(ctx, bookID)
	if err != nil {
		return err
	}
	sort.Slice(chapters, func(i, j int) bool {
		return natsort.Less(chapters[i].Title, chapters[j].Title)
	})
	for i, c := range chapters {
		if err := e.Books.ReindexChapter(ctx, c.ID, i); err != nil {
			return err
		}
	}
	return nil
}

const (
	authorWeight = 0.4
	titleWeight  = 0.6
	authorThresh = 0.8
	combinedThresh = 0.85
)

// SuggestSimilar runs the optional background similarity pass (spec.md
// §4.7): pairwise-compares every book in libraryID against every other
// and records a pending merge_suggestions row when the weighted
// Levenshtein similarity clears both thresholds. It never merges
// anything itself.
func (e *Engine) SuggestSimilar(ctx context.Context, libraryID int64) error {
	books, err := e.Books.ListBooksByLibrary(ctx, libraryID)
	if err != nil {
		return err
	}
	for i := 0; i < len(books); i++ {
		for j := i + 1; j < len(books); j++ {
			a, b := books[i], books[j]
			authorSim := levSimilarity(strings.ToLower(a.Author), strings.ToLower(b.Author))
			titleSim := levSimilarity(strings.ToLower(a.Title), strings.ToLower(b.Title))
			combined := authorWeight*authorSim + titleWeight*titleSim
			if authorSim >= authorThresh && combined > combinedThresh {
				if err := e.Books.InsertMergeSuggestion(ctx, a.ID, b.ID, combined, "title/author similarity"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func levSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}
