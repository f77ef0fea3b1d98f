// Package scanner implements the scan pipeline (spec.md §4.6): walk a
// library's storage root, group files by directory, and resolve each
// group into a book + chapter rows, incrementally and with
// cancellation-aware progress reporting. Grounded on the teacher's
// internal/importer (directory walk with per-item progress inside a
// cancellation-aware loop) and internal/runner (the claim-and-run loop
// this pipeline plugs into).
package scanner

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/merge"
	"github.com/gaby/audiobookd/internal/metadata"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/scraper"
	"github.com/gaby/audiobookd/internal/storage"
	"github.com/gaby/audiobookd/internal/tasks"
)

// GroupError captures one directory's scan failure without aborting the
// rest of the scan (spec.md §7 "Scan errors are local").
type GroupError struct {
	Dir string
	Err error
}

// Result is the scan pipeline's outcome, written into the owning
// task's progress message by the runner.
type Result struct {
	DirectoriesScanned int
	BooksTouched       int
	ChaptersTouched    int
	Errors             []GroupError
}

// Pipeline ties together storage, the metadata extractor, the scraper
// orchestrator, the plugin gateway and the book/chapter repository into
// one scan run.
type Pipeline struct {
	Storage  storage.Adapter
	Books    *library.Store
	Metadata *metadata.Extractor
	Scraper  *scraper.Orchestrator
	Plugins  *plugin.Gateway
	Tasks    *tasks.Store
	Merge    *merge.Engine
	Defaults config.ScraperDefaults

	MaxConcurrent int
	CryptoKey     []byte
}

func NewPipeline(st storage.Adapter, books *library.Store, md *metadata.Extractor, scr *scraper.Orchestrator, pl *plugin.Gateway, ts *tasks.Store, mg *merge.Engine, defaults config.ScraperDefaults, maxConcurrent int, cryptoKey []byte) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Pipeline{
		Storage: st, Books: books, Metadata: md, Scraper: scr, Plugins: pl,
		Tasks: ts, Merge: mg, Defaults: defaults,
		MaxConcurrent: maxConcurrent, CryptoKey: cryptoKey,
	}
}

var errCancelled = sentinel("scanner: scan cancelled")

type sentinel string

func (e sentinel) Error() string { return string(e) }

// Run walks lib's storage root, resolves every directory group into a
// book + its chapters, then finalizes by touching last_scanned_at and
// running the auto-merge pass. taskID is polled for cancellation
// between directory groups.
func (p *Pipeline) Run(ctx context.Context, taskID string, lib library.Library) (Result, error) {
	groups, err := p.walk(ctx, lib)
	if err != nil {
		return Result{}, err
	}

	manualCorrected, err := p.Books.ManualCorrectedBooks(ctx, lib.ID)
	if err != nil {
		return Result{}, err
	}
	matchers := compileMatchPatterns(manualCorrected)

	sem := semaphore.NewWeighted(int64(p.MaxConcurrent))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result Result
	var cancelErr error

	for _, grp := range groups {
		mu.Lock()
		stop := cancelErr != nil
		mu.Unlock()
		if stop {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(grp group) {
			defer wg.Done()
			defer sem.Release(1)

			stats, err := p.processGroup(ctx, lib, matchers, grp)
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, GroupError{Dir: grp.DirName, Err: err})
				mu.Unlock()
			}

			mu.Lock()
			result.DirectoriesScanned++
			result.BooksTouched += stats.books
			result.ChaptersTouched += stats.chapters
			n := result.DirectoriesScanned
			mu.Unlock()

			cancelled, cerr := p.Tasks.IsCancelled(ctx, taskID)
			if cerr == nil && cancelled {
				mu.Lock()
				if cancelErr == nil {
					cancelErr = apperr.New(apperr.Task, "scanner.Run", errCancelled)
				}
				mu.Unlock()
				return
			}
			_ = p.Tasks.UpdateProgress(ctx, taskID, fmt.Sprintf("scanned %d/%d directories", n, len(groups)))
			p.Plugins.GarbageCollectAll(ctx)
		}(grp)
	}
	wg.Wait()

	if cancelErr != nil {
		return result, cancelErr
	}

	if err := p.Books.TouchLastScanned(ctx, lib.ID); err != nil {
		return result, err
	}
	if p.Merge != nil {
		if err := p.Merge.AutoMerge(ctx, lib.ID); err != nil {
			return result, err
		}
	}
	return result, nil
}

type matchedBook struct {
	book    library.Book
	pattern *regexp.Regexp
}

func compileMatchPatterns(books []library.Book) []matchedBook {
	var out []matchedBook
	for _, b := range books {
		if b.MatchPattern == "" {
			continue
		}
		re, err := regexp.Compile(b.MatchPattern)
		if err != nil {
			continue
		}
		out = append(out, matchedBook{book: b, pattern: re})
	}
	return out
}
