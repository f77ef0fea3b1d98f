// Package runner drives the task queue: poll for a queued task, claim
// it, and dispatch it to the scan pipeline. Grounded on the teacher's
// own internal/runner (ticker-driven ClaimNext loop, a semaphore
// bounding how many jobs run at once, per-job-type dispatch), narrowed
// from several job types (upload/import/health) to the one this domain
// has: library_scan.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/scanner"
	"github.com/gaby/audiobookd/internal/tasks"
)

// ScanTimeout is the hard ceiling on a single library_scan task
// (spec.md §5 "Library scans use a 24-hour timeout").
const ScanTimeout = 24 * time.Hour

type Runner struct {
	Tasks     *tasks.Store
	Libraries *library.Store
	Scanner   *scanner.Pipeline

	PollInterval  time.Duration
	MaxConcurrent int // concurrently running scan tasks, across libraries

	ScanTimeout time.Duration
}

func New(ts *tasks.Store, libs *library.Store, pipeline *scanner.Pipeline, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Runner{
		Tasks: ts, Libraries: libs, Scanner: pipeline,
		PollInterval: time.Second, MaxConcurrent: maxConcurrent,
		ScanTimeout: ScanTimeout,
	}
}

// Run polls for queued tasks until ctx is cancelled. Each claimed task
// runs in its own goroutine, gated by a semaphore so at most
// MaxConcurrent scans run at once.
func (r *Runner) Run(ctx context.Context) {
	sem := make(chan struct{}, r.MaxConcurrent)
	t := time.NewTicker(r.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			task, err := r.Tasks.ClaimNext(ctx)
			if err != nil {
				continue // tasks.ErrNoQueuedTasks, or a transient DB error — retry next tick
			}

			sem <- struct{}{}
			go func(t *tasks.Task) {
				defer func() { <-sem }()
				r.dispatch(ctx, t)
			}(task)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, t *tasks.Task) {
	switch t.Type {
	case tasks.TypeLibraryScan:
		r.runScan(ctx, t)
	default:
		_ = r.Tasks.SetFailed(ctx, t.ID, fmt.Sprintf("unknown task type %q", t.Type))
	}
}

func (r *Runner) runScan(ctx context.Context, t *tasks.Task) {
	var payload tasks.LibraryScanPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		_ = r.Tasks.SetFailed(ctx, t.ID, "bad library_scan payload: "+err.Error())
		return
	}

	lib, err := r.Libraries.GetLibrary(ctx, payload.LibraryID)
	if err != nil {
		_ = r.Tasks.SetFailed(ctx, t.ID, "library lookup: "+err.Error())
		return
	}

	timeout := r.ScanTimeout
	if timeout <= 0 {
		timeout = ScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.Scanner.Run(scanCtx, t.ID, lib)
	if err != nil {
		if apperr.Is(err, apperr.Task) {
			_ = r.Tasks.SetStatus(ctx, t.ID, tasks.StatusCancelled, "scan cancelled")
			return
		}
		_ = r.Tasks.SetFailed(ctx, t.ID, err.Error())
		return
	}

	msg := fmt.Sprintf("scanned %d directories, %d books touched, %d chapters touched, %d errors",
		result.DirectoriesScanned, result.BooksTouched, result.ChaptersTouched, len(result.Errors))
	_ = r.Tasks.SetCompleted(ctx, t.ID, msg)
}
