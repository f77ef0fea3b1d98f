package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/db"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/merge"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/scanner"
	"github.com/gaby/audiobookd/internal/storage"
	"github.com/gaby/audiobookd/internal/tasks"
)

func newTestRunner(t *testing.T) (*Runner, *library.Store, *tasks.Store) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	books := library.NewStore(d)
	ts := tasks.NewStore(d)
	pipeline := scanner.NewPipeline(storage.New(), books, nil, nil, plugin.NewGateway(nil), ts, merge.NewEngine(books), config.ScraperDefaults{}, 4, nil)

	r := New(ts, books, pipeline, 2)
	r.PollInterval = 10 * time.Millisecond
	r.ScanTimeout = time.Minute
	return r, books, ts
}

func seedLibraryAt(t *testing.T, books *library.Store, localPath string) library.Library {
	t.Helper()
	ctx := context.Background()
	_, err := books.DB().SQL.ExecContext(ctx,
		`INSERT INTO libraries(name,kind,local_path,root_path) VALUES('L','local',?,?)`, localPath, localPath)
	if err != nil {
		t.Fatalf("seed library: %v", err)
	}
	var id int64
	if err := books.DB().SQL.QueryRowContext(ctx, `SELECT id FROM libraries ORDER BY id DESC LIMIT 1`).Scan(&id); err != nil {
		t.Fatalf("fetch library id: %v", err)
	}
	lib, err := books.GetLibrary(ctx, id)
	if err != nil {
		t.Fatalf("GetLibrary: %v", err)
	}
	return lib
}

func TestRunnerDispatchesLibraryScanToCompletion(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Dune"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "Dune", "ch1.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, books, ts := newTestRunner(t)
	lib := seedLibraryAt(t, books, root)

	task, err := ts.Submit(context.Background(), tasks.TypeLibraryScan, tasks.LibraryScanPayload{LibraryID: lib.ID, LibraryPath: root})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		got, err := ts.Get(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == tasks.StatusCompleted {
			break
		}
		if got.Status == tasks.StatusFailed {
			t.Fatalf("task failed: %s", got.Message)
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the runner to complete the scan task")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	got, err := ts.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestRunnerFailsTaskOnUnknownLibrary(t *testing.T) {
	r, _, ts := newTestRunner(t)

	task, err := ts.Submit(context.Background(), tasks.TypeLibraryScan, tasks.LibraryScanPayload{LibraryID: 9999})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	claimed, err := ts.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	r.dispatch(context.Background(), claimed)

	got, err := ts.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusFailed && got.Status != tasks.StatusQueued {
		t.Fatalf("status = %s, want failed or requeued-after-failure", got.Status)
	}
}
