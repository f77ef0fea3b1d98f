package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gaby/audiobookd/internal/tasks"
)

func TestSubmitScanEnqueuesTask(t *testing.T) {
	s, books, ts := newTestServer(t)
	lib, _, _ := seedChapter(t, books, t.TempDir())

	req := httptest.NewRequest("POST", "/api/libraries/"+strconv.FormatInt(lib.ID, 10)+"/scan", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 202 {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	var task tasks.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != tasks.StatusQueued {
		t.Fatalf("status = %s, want queued", task.Status)
	}

	got, err := ts.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != tasks.TypeLibraryScan {
		t.Fatalf("type = %s, want library_scan", got.Type)
	}
}

func TestCancelScanWithNoActiveTaskIsIdempotent(t *testing.T) {
	s, books, _ := newTestServer(t)
	lib, _, _ := seedChapter(t, books, t.TempDir())

	req := httptest.NewRequest("POST", "/api/libraries/"+strconv.FormatInt(lib.ID, 10)+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["was_active"] {
		t.Fatal("expected was_active=false when nothing was scanning")
	}
}

func TestCancelScanCancelsActiveTask(t *testing.T) {
	s, books, ts := newTestServer(t)
	lib, _, _ := seedChapter(t, books, t.TempDir())

	task, err := ts.Submit(context.Background(), tasks.TypeLibraryScan, tasks.LibraryScanPayload{LibraryID: lib.ID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/libraries/"+strconv.FormatInt(lib.ID, 10)+"/cancel", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, err := ts.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}
