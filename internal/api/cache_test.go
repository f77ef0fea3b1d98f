package api

import (
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestCacheLifecycle(t *testing.T) {
	s, books, _ := newTestServer(t)
	root := t.TempDir()
	_, _, chapter := seedChapter(t, books, root)
	id := strconv.FormatInt(chapter.ID, 10)

	// Not cached yet.
	listReq := httptest.NewRequest("GET", "/api/cache", nil)
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, listReq)
	if listRec.Code != 200 {
		t.Fatalf("GET /api/cache status = %d", listRec.Code)
	}

	// Populate it.
	postReq := httptest.NewRequest("POST", "/api/cache/"+id, nil)
	postRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(postRec, postReq)
	if postRec.Code != 200 {
		t.Fatalf("POST /api/cache/%s status = %d, body=%s", id, postRec.Code, postRec.Body.String())
	}
	if !s.disk.Exists(id) {
		t.Fatal("expected the chapter to be installed into the disk cache")
	}

	// Evict it.
	delReq := httptest.NewRequest("DELETE", "/api/cache/"+id, nil)
	delRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(delRec, delReq)
	if delRec.Code != 200 {
		t.Fatalf("DELETE /api/cache/%s status = %d", id, delRec.Code)
	}
	if s.disk.Exists(id) {
		t.Fatal("expected the chapter to be evicted from the disk cache")
	}
}

func TestClearCache(t *testing.T) {
	s, books, _ := newTestServer(t)
	root := t.TempDir()
	_, _, chapter := seedChapter(t, books, root)
	id := strconv.FormatInt(chapter.ID, 10)

	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/cache/"+id, nil))
	if !s.disk.Exists(id) {
		t.Fatal("setup: expected chapter cached before clearing")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/cache", nil))
	if rec.Code != 200 {
		t.Fatalf("DELETE /api/cache status = %d", rec.Code)
	}
	if s.disk.Exists(id) {
		t.Fatal("expected ClearAll to remove the cached chapter")
	}
}
