package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (s *Server) registerCacheRoutes() {
	s.mux.HandleFunc("/api/cache", s.handleCacheCollection)
	s.mux.HandleFunc("/api/cache/", s.handleCacheEntry)
}

// handleCacheCollection serves GET/DELETE /api/cache (spec.md §6 "inspect/clear").
func (s *Server) handleCacheCollection(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		entries, err := s.disk.List()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries})
	case http.MethodDelete:
		if err := s.disk.ClearAll(); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleCacheEntry serves POST /api/cache/:chapterId (ensure populated)
// and DELETE /api/cache/:chapterId (evict one entry).
func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	chapterID := strings.TrimPrefix(r.URL.Path, "/api/cache/")
	if chapterID == "" {
		writeJSONError(w, http.StatusBadRequest, errEmptyChapterID)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.ensureDiskCached(w, r, chapterID)
	case http.MethodDelete:
		if err := s.disk.Delete(chapterID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ensureDiskCached fetches the full chapter body from its origin and
// installs it into the disk cache tier, mirroring the Disk.Install
// .tmp-then-rename contract spec.md §4.8 requires.
func (s *Server) ensureDiskCached(w http.ResponseWriter, r *http.Request, chapterID string) {
	if s.disk.Exists(chapterID) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true, "already_cached": true})
		return
	}

	ch, _, err := s.resolveChapter(r, chapterID)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}

	body, _, err := s.stream.Storage.Open(r.Context(), ch.Source, ch.RelativePath, nil)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	defer body.Close()

	if err := s.disk.Install(chapterID, body); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}
