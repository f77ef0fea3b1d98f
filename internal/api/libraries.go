package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/tasks"
)

func (s *Server) registerLibraryRoutes() {
	s.mux.HandleFunc("/api/libraries/", s.handleLibraryAction)
}

// handleLibraryAction dispatches POST /api/libraries/:id/scan and POST
// /api/libraries/:id/cancel (spec.md §6).
func (s *Server) handleLibraryAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/libraries/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	if len(parts) != 2 {
		writeJSONError(w, http.StatusNotFound, errBadLibraryPath)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, errBadLibraryPath)
		return
	}

	switch parts[1] {
	case "scan":
		s.submitScan(w, r, id)
	case "cancel":
		s.cancelScan(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

var errBadLibraryPath = errors.New("expected /api/libraries/:id/scan or /cancel")

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request, libraryID int64) {
	lib, err := s.books.GetLibrary(r.Context(), libraryID)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}

	task, err := s.tasks.Submit(r.Context(), tasks.TypeLibraryScan, tasks.LibraryScanPayload{
		LibraryID:   lib.ID,
		LibraryPath: libraryPath(lib),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(task)
}

func libraryPath(lib library.Library) string {
	if lib.Kind == library.KindWebDAV {
		return lib.WebDAVURL
	}
	return lib.LocalPath
}

// cancelScan resolves libraryID's active scan task and cancels it (spec.md
// §6 "via task cancel"); 200 whether or not one was actually running, to
// keep the endpoint idempotent.
func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request, libraryID int64) {
	task, err := s.tasks.ActiveScanForLibrary(r.Context(), libraryID)
	if err != nil {
		if errors.Is(err, tasks.ErrNoQueuedTasks) {
			_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true, "was_active": false})
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.tasks.Cancel(r.Context(), task.ID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true, "was_active": true})
}
