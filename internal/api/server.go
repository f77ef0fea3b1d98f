// Package api is the HTTP surface spec.md §6 scopes to the streaming
// pipeline and scan lifecycle: stream/cache/library-scan routes only,
// served from a plain net/http.ServeMux the way the teacher's
// internal/api.Server does (one route-registration method per concern,
// JSON error bodies, no router framework).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/cache"
	"github.com/gaby/audiobookd/internal/config"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/stream"
	"github.com/gaby/audiobookd/internal/tasks"
)

// Server wires the storage/cache/stream/task layers into HTTP handlers.
// Unlike the teacher's Server, it does not own the database: callers in
// cmd/audiobookd construct every dependency first (db, stores, caches,
// the scan pipeline, the runner) and hand the pieces this needs.
type Server struct {
	cfgMu sync.RWMutex
	cfg   config.Config

	mux *http.ServeMux

	books     *library.Store
	tasks     *tasks.Store
	stream    *stream.Engine
	prefetch  *stream.Prefetcher
	disk      *cache.Disk
	cryptoKey []byte
}

type Deps struct {
	Books     *library.Store
	Tasks     *tasks.Store
	Stream    *stream.Engine
	Prefetch  *stream.Prefetcher
	Disk      *cache.Disk
	CryptoKey []byte
}

func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg: cfg, mux: http.NewServeMux(),
		books: deps.Books, tasks: deps.Tasks,
		stream: deps.Stream, prefetch: deps.Prefetch, disk: deps.Disk,
		cryptoKey: deps.CryptoKey,
	}

	s.mux.HandleFunc("/live", s.handleLive)
	s.registerStreamRoutes()
	s.registerCacheRoutes()
	s.registerLibraryRoutes()

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Config() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": time.Now().Format(time.RFC3339),
	})
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusForError maps an apperr.Kind to the HTTP status spec.md §7's
// table assigns it. Errors not carrying a Kind (a bare driver error, for
// instance) fall back to 500; library.ErrNotFound is special-cased since
// the repository layer predates apperr and still uses a plain sentinel.
func statusForError(err error) int {
	if errors.Is(err, library.ErrNotFound) {
		return http.StatusNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Security:
		return http.StatusForbidden
	case apperr.Network:
		return http.StatusBadGateway
	case apperr.PluginExecution:
		return http.StatusInternalServerError
	case apperr.Serialization:
		return http.StatusInternalServerError
	case apperr.Task:
		return http.StatusConflict
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
