package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/crypto"
	"github.com/gaby/audiobookd/internal/library"
	"github.com/gaby/audiobookd/internal/storage"
	"github.com/gaby/audiobookd/internal/stream"
)

func (s *Server) registerStreamRoutes() {
	s.mux.HandleFunc("/api/stream/", s.handleStream)
}

var errEmptyChapterID = errors.New("chapter id required")

// handleStream serves GET /api/stream/:chapterId, honoring Range exactly
// as stream.Engine.Serve produces it (spec.md §6 streaming response
// headers on both the 200 and 206 paths).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	chapterID := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	if chapterID == "" {
		writeJSONError(w, http.StatusBadRequest, errEmptyChapterID)
		return
	}

	ch, book, err := s.resolveChapter(r, chapterID)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}

	resp, err := s.stream.Serve(r.Context(), ch, r.Header.Get("Range"))
	if err != nil {
		if apperr.Is(err, apperr.Validation) && strings.Contains(err.Error(), "range") {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		writeJSONError(w, statusForError(err), err)
		return
	}
	defer resp.Body.Close()

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}

	if s.prefetch != nil {
		s.prefetchNextChapter(r, ch, book)
	}
}

// resolveChapter loads the chapter + owning book + library and builds the
// stream.Chapter view the engine needs, resolving the library's storage
// source (including decrypting a WebDAV password) the same way
// scanner.Pipeline.sourceFor does. It also returns the book, since the
// prefetch step needs it again and a chapter doesn't carry its library.
func (s *Server) resolveChapter(r *http.Request, chapterID string) (stream.Chapter, library.Book, error) {
	id, err := strconv.ParseInt(chapterID, 10, 64)
	if err != nil {
		return stream.Chapter{}, library.Book{}, apperr.New(apperr.Validation, "api.resolveChapter", err)
	}
	chapter, err := s.books.GetChapter(r.Context(), id)
	if err != nil {
		return stream.Chapter{}, library.Book{}, err
	}
	book, err := s.books.GetBook(r.Context(), chapter.BookID)
	if err != nil {
		return stream.Chapter{}, library.Book{}, err
	}
	lib, err := s.books.GetLibrary(r.Context(), book.LibraryID)
	if err != nil {
		return stream.Chapter{}, library.Book{}, err
	}

	return stream.Chapter{
		ID:           chapterID,
		RelativePath: chapter.Path,
		Source:       sourceFor(lib, s.cryptoKey),
	}, book, nil
}

func sourceFor(lib library.Library, key []byte) storage.Source {
	if lib.Kind == library.KindWebDAV {
		return storage.Source{
			Kind:     storage.WebDAV,
			BaseURL:  lib.WebDAVURL,
			Username: lib.WebDAVUsername,
			Password: crypto.ResolvePassword(key, lib.WebDAVPasswordEnc),
		}
	}
	return storage.Source{Kind: storage.Local, LocalRoot: lib.LocalPath}
}

// prefetchNextChapter looks up the chapter immediately after ch in book's
// ordered list and hands it to the prefetcher (spec.md §4.13). Best-effort:
// any lookup failure just skips prefetching, never the response already sent.
func (s *Server) prefetchNextChapter(r *http.Request, ch stream.Chapter, book library.Book) {
	chapters, err := s.books.ListChaptersByBook(r.Context(), book.ID)
	if err != nil {
		return
	}
	for i, c := range chapters {
		if strconv.FormatInt(c.ID, 10) != ch.ID || i+1 >= len(chapters) {
			continue
		}
		lib, err := s.books.GetLibrary(r.Context(), book.LibraryID)
		if err != nil {
			return
		}
		next := chapters[i+1]
		nextCh := stream.Chapter{
			ID:           strconv.FormatInt(next.ID, 10),
			RelativePath: next.Path,
			Source:       sourceFor(lib, s.cryptoKey),
		}
		s.prefetch.Prefetch(r.Context(), nextCh, stream.UserPrefetchFlags{AutoPreload: true}, lib.Kind != library.KindWebDAV)
		return
	}
}
