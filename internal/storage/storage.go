// Package storage implements the uniform ranged-byte-reader abstraction
// (spec.md §4.1) over local filesystem and WebDAV sources, the same role
// the teacher's streamer package plays for Usenet-backed segments, but
// fronting two origin kinds instead of one.
package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/gaby/audiobookd/internal/apperr"
)

// Range is a half-open [Start, End) byte range. A nil *Range means "whole
// file".
type Range struct {
	Start, End int64
}

// Source describes where a book/chapter's bytes live.
type Source struct {
	Kind     Kind
	LocalRoot string // jail root for Kind == Local
	BaseURL   string // WebDAV root for Kind == WebDAV
	Username  string
	Password  string // already resolved to plaintext by the caller
}

type Kind int

const (
	Local Kind = iota
	WebDAV
)

// Stream is the lazy, finite sequence of bytes a ranged open returns. It
// is just an io.ReadCloser; the "async" framing from spec.md's design
// notes collapses to Go's native blocking I/O plus context cancellation.
type Stream = io.ReadCloser

// Adapter is the single operation storage.Open exposes per spec.md §4.1.
type Adapter interface {
	// Open returns a stream over relativePath under src, optionally
	// restricted to rng, plus the origin's total (untruncated) size.
	Open(ctx context.Context, src Source, relativePath string, rng *Range) (Stream, int64, error)
}

// New returns the adapter for src.Kind.
func New() Adapter { return &dispatchAdapter{local: &LocalAdapter{}, webdav: &WebDAVAdapter{}} }

type dispatchAdapter struct {
	local  *LocalAdapter
	webdav *WebDAVAdapter
}

func (d *dispatchAdapter) Open(ctx context.Context, src Source, relativePath string, rng *Range) (Stream, int64, error) {
	switch src.Kind {
	case Local:
		return d.local.Open(ctx, src, relativePath, rng)
	case WebDAV:
		return d.webdav.Open(ctx, src, relativePath, rng)
	default:
		return nil, 0, apperr.New(apperr.Validation, "storage.Open", errUnknownKind)
	}
}

var errUnknownKind = errUnknown("storage: unknown source kind")

type errUnknown string

func (e errUnknown) Error() string { return string(e) }

// JoinJailed resolves rel under root and rejects any path whose
// canonical form escapes root (path-traversal guard), or whose rel
// component is an absolute path — both surfaced as apperr.Security.
func JoinJailed(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", apperr.New(apperr.Security, "storage.JoinJailed", errAbsPath)
	}
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.New(apperr.Security, "storage.JoinJailed", err)
	}
	joined := filepath.Join(cleanRoot, rel)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", apperr.New(apperr.Security, "storage.JoinJailed", errTraversal)
	}
	return joined, nil
}

var errAbsPath = errUnknown("storage: absolute path in relative field")
var errTraversal = errUnknown("storage: path escapes storage root")
