package stream

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/cache"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/storage"
)

// Chapter is the minimal view the stream engine needs of a chapter row:
// enough to resolve bytes through the storage adapter and to key the two
// cache tiers.
type Chapter struct {
	ID           string
	RelativePath string
	Source       storage.Source
}

func (c Chapter) ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(c.RelativePath), "."))
}

// Response is what the HTTP front-end (out of scope, spec.md §1) turns
// into a status line + headers + body.
type Response struct {
	Status     int
	Headers    map[string]string
	Body       io.ReadCloser
	TotalBytes int64 // logical size L (spec.md §4.12)
}

// Engine implements the tier-selection + splicing logic of spec.md
// §4.11/§4.12 (C11).
type Engine struct {
	Storage storage.Adapter
	Plugins *plugin.Gateway
	Disk    *cache.Disk
	Preload *cache.Preload
}

// Serve resolves a chapter stream honoring an optional Range header,
// walking the tiers in the order spec.md §4.11 requires.
func (e *Engine) Serve(ctx context.Context, ch Chapter, rangeHeader string) (*Response, error) {
	d, hasPlugin := e.Plugins.FindForExtension(ch.ext())

	if body, ok := e.Preload.Get(ch.ID); ok {
		return e.serveFromMemory(body, rangeHeader, ch)
	}

	if e.Disk.Exists(ch.ID) && !hasPlugin {
		return e.serveFromDiskPassthrough(ch, rangeHeader)
	}

	if hasPlugin {
		return e.serveSpliced(ctx, ch, d, rangeHeader)
	}
	return e.servePassthroughOrigin(ctx, ch, rangeHeader)
}

func (e *Engine) serveFromMemory(body []byte, rangeHeader string, ch Chapter) (*Response, error) {
	total := int64(len(body))
	r, err := ParseRange(rangeHeader, total)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &Response{Status: 200, Headers: headers(ch, nil, total), Body: io.NopCloser(bytes.NewReader(body)), TotalBytes: total}, nil
	}
	return &Response{Status: 206, Headers: headers(ch, r, total), Body: io.NopCloser(bytes.NewReader(body[r.Start:r.End])), TotalBytes: total}, nil
}

func (e *Engine) serveFromDiskPassthrough(ch Chapter, rangeHeader string) (*Response, error) {
	path, _ := e.Disk.GetPath(ch.ID)
	local := storage.Source{Kind: storage.Local, LocalRoot: filepath.Dir(path)}
	rel := filepath.Base(path)

	la := &storage.LocalAdapter{}
	probe, total, err := la.Open(context.Background(), local, rel, nil)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "stream.serveFromDiskPassthrough", err)
	}
	_ = probe.Close()
	r, err := ParseRange(rangeHeader, total)
	if err != nil {
		return nil, err
	}
	var rng *storage.Range
	if r != nil {
		rng = &storage.Range{Start: r.Start, End: r.End}
	}
	body, _, err := la.Open(context.Background(), local, rel, rng)
	if err != nil {
		return nil, err
	}
	status := 200
	if r != nil {
		status = 206
	}
	return &Response{Status: status, Headers: headers(ch, r, total), Body: body, TotalBytes: total}, nil
}

func (e *Engine) servePassthroughOrigin(ctx context.Context, ch Chapter, rangeHeader string) (*Response, error) {
	probe, total, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, nil)
	if err != nil {
		return nil, err
	}
	_ = probe.Close()
	r, err := ParseRange(rangeHeader, total)
	if err != nil {
		return nil, err
	}
	var rng *storage.Range
	if r != nil {
		rng = &storage.Range{Start: r.Start, End: r.End}
	}
	body, _, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, rng)
	if err != nil {
		return nil, err
	}
	status := 200
	if r != nil {
		status = 206
	}
	return &Response{Status: status, Headers: headers(ch, r, total), Body: body, TotalBytes: total}, nil
}

func headers(ch Chapter, r *Range, logicalTotal int64) map[string]string {
	h := map[string]string{
		"Accept-Ranges":                   "bytes",
		"Access-Control-Allow-Origin":     "*",
		"Cross-Origin-Resource-Policy":    "cross-origin",
		"Content-Type":                    contentType(ch),
	}
	if r == nil {
		h["Content-Length"] = strconv.FormatInt(logicalTotal, 10)
		return h
	}
	h["Content-Length"] = strconv.FormatInt(r.End-r.Start, 10)
	h["Content-Range"] = ContentRange(*r, logicalTotal)
	return h
}

func contentType(ch Chapter) string {
	if t := mime.TypeByExtension("." + ch.ext()); t != "" {
		return t
	}
	return "application/octet-stream"
}

