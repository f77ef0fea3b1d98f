package stream

import (
	"bytes"
	"context"
	"io"

	"github.com/gaby/audiobookd/internal/apperr"
	"github.com/gaby/audiobookd/internal/plugin"
	"github.com/gaby/audiobookd/internal/storage"
)

const probeSize = 10

// serveSpliced implements the decryption-splicing protocol of spec.md
// §4.12: probe, header fetch, plan, decrypt loop, then range-map the
// client's request over the decrypted prefix D and the plaintext tail.
func (e *Engine) serveSpliced(ctx context.Context, ch Chapter, d plugin.Descriptor, rangeHeader string) (*Response, error) {
	probe, s, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, &storage.Range{Start: 0, End: probeSize})
	if err != nil {
		return nil, err
	}
	probeBytes, err := io.ReadAll(probe)
	_ = probe.Close()
	if err != nil {
		return nil, apperr.New(apperr.Network, "stream.serveSpliced", err)
	}

	h := e.Plugins.GetMetadataReadSize(ctx, d, probeBytes)
	if h > s {
		h = s
	}

	headerStream, _, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, &storage.Range{Start: 0, End: h})
	if err != nil {
		return nil, err
	}
	header, err := io.ReadAll(headerStream)
	_ = headerStream.Close()
	if err != nil {
		return nil, apperr.New(apperr.Network, "stream.serveSpliced", err)
	}

	plan, err := e.Plugins.GetDecryptionPlan(ctx, d, header)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(s); err != nil {
		return nil, err
	}

	var decrypted bytes.Buffer
	for _, seg := range plan.Encrypted() {
		chunkStream, _, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, &storage.Range{Start: seg.Offset, End: seg.Offset + seg.Length})
		if err != nil {
			return nil, err
		}
		chunk, err := io.ReadAll(chunkStream)
		_ = chunkStream.Close()
		if err != nil {
			return nil, apperr.New(apperr.Network, "stream.serveSpliced", err)
		}
		out, err := e.Plugins.DecryptChunk(ctx, d, chunk, seg.Params)
		if err != nil {
			return nil, apperr.New(apperr.PluginExecution, "stream.serveSpliced", err)
		}
		decrypted.Write(out)
	}

	p, hasPlain := plan.PlainOffset()
	if !hasPlain {
		p = s
	}
	dLen := int64(decrypted.Len())
	logical := dLen + (s - p)

	r, err := ParseRange(rangeHeader, logical)
	if err != nil {
		return nil, err
	}
	a, b := int64(0), logical
	if r != nil {
		a, b = r.Start, r.End
	}

	var memPart io.Reader
	var originStream io.ReadCloser
	decBytes := decrypted.Bytes()
	if a < dLen {
		upper := b
		if upper > dLen {
			upper = dLen
		}
		memPart = bytes.NewReader(decBytes[a:upper])
	}
	if b > dLen {
		originStart := p + (maxInt64(a, dLen) - dLen)
		originEnd := p + (b - dLen)
		oStream, _, err := e.Storage.Open(ctx, ch.Source, ch.RelativePath, &storage.Range{Start: originStart, End: originEnd})
		if err != nil {
			return nil, err
		}
		originStream = oStream
	}

	// The origin leg is a live *os.File or http.Response.Body (spec.md
	// §4.12 scenario 3's decrypted-prefix ‖ origin-tail splice); io.MultiReader
	// drops Close entirely, so it must be carried explicitly rather than
	// discarded behind a NopCloser.
	var rc io.ReadCloser
	switch {
	case memPart != nil && originStream != nil:
		rc = &multiReadCloser{Reader: io.MultiReader(memPart, originStream), closers: []io.Closer{originStream}}
	case memPart != nil:
		rc = io.NopCloser(memPart)
	case originStream != nil:
		rc = originStream
	default:
		rc = io.NopCloser(bytes.NewReader(nil))
	}

	// Splice responses are always 206 (spec.md §4.12 step 7), even for a
	// full-range request, since the client never sees the on-disk size S.
	rr := r
	if rr == nil {
		rr = &Range{Start: 0, End: logical}
	}
	status := 206

	h2 := headers(ch, rr, logical)
	h2["Content-Type"] = "audio/mp4"
	return &Response{Status: status, Headers: h2, Body: rc, TotalBytes: logical}, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// multiReadCloser reads from a combined io.Reader (typically
// io.MultiReader) while closing every underlying closer on Close.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var firstErr error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
