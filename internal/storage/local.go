package storage

import (
	"context"
	"io"
	"os"

	"github.com/gaby/audiobookd/internal/apperr"
)

// LocalAdapter serves files under a configured storage root, applying the
// range by seeking (spec.md §4.1).
type LocalAdapter struct{}

func (l *LocalAdapter) Open(ctx context.Context, src Source, relativePath string, rng *Range) (Stream, int64, error) {
	full, err := JoinJailed(src.LocalRoot, relativePath)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, apperr.New(apperr.NotFound, "storage.LocalAdapter.Open", err)
		}
		return nil, 0, apperr.New(apperr.Network, "storage.LocalAdapter.Open", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, apperr.New(apperr.Network, "storage.LocalAdapter.Open", err)
	}
	size := st.Size()
	if rng == nil {
		return f, size, nil
	}
	if rng.Start < 0 || rng.Start > size {
		_ = f.Close()
		return nil, 0, apperr.New(apperr.Validation, "storage.LocalAdapter.Open", errBadRange)
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, 0, apperr.New(apperr.Network, "storage.LocalAdapter.Open", err)
	}
	end := rng.End
	if end > size {
		end = size
	}
	return &limitedReadCloser{r: io.LimitReader(f, end-rng.Start), c: f}, size, nil
}

var errBadRange = errUnknown("storage: range start out of bounds")

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }
