// Package stream implements the range-aware audio streamer (spec.md
// §4.11/§4.12, C11): tier selection across preload/disk/origin, response
// header construction, and the plugin-driven decryption-splicing path.
// Grounded on the teacher's internal/api/range.go (parseRange shape) and
// internal/api/raw_stream.go (tier-check-then-stream handler shape).
package stream

import (
	"strconv"
	"strings"

	"github.com/gaby/audiobookd/internal/apperr"
)

// Range is a half-open byte range [Start, End) over a resource of a
// known total size (spec.md §4.11).
type Range struct {
	Start, End int64
}

// ParseRange accepts the three forms of a single-range HTTP Range header
// this spec supports: "bytes=a-b", "bytes=a-", "bytes=-n". Multi-range
// requests are rejected with Validation, matching the teacher's
// single-range-only handling.
func ParseRange(header string, total int64) (*Range, error) {
	if header == "" {
		return nil, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("missing bytes= prefix"))
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("multi-range not supported"))
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("missing '-'"))
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	var start, end int64
	switch {
	case startStr == "" && endStr == "":
		return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("empty range"))
	case startStr == "":
		// suffix range: "bytes=-n" -> last n bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("bad suffix length"))
		}
		if n > total {
			n = total
		}
		start = total - n
		end = total
	case endStr == "":
		n, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || n < 0 {
			return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("bad start"))
		}
		start = n
		end = total
	default:
		s, err1 := strconv.ParseInt(startStr, 10, 64)
		e, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || s < 0 || e < s {
			return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("bad range bounds"))
		}
		start = s
		end = e + 1 // header end is inclusive; internal representation is half-open
	}

	if start >= total || start >= end {
		return nil, apperr.New(apperr.Validation, "stream.ParseRange", errInvalidRange("range not satisfiable"))
	}
	if end > total {
		end = total
	}
	return &Range{Start: start, End: end}, nil
}

// ContentRange formats the Content-Range header value for a half-open
// [start,end) slice of a resource of the given total size.
func ContentRange(r Range, total int64) string {
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + strconv.FormatInt(r.End-1, 10) + "/" + strconv.FormatInt(total, 10)
}

type errInvalidRange string

func (e errInvalidRange) Error() string { return "invalid range: " + string(e) }
