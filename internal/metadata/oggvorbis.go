package metadata

import (
	"bytes"
	"errors"
	"io"
)

var errNotOgg = errors.New("metadata: not an Ogg stream")

// readOggVorbisComment scans the leading Ogg pages for the comment
// header packet, which both Vorbis ("\x03vorbis") and Opus
// ("OpusTags") prefix onto the same length-prefixed Xiph comment
// layout parseVorbisComment understands. No pack library models Ogg
// container framing; hand-rolled, per DESIGN.md.
func readOggVorbisComment(r io.Reader, size int64) (Tags, error) {
	const maxPages = 8 // comment packet is always within the first couple of pages
	for page := 0; page < maxPages; page++ {
		var capturePattern [4]byte
		if _, err := io.ReadFull(r, capturePattern[:]); err != nil {
			return Tags{}, nil
		}
		if string(capturePattern[:]) != "OggS" {
			if page == 0 {
				return Tags{}, errNotOgg
			}
			return Tags{}, nil
		}
		// version(1) + header_type(1) + granule_position(8) +
		// serial(4) + page_seq(4) + checksum(4) = 22 more bytes
		rest := make([]byte, 22)
		if _, err := io.ReadFull(r, rest); err != nil {
			return Tags{}, nil
		}
		segCountBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, segCountBuf); err != nil {
			return Tags{}, nil
		}
		segCount := int(segCountBuf[0])
		segTable := make([]byte, segCount)
		if _, err := io.ReadFull(r, segTable); err != nil {
			return Tags{}, nil
		}
		pageBodyLen := 0
		for _, s := range segTable {
			pageBodyLen += int(s)
		}
		body := make([]byte, pageBodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return Tags{}, nil
		}

		if t, ok := extractCommentPacket(body); ok {
			return t, nil
		}
	}
	return Tags{}, nil
}

func extractCommentPacket(body []byte) (Tags, bool) {
	if idx := bytes.Index(body, []byte("\x03vorbis")); idx >= 0 {
		return parseVorbisComment(body[idx+7:]), true
	}
	if idx := bytes.Index(body, []byte("OpusTags")); idx >= 0 {
		return parseVorbisComment(body[idx+8:]), true
	}
	return Tags{}, false
}
