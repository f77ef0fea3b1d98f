package metadata

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

var errNotFLAC = errors.New("metadata: not a FLAC stream")

const flacBlockVorbisComment = 4

// readFLACTags walks FLAC metadata blocks looking for the
// VORBIS_COMMENT block (type 4), the same comment-field format Ogg
// Vorbis/Opus carry. No pack library models FLAC; hand-rolled, per
// DESIGN.md.
func readFLACTags(r io.Reader, size int64) (Tags, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Tags{}, err
	}
	if string(magic[:]) != "fLaC" {
		return Tags{}, errNotFLAC
	}
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Tags{}, nil
		}
		last := hdr[0]&0x80 != 0
		blockType := hdr[0] & 0x7f
		blockLen := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])

		if blockType == flacBlockVorbisComment {
			payload := make([]byte, blockLen)
			if _, err := io.ReadFull(r, payload); err != nil {
				return Tags{}, nil
			}
			return parseVorbisComment(payload), nil
		}
		if _, err := io.CopyN(io.Discard, r, int64(blockLen)); err != nil {
			return Tags{}, nil
		}
		if last {
			break
		}
	}
	return Tags{}, nil
}

// parseVorbisComment decodes the shared Xiph comment layout: a
// length-prefixed vendor string, a count, then count length-prefixed
// "KEY=value" entries, all little-endian. Used by FLAC and Ogg/Opus.
func parseVorbisComment(b []byte) Tags {
	var t Tags
	pos := 0
	readLenPrefixed := func() (string, bool) {
		if pos+4 > len(b) {
			return "", false
		}
		n := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		pos += 4
		if n < 0 || pos+n > len(b) {
			return "", false
		}
		s := string(b[pos : pos+n])
		pos += n
		return s, true
	}

	if _, ok := readLenPrefixed(); !ok { // vendor string
		return t
	}
	if pos+4 > len(b) {
		return t
	}
	count := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
	pos += 4

	for i := 0; i < count; i++ {
		entry, ok := readLenPrefixed()
		if !ok {
			break
		}
		eq := strings.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToUpper(entry[:eq])
		val := entry[eq+1:]
		switch key {
		case "TITLE":
			t.Title = val
		case "ALBUM":
			t.Album = val
		case "ARTIST":
			t.Artist = val
		case "ALBUMARTIST", "ALBUM ARTIST":
			t.AlbumArtist = val
		case "COMPOSER":
			t.Composer = val
		}
	}
	return t
}
