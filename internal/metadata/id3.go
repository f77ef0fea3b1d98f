package metadata

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

var errNoID3 = errors.New("metadata: no ID3v2 header")

// readID3 decodes the text frames of an ID3v2.2/2.3/2.4 header at the
// start of r: TIT2/title, TPE1/artist, TPE2/album_artist, TALB/album,
// TCOM/composer. mp3 and ADTS-framed aac both carry this tag shape.
// No library in the pack covers ID3; hand-rolled, per DESIGN.md.
func readID3(r io.Reader, size int64) (Tags, error) {
	br := bufio.NewReader(r)
	var hdr [10]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return Tags{}, err
	}
	if string(hdr[0:3]) != "ID3" {
		return Tags{}, errNoID3
	}
	major := hdr[3]
	flags := hdr[5]
	tagSize := synchsafe(hdr[6:10])

	if flags&0x40 != 0 { // extended header present
		var extLen [4]byte
		if _, err := io.ReadFull(br, extLen[:]); err != nil {
			return Tags{}, err
		}
		n := synchsafe(extLen[:])
		if n > 4 {
			if _, err := io.CopyN(io.Discard, br, int64(n-4)); err != nil {
				return Tags{}, err
			}
		}
	}

	body := make([]byte, tagSize)
	n, _ := io.ReadFull(br, body)
	body = body[:n]

	var t Tags
	off := 0
	for off+10 <= len(body) {
		var id string
		var frameSize int
		var headerLen int
		if major == 2 {
			if off+6 > len(body) {
				break
			}
			id = string(body[off : off+3])
			frameSize = int(body[off+3])<<16 | int(body[off+4])<<8 | int(body[off+5])
			headerLen = 6
		} else {
			id = string(body[off : off+4])
			if major == 4 {
				frameSize = int(synchsafe(body[off+4 : off+8]))
			} else {
				frameSize = int(binary.BigEndian.Uint32(body[off+4 : off+8]))
			}
			headerLen = 10
		}
		if frameSize <= 0 || off+headerLen+frameSize > len(body) {
			break
		}
		payload := body[off+headerLen : off+headerLen+frameSize]
		value := decodeID3Text(payload)
		switch normalizeFrameID(id) {
		case "TIT2":
			t.Title = value
		case "TALB":
			t.Album = value
		case "TPE1":
			t.Artist = value
		case "TPE2":
			t.AlbumArtist = value
		case "TCOM":
			t.Composer = value
		}
		off += headerLen + frameSize
	}
	return t, nil
}

// normalizeFrameID maps the 3-char v2.2 frame IDs to their v2.3/2.4 names.
func normalizeFrameID(id string) string {
	switch id {
	case "TT2":
		return "TIT2"
	case "TAL":
		return "TALB"
	case "TP1":
		return "TPE1"
	case "TP2":
		return "TPE2"
	case "TCM":
		return "TCOM"
	default:
		return id
	}
}

func synchsafe(b []byte) uint32 {
	var n uint32
	for _, x := range b {
		n = n<<7 | uint32(x&0x7f)
	}
	return n
}

// decodeID3Text strips the leading text-encoding byte and any trailing
// NUL padding. Only ISO-8859-1 and UTF-8/16 are distinguished crudely by
// dropping null bytes, which is sufficient for display text.
func decodeID3Text(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	enc := payload[0]
	body := payload[1:]
	switch enc {
	case 1, 2: // UTF-16 with/without BOM
		return utf16ToString(body)
	default: // 0 = Latin-1, 3 = UTF-8
		return strings.Trim(string(body), "\x00")
	}
}

func utf16ToString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xFE {
		return utf16LEToString(b[2:])
	}
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		return utf16BEToString(b[2:])
	}
	return utf16LEToString(b)
}

func utf16LEToString(b []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(b); i += 2 {
		r := rune(binary.LittleEndian.Uint16(b[i : i+2]))
		if r == 0 {
			break
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func utf16BEToString(b []byte) string {
	var sb strings.Builder
	for i := 0; i+1 < len(b); i += 2 {
		r := rune(binary.BigEndian.Uint16(b[i : i+2]))
		if r == 0 {
			break
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
