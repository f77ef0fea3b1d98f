package metadata

import (
	"encoding/binary"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// readMP4Tags walks an m4a/m4b file's box tree looking for
// moov/udta/meta/ilst, the QuickTime/iTunes metadata atom mp3/flac tag
// readers don't cover. Grounded on the box-header-decode primitive the
// pack repo mohaanymo-veld's decryptor uses to find `tenc` inside `moov` —
// here we walk down to `ilst` instead of `schi`/`tenc`.
func readMP4Tags(r io.ReadSeeker, size int64) (Tags, error) {
	var t Tags
	if err := mp4ffSanityCheck(r); err != nil {
		return t, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return t, err
	}
	moovOff, moovSize, err := findTopLevelBox(r, size, "moov")
	if err != nil || moovSize == 0 {
		return t, err
	}
	udtaOff, udtaSize, err := findChildBox(r, moovOff, moovSize, "udta")
	if err != nil || udtaSize == 0 {
		return t, nil
	}
	metaOff, metaSize, err := findChildBox(r, udtaOff, udtaSize, "meta")
	if err != nil || metaSize == 0 {
		return t, nil
	}
	// The "meta" box has a 4-byte version/flags field before its children
	// (full box), unlike the plain boxes above.
	ilstOff, ilstSize, err := findChildBox(r, metaOff+4, metaSize-4, "ilst")
	if err != nil || ilstSize == 0 {
		return t, nil
	}
	return parseIlst(r, ilstOff, ilstSize)
}

type boxHeader struct {
	offset int64
	size   int64
	name   string
}

func nextBox(r io.ReadSeeker, offset int64) (boxHeader, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return boxHeader{}, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return boxHeader{}, err
	}
	size := int64(binary.BigEndian.Uint32(buf[0:4]))
	name := string(buf[4:8])
	if size == 1 {
		// 64-bit extended size follows immediately
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return boxHeader{}, err
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
	}
	return boxHeader{offset: offset, size: size, name: name}, nil
}

func findTopLevelBox(r io.ReadSeeker, total int64, want string) (int64, int64, error) {
	return findChildBox(r, 0, total, want)
}

// findChildBox scans sibling boxes starting at parentOff across
// parentSize bytes for one named want, returning its payload offset
// (past the 8-byte header) and payload size.
func findChildBox(r io.ReadSeeker, parentOff, parentSize int64, want string) (int64, int64, error) {
	end := parentOff + parentSize
	off := parentOff
	for off < end {
		hdr, err := nextBox(r, off)
		if err != nil {
			return 0, 0, err
		}
		if hdr.size <= 0 {
			break
		}
		if hdr.name == want {
			headerLen := int64(8)
			return hdr.offset + headerLen, hdr.size - headerLen, nil
		}
		off += hdr.size
	}
	return 0, 0, nil
}

// parseIlst reads iTunes-style metadata atoms: each child atom (e.g.
// "\xa9nam") itself contains a "data" atom with an 8-byte
// type/locale header followed by the UTF-8 payload.
func parseIlst(r io.ReadSeeker, off, size int64) (Tags, error) {
	var t Tags
	end := off + size
	cur := off
	for cur < end {
		hdr, err := nextBox(r, cur)
		if err != nil {
			return t, nil
		}
		if hdr.size <= 8 {
			break
		}
		value, _ := readDataAtom(r, hdr.offset+8, hdr.size-8)
		switch hdr.name {
		case "\xa9nam":
			t.Title = value
		case "\xa9ART":
			t.Artist = value
		case "aART":
			t.AlbumArtist = value
		case "\xa9alb":
			t.Album = value
		case "\xa9wrt":
			t.Composer = value
		}
		cur += hdr.size
	}
	return t, nil
}

func readDataAtom(r io.ReadSeeker, off, size int64) (string, error) {
	hdr, err := nextBox(r, off)
	if err != nil || hdr.name != "data" || hdr.size <= 16 {
		return "", err
	}
	// data atom: 4-byte type flags, 4-byte locale, then payload
	payloadLen := hdr.size - 16
	if payloadLen <= 0 || payloadLen > size {
		return "", nil
	}
	if _, err := r.Seek(off+16, io.SeekStart); err != nil {
		return "", err
	}
	buf := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// mp4ffSanityCheck confirms the file at least parses as a well-formed
// ISO-BMFF container before the raw ilst walk above runs against it;
// mp4ff is the pack's fragmented-MP4 parser and doesn't model the
// iTunes-specific ilst atoms itself, so it anchors the box tree instead.
func mp4ffSanityCheck(r io.ReadSeeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := mp4.DecodeFile(r)
	return err
}
