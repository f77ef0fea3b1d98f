package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var errNotASF = errors.New("metadata: not an ASF/WMA stream")

var asfHeaderGUID = [16]byte{
	0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11,
	0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C,
}

var asfContentDescriptionGUID = [16]byte{
	0x33, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11,
	0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C,
}

// readASFTags walks the ASF Header Object's children for the Content
// Description Object, which carries Title/Author in fixed order as
// length-prefixed UTF-16LE strings. No pack library models ASF;
// hand-rolled, per DESIGN.md.
func readASFTags(r io.Reader, size int64) (Tags, error) {
	var hdr [30]byte // guid(16) + size(8) + num_objects(4) + reserved(2)
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Tags{}, err
	}
	if !bytes.Equal(hdr[0:16], asfHeaderGUID[:]) {
		return Tags{}, errNotASF
	}
	numObjects := binary.LittleEndian.Uint32(hdr[24:28])

	var t Tags
	for i := uint32(0); i < numObjects; i++ {
		var objHdr [24]byte // guid(16) + size(8)
		if _, err := io.ReadFull(r, objHdr[:]); err != nil {
			return t, nil
		}
		objSize := binary.LittleEndian.Uint64(objHdr[16:24])
		if objSize < 24 {
			return t, nil
		}
		remaining := int64(objSize - 24)

		if bytes.Equal(objHdr[0:16], asfContentDescriptionGUID[:]) {
			body := make([]byte, remaining)
			if _, err := io.ReadFull(r, body); err != nil {
				return t, nil
			}
			parseASFContentDescription(body, &t)
			continue
		}
		if _, err := io.CopyN(io.Discard, r, remaining); err != nil {
			return t, nil
		}
	}
	return t, nil
}

func parseASFContentDescription(b []byte, t *Tags) {
	if len(b) < 10 {
		return
	}
	titleLen := int(binary.LittleEndian.Uint16(b[0:2]))
	authorLen := int(binary.LittleEndian.Uint16(b[2:4]))
	// copyright/description/rating lengths follow but aren't consumed
	pos := 10
	readUTF16 := func(n int) string {
		if pos+n > len(b) {
			return ""
		}
		s := utf16LEToString(b[pos : pos+n])
		pos += n
		return s
	}
	t.Title = readUTF16(titleLen)
	t.Artist = readUTF16(authorLen)
}
