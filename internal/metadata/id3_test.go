package metadata

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildID3v23Frame builds one ID3v2.3 text frame: 4-byte id, 4-byte
// plain big-endian size, 2-byte flags, then a single ISO-8859-1 text
// payload (encoding byte 0x00 + text, no NUL terminator).
func buildID3v23Frame(id, text string) []byte {
	payload := append([]byte{0x00}, []byte(text)...)
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(payload)))
	var buf bytes.Buffer
	buf.WriteString(id)
	buf.Write(sizeBuf[:])
	buf.Write([]byte{0x00, 0x00}) // flags
	buf.Write(payload)
	return buf.Bytes()
}

func synchsafeEncode(n uint32) [4]byte {
	var out [4]byte
	out[0] = byte((n >> 21) & 0x7f)
	out[1] = byte((n >> 14) & 0x7f)
	out[2] = byte((n >> 7) & 0x7f)
	out[3] = byte(n & 0x7f)
	return out
}

func buildID3v23Tag(frames ...[]byte) []byte {
	var body bytes.Buffer
	for _, f := range frames {
		body.Write(f)
	}
	size := synchsafeEncode(uint32(body.Len()))

	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{0x03, 0x00}) // version 2.3.0
	out.WriteByte(0x00)           // flags
	out.Write(size[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestReadID3v23TextFrames(t *testing.T) {
	tag := buildID3v23Tag(
		buildID3v23Frame("TIT2", "Test Title"),
		buildID3v23Frame("TPE1", "Test Artist"),
		buildID3v23Frame("TPE2", "Test Publisher"),
		buildID3v23Frame("TCOM", "Test Composer"),
	)
	tags, err := readID3(bytes.NewReader(tag), int64(len(tag)))
	if err != nil {
		t.Fatalf("readID3: %v", err)
	}
	if tags.Title != "Test Title" {
		t.Fatalf("title = %q", tags.Title)
	}
	if tags.Artist != "Test Artist" {
		t.Fatalf("artist = %q", tags.Artist)
	}
	if tags.AlbumArtist != "Test Publisher" {
		t.Fatalf("album_artist = %q", tags.AlbumArtist)
	}
	if tags.Composer != "Test Composer" {
		t.Fatalf("composer = %q", tags.Composer)
	}
}

func TestReadID3NoHeader(t *testing.T) {
	_, err := readID3(bytes.NewReader([]byte("not an id3 tag at all......")), 0)
	if err == nil {
		t.Fatal("expected error for missing ID3 header")
	}
}
