package metadata

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildVorbisCommentPayload(vendor string, comments []string) []byte {
	var buf bytes.Buffer
	writeLenPrefixed := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	writeLenPrefixed(vendor)
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(comments)))
	buf.Write(count[:])
	for _, c := range comments {
		writeLenPrefixed(c)
	}
	return buf.Bytes()
}

func buildFLACStream(vorbisPayload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	// block header: last=1 (0x80) | type=4, 24-bit length big-endian
	n := len(vorbisPayload)
	buf.WriteByte(0x80 | 4)
	buf.WriteByte(byte(n >> 16))
	buf.WriteByte(byte(n >> 8))
	buf.WriteByte(byte(n))
	buf.Write(vorbisPayload)
	return buf.Bytes()
}

func TestReadFLACTags(t *testing.T) {
	payload := buildVorbisCommentPayload("reference libFLAC 1.3.2", []string{
		"TITLE=Chapter One",
		"ALBUM=My Audiobook",
		"ARTIST=Narrator Name",
		"ALBUMARTIST=Author Name",
	})
	stream := buildFLACStream(payload)

	tags, err := readFLACTags(bytes.NewReader(stream), int64(len(stream)))
	if err != nil {
		t.Fatalf("readFLACTags: %v", err)
	}
	if tags.Title != "Chapter One" {
		t.Fatalf("title = %q", tags.Title)
	}
	if tags.Album != "My Audiobook" {
		t.Fatalf("album = %q", tags.Album)
	}
	if tags.Artist != "Narrator Name" {
		t.Fatalf("artist = %q", tags.Artist)
	}
	if tags.AlbumArtist != "Author Name" {
		t.Fatalf("album_artist = %q", tags.AlbumArtist)
	}
}

func TestReadFLACNotFLAC(t *testing.T) {
	_, err := readFLACTags(bytes.NewReader([]byte("junkjunkjunk")), 12)
	if err == nil {
		t.Fatal("expected error for non-FLAC stream")
	}
}
