package metadata

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

func utf16LEBytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2+2) // +2 for NUL terminator
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}

func buildASFContentDescriptionObject(title, author string) []byte {
	titleB := utf16LEBytes(title)
	authorB := utf16LEBytes(author)

	var body bytes.Buffer
	writeU16 := func(n int) {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		body.Write(b[:])
	}
	writeU16(len(titleB))
	writeU16(len(authorB))
	writeU16(0) // copyright length
	writeU16(0) // description length
	writeU16(0) // rating length
	body.Write(titleB)
	body.Write(authorB)

	var obj bytes.Buffer
	obj.Write(asfContentDescriptionGUID[:])
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(24+body.Len()))
	obj.Write(size[:])
	obj.Write(body.Bytes())
	return obj.Bytes()
}

func buildASFStream(objects ...[]byte) []byte {
	var allObjs bytes.Buffer
	for _, o := range objects {
		allObjs.Write(o)
	}

	var hdr bytes.Buffer
	hdr.Write(asfHeaderGUID[:])
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(30+allObjs.Len()))
	hdr.Write(size[:])
	var numObjs [4]byte
	binary.LittleEndian.PutUint32(numObjs[:], uint32(len(objects)))
	hdr.Write(numObjs[:])
	hdr.Write([]byte{0, 0}) // reserved
	hdr.Write(allObjs.Bytes())
	return hdr.Bytes()
}

func TestReadASFTags(t *testing.T) {
	obj := buildASFContentDescriptionObject("Chapter One", "Narrator Name")
	stream := buildASFStream(obj)

	tags, err := readASFTags(bytes.NewReader(stream), int64(len(stream)))
	if err != nil {
		t.Fatalf("readASFTags: %v", err)
	}
	if tags.Title != "Chapter One" {
		t.Fatalf("title = %q", tags.Title)
	}
	if tags.Artist != "Narrator Name" {
		t.Fatalf("artist = %q", tags.Artist)
	}
}

func TestReadASFNotASF(t *testing.T) {
	_, err := readASFTags(bytes.NewReader(make([]byte, 30)), 30)
	if err == nil {
		t.Fatal("expected error for non-ASF stream")
	}
}
