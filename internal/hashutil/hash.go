// Package hashutil implements the short-read content fingerprints used to
// re-identify books and chapters across scans without reading whole files.
package hashutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

const chapterPrefixSize = 16 * 1024

// ChapterHash computes SHA-256( first 16 KiB of r ‖ u64_le(size) ‖ name ).
// size is the full file size (not the number of prefix bytes actually
// read, which may be shorter for small files).
func ChapterHash(r io.Reader, size int64, name string) (string, error) {
	h := sha256.New()
	if _, err := io.CopyN(h, r, chapterPrefixSize); err != nil && err != io.EOF {
		return "", err
	}
	var szBuf [8]byte
	binary.LittleEndian.PutUint64(szBuf[:], uint64(size))
	h.Write(szBuf[:])
	h.Write([]byte(name))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BookHash computes SHA-256 of the book directory path string, used as a
// deterministic re-identification key across scans.
func BookHash(dirPath string) string {
	sum := sha256.Sum256([]byte(dirPath))
	return hex.EncodeToString(sum[:])
}
