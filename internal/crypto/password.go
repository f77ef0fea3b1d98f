// Package crypto implements the at-rest symmetric encryption for WebDAV
// library credentials: AES-256-CTR with the IV prepended to the
// ciphertext, keyed by a 32-byte process key supplied via config/env.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var ErrKeySize = errors.New("crypto: key must be 32 bytes")

// Encrypt returns base64(iv ‖ ciphertext) for plaintext under key.
func Encrypt(key []byte, plaintext string) (string, error) {
	if len(key) != 32 {
		return "", ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	buf := make([]byte, aes.BlockSize+len(plaintext))
	iv := buf[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(buf[aes.BlockSize:], []byte(plaintext))
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. It is the caller's job to apply the
// legacy-compat fallback (treat stored as plaintext on failure) per
// spec.md §4.1 and §9 — Decrypt itself never does that silently.
func Decrypt(key []byte, stored string) (string, error) {
	if len(key) != 32 {
		return "", ErrKeySize
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", err
	}
	if len(raw) < aes.BlockSize {
		return "", errors.New("crypto: ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	iv := raw[:aes.BlockSize]
	ct := raw[aes.BlockSize:]
	out := make([]byte, len(ct))
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(out, ct)
	return string(out), nil
}

// ResolvePassword implements the documented migration-compat fallback:
// if stored fails to decrypt under key, it is used verbatim as plaintext.
func ResolvePassword(key []byte, stored string) string {
	if stored == "" {
		return ""
	}
	pw, err := Decrypt(key, stored)
	if err != nil {
		return stored
	}
	return pw
}
