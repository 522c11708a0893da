package blobstore

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// copyBufSize is the chunk size for streaming hash and copy operations.
const copyBufSize = 64 * 1024

// NewHasher returns a streaming BLAKE2b-256 hasher. Callers feed chunks via
// Write and read the digest with Sum.
func NewHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// unreachable with a nil key
		panic(fmt.Sprintf("blake2b init: %v", err))
	}
	return h
}

// HashReader consumes r to EOF and returns the lowercase hex BLAKE2b-256
// digest together with the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.CopyBuffer(h, r, make([]byte, copyBufSize))
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ValidHash reports whether s looks like a digest produced by this package:
// 64 lowercase hex characters.
func ValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
