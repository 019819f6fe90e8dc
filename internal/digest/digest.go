// Package digest is the content hash used for block identity and change detection.
package digest

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a raw digest.
const Size = 32

// Sum returns the hex-encoded BLAKE3 digest of data.
func Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader hashes everything read from r, returning the hex digest and the byte count.
func SumReader(r io.Reader) (string, int64, error) {
	h := blake3.New()
	buf := make([]byte, 32*1024)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", n, fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Valid reports whether s looks like a hex digest produced by Sum.
func Valid(s string) bool {
	if len(s) != Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
