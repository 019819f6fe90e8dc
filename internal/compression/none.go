package compression

import "medguard/internal/guard"

// NoneCompressor stores payloads as-is.
type NoneCompressor struct{}

var _ guard.Compressor = NoneCompressor{}

func (NoneCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (NoneCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}
