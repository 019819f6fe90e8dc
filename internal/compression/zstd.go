package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"medguard/internal/guard"
)

// ZstdCompressor compresses block payloads with zstd.
// The encoder and decoder are created once and reused; both are safe for
// concurrent use through EncodeAll/DecodeAll.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ guard.Compressor = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a compressor at the given level name
// ("fastest", "default", "better", "best").
func NewZstdCompressor(level string) (*ZstdCompressor, error) {
	lvl := zstd.SpeedDefault
	if level != "" {
		var ok bool
		if ok, lvl = zstd.EncoderLevelFromString(level); !ok {
			return nil, fmt.Errorf("unknown zstd level: %q", level)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Compress returns data as a single zstd frame.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2+16)), nil
}

// Decompress reverses Compress.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *ZstdCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
