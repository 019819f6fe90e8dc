package compression

import (
	"fmt"

	"medguard/internal/config"
	"medguard/internal/guard"
)

// NewCompressorFromConfig creates a Compressor based on the backup compression setting.
func NewCompressorFromConfig(cfg config.BackupConfig) (guard.Compressor, error) {
	switch cfg.Compression {
	case "zstd", "":
		c, err := NewZstdCompressor(cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "none":
		return NoneCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %q", cfg.Compression)
	}
}
