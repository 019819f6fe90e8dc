package compression

import (
	"bytes"
	"crypto/rand"
	"testing"

	"medguard/internal/config"
)

func TestZstdCompressor_RoundTrip(t *testing.T) {
	c, err := NewZstdCompressor("")
	if err != nil {
		t.Fatalf("NewZstdCompressor() error = %v", err)
	}
	defer c.Close()

	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: []byte{}},
		{name: "text", input: []byte("MSH|^~\\&|LAB|HOSP|")},
		{name: "repetitive", input: bytes.Repeat([]byte("A"), 10000)},
		{name: "random", input: random},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := c.Compress(tt.input)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			got, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(got, tt.input) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.input))
			}
		})
	}
}

func TestZstdCompressor_ShrinksRepetitiveData(t *testing.T) {
	c, err := NewZstdCompressor("fastest")
	if err != nil {
		t.Fatalf("NewZstdCompressor() error = %v", err)
	}
	defer c.Close()

	input := bytes.Repeat([]byte("A"), 10000)
	out, _ := c.Compress(input)
	if len(out) >= len(input)/10 {
		t.Errorf("compressed size = %d, want well under %d", len(out), len(input))
	}
}

func TestZstdCompressor_DecompressGarbage(t *testing.T) {
	c, err := NewZstdCompressor("")
	if err != nil {
		t.Fatalf("NewZstdCompressor() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Decompress([]byte("definitely not zstd")); err == nil {
		t.Error("Decompress() expected error for garbage input")
	}
}

func TestNewZstdCompressor_UnknownLevel(t *testing.T) {
	if _, err := NewZstdCompressor("ludicrous"); err == nil {
		t.Error("NewZstdCompressor() expected error for unknown level")
	}
}

func TestNewCompressorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BackupConfig
		wantErr bool
	}{
		{name: "default", cfg: config.BackupConfig{}},
		{name: "zstd best", cfg: config.BackupConfig{Compression: "zstd", CompressionLevel: "best"}},
		{name: "none", cfg: config.BackupConfig{Compression: "none"}},
		{name: "unknown", cfg: config.BackupConfig{Compression: "lz4"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCompressorFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCompressorFromConfig() error = %v", err)
			}
			out, err := c.Compress([]byte("payload"))
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			back, err := c.Decompress(out)
			if err != nil || string(back) != "payload" {
				t.Errorf("Decompress() = %q, %v", back, err)
			}
		})
	}
}
