package guard

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"medguard/internal/digest"
)

// DefaultBlockSize is the chunk size used when none is configured.
const DefaultBlockSize = 4096

// BackupEngine splits files into fixed-size blocks and stores every block it
// has not seen before as compress-then-seal payloads in the object store.
type BackupEngine struct {
	fs        FilesystemManager
	store     ObjectStore
	codec     blockCodec
	clock     Clock
	blockSize int
}

// NewBackupEngine creates a BackupEngine. A non-positive blockSize selects DefaultBlockSize.
func NewBackupEngine(fsm FilesystemManager, store ObjectStore, sealer Sealer, compressor Compressor, clock Clock, blockSize int) *BackupEngine {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BackupEngine{
		fs:        fsm,
		store:     store,
		codec:     blockCodec{sealer: sealer, compressor: compressor},
		clock:     clock,
		blockSize: blockSize,
	}
}

// BlockSize returns the chunk size in bytes.
func (e *BackupEngine) BlockSize() int { return e.blockSize }

// CreateBackup reads path in full and stores its new blocks.
// The returned version is unnumbered (Version == 0); the VersionManager assigns it.
func (e *BackupEngine) CreateBackup(path string) (BackupVersion, error) {
	data, info, err := e.readStable(path)
	if err != nil {
		return BackupVersion{}, err
	}

	blocks := Chunk(data, e.blockSize)
	hashes := make([]string, len(blocks))
	stored := make(map[string]bool, len(blocks))

	for i, block := range blocks {
		d := digest.Sum(block)
		hashes[i] = d
		if stored[d] {
			continue
		}
		if err := e.storeBlock(d, block); err != nil {
			return BackupVersion{}, fmt.Errorf("storing block %d of %s: %w", i, path, err)
		}
		stored[d] = true
	}

	return BackupVersion{
		Timestamp:   e.clock.Now(),
		FileHash:    digest.Sum(data),
		BlockHashes: hashes,
		Metadata: FileMetadata{
			Size:        int64(len(data)),
			Permissions: info.Mode().Perm(),
			ModifiedAt:  info.ModTime(),
		},
	}, nil
}

// readStable reads the whole file and fails if its size or mtime moved during the read.
func (e *BackupEngine) readStable(path string) ([]byte, fs.FileInfo, error) {
	before, err := e.fs.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	if !before.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%w: not a regular file: %s", ErrIO, path)
	}

	f, err := e.fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	after, err := e.fs.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	if err := validateStatUnchanged(before, after, int64(len(data))); err != nil {
		return nil, nil, fmt.Errorf("%w: file changed during backup: %s: %w", ErrIO, path, err)
	}

	return data, after, nil
}

func validateStatUnchanged(before, after fs.FileInfo, read int64) error {
	if before.Size() != after.Size() {
		return fmt.Errorf("size changed: %d -> %d", before.Size(), after.Size())
	}
	if !before.ModTime().Equal(after.ModTime()) {
		return fmt.Errorf("modification time changed: %v -> %v", before.ModTime(), after.ModTime())
	}
	if read != after.Size() {
		return fmt.Errorf("read %d bytes, stat reports %d", read, after.Size())
	}
	return nil
}

func (e *BackupEngine) storeBlock(d string, block []byte) error {
	has, err := e.store.Has(d)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	payload, err := e.codec.encode(block)
	if err != nil {
		return err
	}
	return e.store.PutIfAbsent(d, payload)
}

// blockCodec turns plaintext blocks into stored payloads and back.
type blockCodec struct {
	sealer     Sealer
	compressor Compressor
}

// encode compresses before sealing; sealed bytes do not compress.
func (c blockCodec) encode(block []byte) ([]byte, error) {
	compressed, err := c.compressor.Compress(block)
	if err != nil {
		return nil, fmt.Errorf("compressing block: %w", err)
	}
	sealed, err := c.sealer.Seal(compressed)
	if err != nil {
		return nil, fmt.Errorf("sealing block: %w", err)
	}
	return sealed, nil
}

// decode reverses encode. Any failure means the payload is corrupt.
func (c blockCodec) decode(payload []byte) ([]byte, error) {
	compressed, err := c.sealer.Open(payload)
	if err != nil {
		if errors.Is(err, ErrCorruptBlock) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	block, err := c.compressor.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
	}
	return block, nil
}

// CalculateIncrementalChanges returns the indices of blocks in current whose
// digest differs from the digest at the same index in previous, or that have
// no counterpart there. The comparison is positional, so an insertion shifts
// every following block and marks it changed.
func (e *BackupEngine) CalculateIncrementalChanges(current []byte, previous []string) []int {
	return ChangedBlocks(BlockHashes(current, e.blockSize), previous)
}

// ChangedBlocks compares two block digest lists position by position.
func ChangedBlocks(current, previous []string) []int {
	changed := []int{}
	for i, d := range current {
		if i >= len(previous) || previous[i] != d {
			changed = append(changed, i)
		}
	}
	return changed
}

// Chunk splits data into blockSize slices. The last block may be shorter;
// empty input yields no blocks. The slices alias data.
func Chunk(data []byte, blockSize int) [][]byte {
	blocks := make([][]byte, 0, (len(data)+blockSize-1)/blockSize)
	for start := 0; start < len(data); start += blockSize {
		end := min(start+blockSize, len(data))
		blocks = append(blocks, data[start:end])
	}
	return blocks
}

// BlockHashes returns the digest of every block of data.
func BlockHashes(data []byte, blockSize int) []string {
	blocks := Chunk(data, blockSize)
	hashes := make([]string, len(blocks))
	for i, b := range blocks {
		hashes[i] = digest.Sum(b)
	}
	return hashes
}
