package guard

import (
	"io"
	"io/fs"
)

// FilesystemManager abstracts read access to watched files so the engines
// can be tested without touching the real filesystem.
type FilesystemManager interface {
	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info for a path.
	// A missing file returns an error satisfying errors.Is(err, fs.ErrNotExist).
	Stat(path string) (fs.FileInfo, error)
}
