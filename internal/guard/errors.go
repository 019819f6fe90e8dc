package guard

import "errors"

// Sentinel errors shared across the engines and their storage backends.
// Callers match them with errors.Is; ErrorKind maps them to stable names.
var (
	// ErrIO indicates an unreadable or unwritable path.
	ErrIO = errors.New("io error")

	// ErrCorruptBlock indicates a block failed authentication or decoding.
	ErrCorruptBlock = errors.New("corrupt block")

	// ErrBlockMissing indicates a referenced block is absent from the object store.
	ErrBlockMissing = errors.New("block missing")

	// ErrVersionNotFound indicates the requested version number is not retained.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoBackups indicates a path has no backup history.
	ErrNoBackups = errors.New("no backups")

	// ErrManifestUnreadable indicates a manifest exists but could not be decoded.
	// The VersionManager treats it as an empty history.
	ErrManifestUnreadable = errors.New("manifest unreadable")

	// ErrObjectNotFound is returned by ObjectStore.Get for an unknown digest.
	ErrObjectNotFound = errors.New("object not found")

	// ErrOutOfScope indicates a path outside the protected roots.
	ErrOutOfScope = errors.New("path outside protected roots")
)

// ErrorKind returns a stable identifier for the failure class of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCorruptBlock):
		return "corrupt_block"
	case errors.Is(err, ErrBlockMissing):
		return "block_missing"
	case errors.Is(err, ErrVersionNotFound):
		return "version_not_found"
	case errors.Is(err, ErrNoBackups):
		return "no_backups"
	case errors.Is(err, ErrManifestUnreadable):
		return "manifest_unreadable"
	case errors.Is(err, ErrOutOfScope):
		return "out_of_scope"
	case errors.Is(err, ErrIO):
		return "io_error"
	default:
		return "internal"
	}
}
