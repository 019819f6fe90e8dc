package encryption

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// ErrKeyFileMissing is returned by KeyFile.Load when no key has been created yet.
var ErrKeyFileMissing = errors.New("key file not found")

// KeyFile persists a Key on disk, encrypted with the user's passphrase
// using age's scrypt-based passphrase encryption.
type KeyFile struct {
	path string
}

// NewKeyFile creates a KeyFile at path. Nothing is read or written until Create or Load.
func NewKeyFile(path string) *KeyFile {
	return &KeyFile{path: path}
}

// Path returns the location of the key file.
func (k *KeyFile) Path() string { return k.path }

// Exists returns true if the key file is present.
func (k *KeyFile) Exists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

// Create generates a new key for alg, writes it encrypted under passphrase,
// and returns it. It refuses to overwrite an existing key file.
func (k *KeyFile) Create(alg Algorithm, passphrase string) (Key, error) {
	if k.Exists() {
		return Key{}, fmt.Errorf("key file already exists at %s", k.path)
	}

	key, err := GenerateKey(alg)
	if err != nil {
		return Key{}, err
	}

	plain, err := json.Marshal(key)
	if err != nil {
		return Key{}, fmt.Errorf("encoding key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return Key{}, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return Key{}, fmt.Errorf("creating key directory: %w", err)
	}

	f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return Key{}, fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return Key{}, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return Key{}, fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return Key{}, fmt.Errorf("finalizing encrypted key: %w", err)
	}
	if err := f.Sync(); err != nil {
		return Key{}, fmt.Errorf("syncing key file: %w", err)
	}

	return key, nil
}

// Load decrypts the key file with passphrase.
// A wrong passphrase surfaces as an error from age.
func (k *KeyFile) Load(passphrase string) (Key, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Key{}, fmt.Errorf("%w: %s", ErrKeyFileMissing, k.path)
		}
		return Key{}, fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return Key{}, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return Key{}, fmt.Errorf("decrypting key file: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return Key{}, fmt.Errorf("reading decrypted key: %w", err)
	}

	var key Key
	if err := json.Unmarshal(plain, &key); err != nil {
		return Key{}, fmt.Errorf("parsing key: %w", err)
	}
	if _, err := ParseAlgorithm(string(key.Algorithm)); err != nil {
		return Key{}, err
	}
	if len(key.Material) != KeySize {
		return Key{}, fmt.Errorf("key file holds %d byte key, want %d", len(key.Material), KeySize)
	}

	return key, nil
}
