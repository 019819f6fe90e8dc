package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"medguard/internal/guard"
)

// Algorithm names one of the supported authenticated ciphers.
// The set is closed: a key records the algorithm it was created for.
type Algorithm string

const (
	AES256GCM         Algorithm = "aes-256-gcm"
	XChaCha20Poly1305 Algorithm = "xchacha20-poly1305"
)

// KeySize is the key length shared by every supported algorithm.
const KeySize = 32

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AES256GCM, XChaCha20Poly1305:
		return Algorithm(s), nil
	case "":
		return AES256GCM, nil
	default:
		return "", fmt.Errorf("unknown encryption algorithm: %q", s)
	}
}

// NonceSize returns the nonce length prefixed to every sealed payload.
func (a Algorithm) NonceSize() int {
	switch a {
	case XChaCha20Poly1305:
		return chacha20poly1305.NonceSizeX
	default:
		return 12
	}
}

// Key is symmetric key material bound to its algorithm.
type Key struct {
	Algorithm Algorithm `json:"algorithm"`
	Material  []byte    `json:"key"`
}

// GenerateKey returns a fresh random key for alg.
func GenerateKey(alg Algorithm) (Key, error) {
	material := make([]byte, KeySize)
	if _, err := rand.Read(material); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return Key{Algorithm: alg, Material: material}, nil
}

// AEAD seals block payloads as nonce||ciphertext with a fresh random nonce per call.
type AEAD struct {
	alg  Algorithm
	aead cipher.AEAD
}

var _ guard.Sealer = (*AEAD)(nil)

// NewAEAD creates the cipher described by key.
func NewAEAD(key Key) (*AEAD, error) {
	if len(key.Material) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key.Material))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch key.Algorithm {
	case AES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key.Material)
		if err != nil {
			return nil, fmt.Errorf("creating aes cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
	case XChaCha20Poly1305:
		aead, err = chacha20poly1305.NewX(key.Material)
	default:
		return nil, fmt.Errorf("unknown encryption algorithm: %q", key.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", key.Algorithm, err)
	}

	return &AEAD{alg: key.Algorithm, aead: aead}, nil
}

// Algorithm returns the cipher in use.
func (a *AEAD) Algorithm() Algorithm { return a.alg }

// Seal encrypts plaintext and returns nonce||ciphertext.
func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+a.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return a.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts a payload produced by Seal.
func (a *AEAD) Open(sealed []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(sealed) < nonceSize+a.aead.Overhead() {
		return nil, fmt.Errorf("%w: sealed payload too short (%d bytes)", guard.ErrCorruptBlock, len(sealed))
	}
	plaintext, err := a.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", guard.ErrCorruptBlock, err)
	}
	return plaintext, nil
}
