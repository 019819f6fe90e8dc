package encryption

import (
	"fmt"

	"medguard/internal/config"
	"medguard/internal/guard"
)

// PassphraseFunc supplies the passphrase that unlocks the key file.
type PassphraseFunc func() (string, error)

// NewSealerFromConfig creates the block Sealer based on the configured key mode.
// In "ephemeral" mode a random key is generated for this process only, so blocks
// written by earlier runs cannot be opened.
func NewSealerFromConfig(cfg config.EncryptionConfig, passphrase PassphraseFunc, logger guard.Logger) (*AEAD, error) {
	switch cfg.Mode {
	case "ephemeral":
		alg, err := ParseAlgorithm(cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		key, err := GenerateKey(alg)
		if err != nil {
			return nil, err
		}
		logger.Warn("using ephemeral encryption key; backups will not be restorable after restart", "algorithm", alg)
		return NewAEAD(key)
	case "keyfile", "":
		kf := NewKeyFile(cfg.KeyPath)
		pass, err := passphrase()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		key, err := kf.Load(pass)
		if err != nil {
			return nil, fmt.Errorf("loading key: %w", err)
		}
		logger.Debug("loaded encryption key", "path", kf.Path(), "algorithm", key.Algorithm)
		return NewAEAD(key)
	default:
		return nil, fmt.Errorf("unknown encryption mode: %q", cfg.Mode)
	}
}
