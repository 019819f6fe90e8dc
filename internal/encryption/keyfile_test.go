package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"medguard/internal/config"
	"medguard/internal/guard"
)

func TestKeyFile_CreateLoad(t *testing.T) {
	t.Parallel()
	kf := NewKeyFile(filepath.Join(t.TempDir(), "keys", "medguard.key"))

	if kf.Exists() {
		t.Fatal("Exists() = true before Create")
	}

	created, err := kf.Create(XChaCha20Poly1305, "correct horse")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !kf.Exists() {
		t.Error("Exists() = false after Create")
	}

	loaded, err := kf.Load("correct horse")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Algorithm != XChaCha20Poly1305 {
		t.Errorf("Algorithm = %q, want %q", loaded.Algorithm, XChaCha20Poly1305)
	}
	if !bytes.Equal(loaded.Material, created.Material) {
		t.Error("loaded key material differs from created key")
	}

	if _, err := kf.Load("wrong passphrase"); err == nil {
		t.Error("Load() with wrong passphrase expected error")
	}
	if _, err := kf.Create(AES256GCM, "again"); err == nil {
		t.Error("Create() over existing key file expected error")
	}
}

func TestKeyFile_LoadMissing(t *testing.T) {
	t.Parallel()
	kf := NewKeyFile(filepath.Join(t.TempDir(), "nope.key"))
	_, err := kf.Load("anything")
	if !errors.Is(err, ErrKeyFileMissing) {
		t.Errorf("Load() error = %v, want ErrKeyFileMissing", err)
	}
}

func TestNewSealerFromConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "medguard.key")
	if _, err := NewKeyFile(keyPath).Create(AES256GCM, "pw"); err != nil {
		t.Fatal(err)
	}
	pass := func() (string, error) { return "pw", nil }
	noPass := func() (string, error) {
		t.Error("passphrase requested in ephemeral mode")
		return "", nil
	}

	tests := []struct {
		name       string
		cfg        config.EncryptionConfig
		passphrase PassphraseFunc
		wantAlg    Algorithm
		wantErr    bool
	}{
		{name: "keyfile", cfg: config.EncryptionConfig{Mode: "keyfile", KeyPath: keyPath}, passphrase: pass, wantAlg: AES256GCM},
		{name: "ephemeral", cfg: config.EncryptionConfig{Mode: "ephemeral", Algorithm: "xchacha20-poly1305"}, passphrase: noPass, wantAlg: XChaCha20Poly1305},
		{name: "missing key", cfg: config.EncryptionConfig{Mode: "keyfile", KeyPath: filepath.Join(dir, "other.key")}, passphrase: pass, wantErr: true},
		{name: "unknown mode", cfg: config.EncryptionConfig{Mode: "tpm"}, passphrase: pass, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSealerFromConfig(tt.cfg, tt.passphrase, guard.NewNopLogger())
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSealerFromConfig() error = %v", err)
			}
			if s.Algorithm() != tt.wantAlg {
				t.Errorf("Algorithm() = %q, want %q", s.Algorithm(), tt.wantAlg)
			}
		})
	}
}
