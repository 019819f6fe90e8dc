package fs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestOSFilesystemManager_FindFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, rel := range []string{
		"a.dcm",
		filepath.Join("ct", "b.dcm"),
		filepath.Join("ct", "notes.txt"),
		filepath.Join("scratch", "c.dcm"),
	} {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(rel), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	m := NewOSFilesystemManager()
	filter := NewFilter([]string{root}, []string{".dcm"}, []string{"scratch"})
	got, err := m.FindFiles(root, filter)
	if err != nil {
		t.Fatalf("FindFiles() error = %v", err)
	}
	want := []string{
		filepath.Join(root, "a.dcm"),
		filepath.Join(root, "ct", "b.dcm"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindFiles() = %v, want %v", got, want)
	}
}

func TestOSFilesystemManager_Open(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewOSFilesystemManager()

	if _, err := m.Open(root); err == nil {
		t.Error("expected error opening a directory")
	}

	p := filepath.Join(root, "file.dcm")
	if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rc, err := m.Open(p)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rc.Close()

	if _, err := m.Open(filepath.Join(root, "missing")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestOSFilesystemManager_Resolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "target.dcm")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	link := filepath.Join(root, "link.dcm")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	m := NewOSFilesystemManager()
	if _, _, err := m.Resolve(link); err == nil {
		t.Error("expected symlink to be rejected")
	}
	abs, info, err := m.Resolve(target)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if abs != target || info.IsDir() {
		t.Errorf("Resolve() = %q, dir=%v", abs, info.IsDir())
	}
}
