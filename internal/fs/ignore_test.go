package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		if len(m.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(m.patterns))
		}
		if m.patterns[0].pattern != "*.log" {
			t.Errorf("expected *.log, got %s", m.patterns[0].pattern)
		}
	})

	t.Run("classifies path vs basename patterns", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.log", "build/output"})
		if m.patterns[0].matchPath {
			t.Error("*.log should not be a path pattern")
		}
		if !m.patterns[1].matchPath {
			t.Error("build/output should be a path pattern")
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{
			name:         "basename glob matches file in root",
			patterns:     []string{"*.log"},
			relativePath: "app.log",
			want:         true,
		},
		{
			name:         "basename glob matches file in subdirectory",
			patterns:     []string{"*.log"},
			relativePath: filepath.Join("sub", "app.log"),
			want:         true,
		},
		{
			name:         "basename glob does not match different extension",
			patterns:     []string{"*.log"},
			relativePath: "app.txt",
			want:         false,
		},
		{
			name:         "exact basename match",
			patterns:     []string{".medguardignore"},
			relativePath: ".medguardignore",
			want:         true,
		},
		{
			name:         "exact basename matches in subdirectory",
			patterns:     []string{".DS_Store"},
			relativePath: filepath.Join("sub", ".DS_Store"),
			want:         true,
		},
		{
			name:         "path pattern matches exact relative path",
			patterns:     []string{"build/output"},
			relativePath: filepath.Join("build", "output"),
			want:         true,
		},
		{
			name:         "path pattern does not match wrong path",
			patterns:     []string{"build/output"},
			relativePath: filepath.Join("src", "output"),
			want:         false,
		},
		{
			name:         "path pattern with glob",
			patterns:     []string{"build/*.o"},
			relativePath: filepath.Join("build", "main.o"),
			want:         true,
		},
		{
			name:         "basename pattern matches directory element",
			patterns:     []string{".git"},
			relativePath: filepath.Join("series", ".git", "HEAD"),
			want:         true,
		},
		{
			name:         "trailing slash is stripped",
			patterns:     []string{"scratch/"},
			relativePath: filepath.Join("scratch", "tmp.dcm"),
			want:         true,
		},
		{
			name:         "question mark wildcard",
			patterns:     []string{"?.txt"},
			relativePath: "a.txt",
			want:         true,
		},
		{
			name:         "question mark does not match multiple chars",
			patterns:     []string{"?.txt"},
			relativePath: "ab.txt",
			want:         false,
		},
		{
			name:         "character class",
			patterns:     []string{"*.[oa]"},
			relativePath: "main.o",
			want:         true,
		},
		{
			name:         "no patterns matches nothing",
			patterns:     nil,
			relativePath: "anything.txt",
			want:         false,
		},
		{
			name:         "empty string path",
			patterns:     []string{"*.log"},
			relativePath: "",
			want:         false,
		},
		{
			name:         "multiple patterns first matches",
			patterns:     []string{"*.log", "*.tmp"},
			relativePath: "debug.log",
			want:         true,
		},
		{
			name:         "multiple patterns second matches",
			patterns:     []string{"*.log", "*.tmp"},
			relativePath: "data.tmp",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			got := m.Match(tt.relativePath)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads patterns from file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, ".medguardignore")
		content := "*.log\n# comment\n\n*.tmp\nbuild/output\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}

		// Verify the matcher filters correctly
		m := NewIgnoreMatcher(patterns)
		if len(m.patterns) != 3 {
			t.Errorf("expected 3 parsed patterns, got %d", len(m.patterns))
		}
	})

	t.Run("returns nil for missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile("/nonexistent/.medguardignore")
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}

func TestFilter(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "protected")

	tests := []struct {
		name       string
		extensions []string
		ignore     []string
		path       string
		want       bool
	}{
		{
			name:       "allowed extension",
			extensions: []string{".dcm", ".hl7"},
			path:       filepath.Join(root, "ct", "scan.dcm"),
			want:       true,
		},
		{
			name:       "extension match is case-insensitive",
			extensions: []string{"dcm"},
			path:       filepath.Join(root, "SCAN.DCM"),
			want:       true,
		},
		{
			name:       "extension not in allow-list",
			extensions: []string{".dcm"},
			path:       filepath.Join(root, "notes.txt"),
			want:       false,
		},
		{
			name: "empty allow-list accepts everything",
			path: filepath.Join(root, "notes.txt"),
			want: true,
		},
		{
			name:       "ignore pattern relative to root",
			extensions: []string{".dcm"},
			ignore:     []string{"archive/*"},
			path:       filepath.Join(root, "archive", "old.dcm"),
			want:       false,
		},
		{
			name: "restore temp files are always ignored",
			path: filepath.Join(root, ".scan.dcm.restore-1234"),
			want: false,
		},
		{
			name: "ignore file itself is ignored",
			path: filepath.Join(root, IgnoreFileName),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := NewFilter([]string{root}, tt.extensions, tt.ignore)
			if got := f.Allow(tt.path); got != tt.want {
				t.Errorf("Allow(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoadFilter(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte("scratch\n"), 0644); err != nil {
		t.Fatalf("writing ignore file: %v", err)
	}

	f, err := LoadFilter([]string{root}, nil, nil)
	if err != nil {
		t.Fatalf("LoadFilter() error = %v", err)
	}
	if f.AllowDir(filepath.Join(root, "scratch")) {
		t.Error("expected scratch directory to be rejected")
	}
	if !f.Allow(filepath.Join(root, "keep.dcm")) {
		t.Error("expected keep.dcm to be allowed")
	}
}

func TestFilter_Protects(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "data", "protected")
	f := NewFilter([]string{root}, []string{".dcm"}, nil)

	tests := []struct {
		name         string
		path         string
		wantWithin   bool
		wantProtects bool
	}{
		{"file under root", filepath.Join(root, "ct", "scan.dcm"), true, true},
		{"wrong extension under root", filepath.Join(root, "notes.txt"), true, false},
		{"root itself", root, false, false},
		{"sibling with shared prefix", root + "-old" + string(filepath.Separator) + "scan.dcm", false, false},
		{"outside every root", filepath.Join(string(filepath.Separator), "etc", "scan.dcm"), false, false},
		{"dot-dot escape", filepath.Join(root, "..", "secret.dcm"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Within(tt.path); got != tt.wantWithin {
				t.Errorf("Within(%q) = %v, want %v", tt.path, got, tt.wantWithin)
			}
			if got := f.Protects(tt.path); got != tt.wantProtects {
				t.Errorf("Protects(%q) = %v, want %v", tt.path, got, tt.wantProtects)
			}
		})
	}
}

func TestUnder(t *testing.T) {
	dir := filepath.Join(string(filepath.Separator), "srv", "restore")

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "a.dcm"), true},
		{filepath.Join(dir, "nested", "a.dcm"), true},
		{dir, false},
		{filepath.Join(dir, "..", "a.dcm"), false},
		{dir + "x" + string(filepath.Separator) + "a.dcm", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Under(dir, tt.path); got != tt.want {
				t.Errorf("Under(%q, %q) = %v, want %v", dir, tt.path, got, tt.want)
			}
		})
	}
}
