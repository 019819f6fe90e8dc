package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is read from the root of every watched directory.
const IgnoreFileName = ".medguardignore"

// defaultIgnorePatterns are always applied regardless of config or ignore files.
// The restore pattern matches the temporary files written during an atomic restore.
var defaultIgnorePatterns = []string{IgnoreFileName, ".*.restore-*"}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against each path element
}

// IgnoreMatcher checks file paths against a set of ignore patterns.
// Patterns without '/' match any single element of the path, so ".git" ignores
// everything beneath a .git directory. Patterns with '/' match the full relative
// path from the watched root.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSuffix(raw, "/")
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := filepath.ToSlash(relativePath)
	elements := strings.Split(normalized, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			if ok, err := filepath.Match(p.pattern, normalized); err == nil && ok {
				return true
			}
			continue
		}
		for _, elem := range elements {
			if ok, err := filepath.Match(p.pattern, elem); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// Filter decides which paths under the watched roots are protected.
// A file passes when its extension is in the allow-list (an empty list allows
// every extension) and no ignore pattern matches its path relative to its root.
type Filter struct {
	roots      []string
	extensions map[string]struct{}
	ignore     *IgnoreMatcher
}

// NewFilter builds a Filter. Extensions are compared case-insensitively and
// may be given with or without the leading dot.
func NewFilter(roots, extensions, ignorePatterns []string) *Filter {
	f := &Filter{extensions: make(map[string]struct{}, len(extensions))}
	for _, r := range roots {
		f.roots = append(f.roots, filepath.Clean(r))
	}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	patterns := append(append([]string{}, defaultIgnorePatterns...), ignorePatterns...)
	f.ignore = NewIgnoreMatcher(patterns)
	return f
}

// LoadFilter builds a Filter and adds the patterns found in each root's ignore file.
func LoadFilter(roots, extensions, ignorePatterns []string) (*Filter, error) {
	patterns := append([]string{}, ignorePatterns...)
	for _, root := range roots {
		extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	return NewFilter(roots, extensions, patterns), nil
}

// Allow reports whether a file path should be watched and backed up.
func (f *Filter) Allow(path string) bool {
	if len(f.extensions) > 0 {
		if _, ok := f.extensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return false
		}
	}
	return !f.ignore.Match(f.relative(path))
}

// AllowDir reports whether a directory should be descended into.
func (f *Filter) AllowDir(path string) bool {
	return !f.ignore.Match(f.relative(path))
}

// Protects reports whether path lies under a watched root and passes Allow.
func (f *Filter) Protects(path string) bool {
	return f.Within(path) && f.Allow(path)
}

// Within reports whether path lies under one of the watched roots.
func (f *Filter) Within(path string) bool {
	_, ok := f.underRoot(path)
	return ok
}

// relative returns path relative to the first root containing it, or the
// path itself when no root does.
func (f *Filter) relative(path string) string {
	if rel, ok := f.underRoot(path); ok {
		return rel
	}
	return filepath.Clean(path)
}

func (f *Filter) underRoot(path string) (string, bool) {
	path = filepath.Clean(path)
	for _, root := range f.roots {
		if rel, ok := under(root, path); ok {
			return rel, true
		}
	}
	return "", false
}

// under returns path relative to dir when path is strictly inside dir.
func under(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// Under reports whether path lies strictly inside dir. Both must be absolute.
func Under(dir, path string) bool {
	_, ok := under(filepath.Clean(dir), filepath.Clean(path))
	return ok
}
