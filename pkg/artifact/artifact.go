// Package artifact loads the text content that rules inspect. A target is
// either a single source file or a glob over build output; glob targets
// resolve to every matching file, concatenated in lexical order.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cgast/dsverify/internal/sandbox"
)

// ErrMissing reports that a target resolved to no readable file.
var ErrMissing = errors.New("missing file")

// Target locates the artifact a rule inspects. Exactly one of Path or Glob is set.
type Target struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	Glob string `yaml:"glob,omitempty" json:"glob,omitempty"`
}

// String returns the path or glob as written in configuration.
func (t Target) String() string {
	if t.Glob != "" {
		return t.Glob
	}
	return t.Path
}

// Validate checks that exactly one locator is set.
func (t Target) Validate() error {
	switch {
	case t.Path == "" && t.Glob == "":
		return fmt.Errorf("target: path or glob is required")
	case t.Path != "" && t.Glob != "":
		return fmt.Errorf("target: path %q and glob %q are mutually exclusive", t.Path, t.Glob)
	}
	if t.Glob != "" {
		if _, err := filepath.Match(t.Glob, ""); err != nil {
			return fmt.Errorf("target: invalid glob %q: %w", t.Glob, err)
		}
	}
	return nil
}

// Loader returns the text of a target. Implementations wrap ErrMissing when
// the target does not exist.
type Loader interface {
	Load(t Target) (string, error)
}

// FSLoader reads targets from disk through a sandbox.
type FSLoader struct {
	Sandbox *sandbox.Sandbox
}

// NewFSLoader creates a loader rooted at the sandbox root.
func NewFSLoader(sb *sandbox.Sandbox) *FSLoader {
	return &FSLoader{Sandbox: sb}
}

// Load implements Loader.
func (l *FSLoader) Load(t Target) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.Glob != "" {
		return l.loadGlob(t.Glob)
	}
	return l.loadPath(t.Path)
}

func (l *FSLoader) loadPath(target string) (string, error) {
	path, err := l.Sandbox.Resolve(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", target, ErrMissing)
		}
		return "", fmt.Errorf("stat %s: %w", target, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", target, ErrMissing)
	}
	if err := l.Sandbox.CheckFileSize(info.Size()); err != nil {
		return "", fmt.Errorf("%s: %w", target, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	return string(data), nil
}

func (l *FSLoader) loadGlob(pattern string) (string, error) {
	matches, err := Expand(l.Sandbox, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: no files matched: %w", pattern, ErrMissing)
	}

	var sb strings.Builder
	for i, path := range matches {
		rel, _ := filepath.Rel(l.Sandbox.Root(), path)
		text, err := l.loadPath(rel)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}

// Expand returns the regular files matching pattern under the sandbox root,
// sorted lexically. Matches outside the policy are skipped.
func Expand(sb *sandbox.Sandbox, pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(sb.Root(), pattern)
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", pattern, err)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if sb.CheckPath(m) != nil {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// Static is an in-memory Loader keyed by Target.String(). Glob keys hold
// the already-concatenated text.
type Static map[string]string

// Load implements Loader.
func (s Static) Load(t Target) (string, error) {
	text, ok := s[t.String()]
	if !ok {
		return "", fmt.Errorf("%s: %w", t, ErrMissing)
	}
	return text, nil
}
