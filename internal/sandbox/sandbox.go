// Package sandbox confines artifact reads to the project tree. Rules name
// their targets relative to the project root; the sandbox rejects anything
// that resolves outside of it, anything under a denied directory, and
// artifacts larger than the configured limit.
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Sandbox enforces the artifact read policy.
type Sandbox struct {
	root        string
	deniedPaths []string
	maxFileSize int64 // bytes, 0 means unlimited
}

// Config holds the sandbox configuration.
type Config struct {
	Root        string
	DeniedPaths []string // relative to Root unless absolute
	MaxFileSize string   // e.g. "10MB", "512KiB"
}

// New creates a Sandbox rooted at cfg.Root (the working directory if empty).
func New(cfg Config) (*Sandbox, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root %q: %w", root, err)
	}
	s := &Sandbox{root: absRoot}

	for _, p := range cfg.DeniedPaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(absRoot, p)
		}
		s.deniedPaths = append(s.deniedPaths, filepath.Clean(p))
	}

	if cfg.MaxFileSize != "" {
		size, err := humanize.ParseBytes(cfg.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("sandbox: parse max_file_size %q: %w", cfg.MaxFileSize, err)
		}
		s.maxFileSize = int64(size)
	}

	return s, nil
}

// Root returns the absolute project root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve joins a rule target onto the root and checks it against the policy.
// Absolute targets are accepted only when they stay under the root.
func (s *Sandbox) Resolve(target string) (string, error) {
	p := target
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if err := s.CheckPath(p); err != nil {
		return "", err
	}
	return p, nil
}

// CheckPath validates that an absolute path is inside the root and not
// under a denied directory.
func (s *Sandbox) CheckPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve path %q: %w", path, err)
	}

	for _, denied := range s.deniedPaths {
		if within(abs, denied) {
			return fmt.Errorf("sandbox: path %q is under denied path %q", abs, denied)
		}
	}
	if !within(abs, s.root) {
		return fmt.Errorf("sandbox: path %q escapes project root %q", abs, s.root)
	}
	return nil
}

// CheckFileSize validates an artifact size against the configured limit.
func (s *Sandbox) CheckFileSize(size int64) error {
	if s.maxFileSize <= 0 || size <= s.maxFileSize {
		return nil
	}
	return fmt.Errorf("sandbox: artifact size %s exceeds maximum %s",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.maxFileSize)))
}

// MaxFileSize returns the configured limit in bytes, 0 when unlimited.
func (s *Sandbox) MaxFileSize() int64 {
	return s.maxFileSize
}

func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
