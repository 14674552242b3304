// Package checkpoint snapshots the source files an autofix stage may
// rewrite, so a pipeline run can be inspected and rolled back.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cgast/dsverify/internal/sandbox"
	"github.com/cgast/dsverify/pkg/artifact"
)

// ErrNotFound is returned for an unknown checkpoint name.
var ErrNotFound = errors.New("checkpoint not found")

// File is one captured source file.
type File struct {
	Hash    string `json:"hash"`
	Content string `json:"content"`
}

// Snapshot is the content of every matched file at a point in time,
// keyed by path relative to the project root.
type Snapshot struct {
	Patterns  []string        `json:"patterns"`
	Files     map[string]File `json:"files"`
	Timestamp time.Time       `json:"timestamp"`
}

// Info is metadata about a saved checkpoint.
type Info struct {
	Name      string    `json:"name"`
	Files     int       `json:"files"`
	Timestamp time.Time `json:"timestamp"`
}

// Change records a difference between two snapshots.
type Change struct {
	Path string `json:"path"`
	Type string `json:"type"` // "added", "removed", "modified"
}

// Capture reads every file matching patterns under the sandbox root.
func Capture(sb *sandbox.Sandbox, patterns []string) (Snapshot, error) {
	snap := Snapshot{
		Patterns:  append([]string(nil), patterns...),
		Files:     make(map[string]File),
		Timestamp: time.Now().UTC(),
	}
	for _, pattern := range patterns {
		matches, err := artifact.Expand(sb, pattern)
		if err != nil {
			return Snapshot{}, err
		}
		for _, path := range matches {
			rel, err := filepath.Rel(sb.Root(), path)
			if err != nil {
				return Snapshot{}, err
			}
			rel = filepath.ToSlash(rel)
			if _, ok := snap.Files[rel]; ok {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return Snapshot{}, fmt.Errorf("capture %s: %w", rel, err)
			}
			snap.Files[rel] = File{Hash: hash(data), Content: string(data)}
		}
	}
	return snap, nil
}

// Restore writes every captured file back under the sandbox root. Files
// created after the snapshot are left alone. It returns the restored paths.
func Restore(sb *sandbox.Sandbox, snap Snapshot) ([]string, error) {
	var restored []string
	for _, rel := range sortedPaths(snap.Files) {
		f := snap.Files[rel]
		path, err := sb.Resolve(filepath.FromSlash(rel))
		if err != nil {
			return restored, err
		}
		current, err := os.ReadFile(path)
		if err == nil && hash(current) == f.Hash {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return restored, fmt.Errorf("restore %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(f.Content), 0644); err != nil {
			return restored, fmt.Errorf("restore %s: %w", rel, err)
		}
		restored = append(restored, rel)
	}
	return restored, nil
}

// Diff compares two snapshots by content hash.
func Diff(a, b Snapshot) []Change {
	var changes []Change
	for _, p := range sortedPaths(a.Files) {
		fb, ok := b.Files[p]
		switch {
		case !ok:
			changes = append(changes, Change{Path: p, Type: "removed"})
		case fb.Hash != a.Files[p].Hash:
			changes = append(changes, Change{Path: p, Type: "modified"})
		}
	}
	for _, p := range sortedPaths(b.Files) {
		if _, ok := a.Files[p]; !ok {
			changes = append(changes, Change{Path: p, Type: "added"})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Manager stores checkpoints as JSON files in a directory.
type Manager struct {
	dir string
}

// NewManager creates a manager storing snapshots under dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// NewName returns a sortable checkpoint name for t.
func NewName(t time.Time) string {
	return t.UTC().Format("20060102T150405.000Z")
}

func (m *Manager) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid checkpoint name %q", name)
	}
	return filepath.Join(m.dir, name+".json"), nil
}

func (m *Manager) Save(name string, snap Snapshot) error {
	path, err := m.path(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (m *Manager) Load(name string) (Snapshot, error) {
	path, err := m.path(name)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Snapshot{}, fmt.Errorf("read checkpoint %q: %w", name, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse checkpoint %q: %w", name, err)
	}
	return snap, nil
}

// List returns saved checkpoints, oldest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		snap, err := m.Load(name)
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: name, Files: len(snap.Files), Timestamp: snap.Timestamp})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})
	return infos, nil
}

func hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedPaths(files map[string]File) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
