package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cgast/dsverify/internal/sandbox"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newLoader(t *testing.T) (*FSLoader, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(sandbox.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	return NewFSLoader(sb), root
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"path only", Target{Path: "src/App.tsx"}, false},
		{"glob only", Target{Glob: "dist/assets/*.js"}, false},
		{"neither", Target{}, true},
		{"both", Target{Path: "a", Glob: "b*"}, true},
		{"bad glob", Target{Glob: "dist/[.js"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFSLoaderPath(t *testing.T) {
	l, root := newLoader(t)
	writeFile(t, root, "src/styles/tokens.css", "--muted: rgba(0,0,0,0.7);")

	got, err := l.Load(Target{Path: "src/styles/tokens.css"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "--muted: rgba(0,0,0,0.7);" {
		t.Errorf("Load = %q", got)
	}

	_, err = l.Load(Target{Path: "src/missing.css"})
	if !errors.Is(err, ErrMissing) {
		t.Errorf("missing file error = %v, want ErrMissing", err)
	}
}

func TestFSLoaderGlobConcatenatesSorted(t *testing.T) {
	l, root := newLoader(t)
	writeFile(t, root, "dist/assets/index-b2.js", "SECOND")
	writeFile(t, root, "dist/assets/index-a1.js", "FIRST")
	writeFile(t, root, "dist/assets/vendor-c3.js", "VENDOR")

	got, err := l.Load(Target{Glob: "dist/assets/index-*.js"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "FIRST\nSECOND" {
		t.Errorf("Load = %q, want %q", got, "FIRST\nSECOND")
	}
}

func TestFSLoaderGlobNoMatches(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.Load(Target{Glob: "dist/assets/index-*.js"})
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("error = %v, want ErrMissing", err)
	}
	if !strings.Contains(err.Error(), "no files matched") {
		t.Errorf("error %q should mention no matches", err)
	}
}

func TestFSLoaderRejectsEscape(t *testing.T) {
	l, _ := newLoader(t)
	_, err := l.Load(Target{Path: "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected sandbox error")
	}
	if errors.Is(err, ErrMissing) {
		t.Error("sandbox violation should not be reported as a missing file")
	}
}

func TestStatic(t *testing.T) {
	s := Static{"a.css": "body{}"}
	if got, err := s.Load(Target{Path: "a.css"}); err != nil || got != "body{}" {
		t.Errorf("Load = %q, %v", got, err)
	}
	if _, err := s.Load(Target{Path: "b.css"}); !errors.Is(err, ErrMissing) {
		t.Errorf("error = %v, want ErrMissing", err)
	}
}
