package budget

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeAssets(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestMeasureWithinBudget(t *testing.T) {
	dir := writeAssets(t, map[string]string{
		"index-abc123.css":  ":root{--muted:rgba(0,0,0,0.7)}",
		"vendor-def456.css": "body{margin:0}",
		"index-abc123.js":   "console.log('app')",
		"chunk-1.js":        "export {}",
	})

	r, err := Measure(dir, DefaultBudgets())
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !r.OK() {
		t.Errorf("violations = %v, want none", r.Violations)
	}
	if r.CSSFiles != 2 {
		t.Errorf("CSSFiles = %d, want 2", r.CSSFiles)
	}
	wantRaw := int64(len(":root{--muted:rgba(0,0,0,0.7)}") + len("body{margin:0}"))
	if r.CSS.Raw != wantRaw {
		t.Errorf("CSS.Raw = %d, want %d", r.CSS.Raw, wantRaw)
	}
	if r.CSS.Gzip <= 0 || r.IndexJS.Gzip <= 0 {
		t.Errorf("gzip sizes not measured: %+v %+v", r.CSS, r.IndexJS)
	}
	if r.IndexFile != "index-abc123.js" {
		t.Errorf("IndexFile = %q", r.IndexFile)
	}
	if !strings.Contains(r.String(), "passed") {
		t.Errorf("String() = %q", r.String())
	}
}

func TestMeasureViolations(t *testing.T) {
	dir := writeAssets(t, map[string]string{
		"index.css":     strings.Repeat("a", 200),
		"index-1.js":    strings.Repeat("b", 50),
		"not-index.txt": "x",
	})

	r, err := Measure(dir, Budgets{CSSRawMax: 100, CSSGzipMax: 1000, IndexJSRawMax: 10, IndexJSGzipMax: 1000})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	want := []string{"CSS raw 200 > 100", "index JS raw 50 > 10"}
	if len(r.Violations) != len(want) {
		t.Fatalf("violations = %v, want %v", r.Violations, want)
	}
	for i := range want {
		if r.Violations[i] != want[i] {
			t.Errorf("violation[%d] = %q, want %q", i, r.Violations[i], want[i])
		}
	}
	if !strings.Contains(r.String(), "- CSS raw 200 > 100") {
		t.Errorf("String() = %q", r.String())
	}
}

func TestMeasureMissing(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"no directory", func(t *testing.T) string { return filepath.Join(t.TempDir(), "dist", "assets") }},
		{"no css", func(t *testing.T) string { return writeAssets(t, map[string]string{"index-1.js": "x"}) }},
		{"no index js", func(t *testing.T) string { return writeAssets(t, map[string]string{"a.css": "x", "main.js": "y"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Measure(tt.dir(t), DefaultBudgets())
			if !errors.Is(err, ErrMissingAssets) {
				t.Errorf("error = %v, want ErrMissingAssets", err)
			}
		})
	}
}

func TestWithEnv(t *testing.T) {
	env := map[string]string{
		EnvCSSRawMax:      "1000",
		EnvIndexJSGzipMax: " 77 ",
	}
	b, err := DefaultBudgets().WithEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatal(err)
	}
	if b.CSSRawMax != 1000 || b.IndexJSGzipMax != 77 {
		t.Errorf("overrides not applied: %+v", b)
	}
	if b.CSSGzipMax != 34000 || b.IndexJSRawMax != 130000 {
		t.Errorf("defaults changed: %+v", b)
	}

	_, err = DefaultBudgets().WithEnv(func(k string) string {
		if k == EnvCSSGzipMax {
			return "lots"
		}
		return ""
	})
	if err == nil {
		t.Error("expected error for non-numeric budget")
	}
}
