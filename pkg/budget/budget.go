// Package budget measures build output against raw and gzip size budgets.
package budget

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrMissingAssets is returned when the assets directory or a required
// asset is absent, usually because the project was not built.
var ErrMissingAssets = errors.New("missing build assets")

// Environment variables overriding the configured budgets.
const (
	EnvCSSRawMax      = "BUDGET_CSS_RAW_MAX"
	EnvCSSGzipMax     = "BUDGET_CSS_GZIP_MAX"
	EnvIndexJSRawMax  = "BUDGET_INDEX_JS_RAW_MAX"
	EnvIndexJSGzipMax = "BUDGET_INDEX_JS_GZIP_MAX"
)

var indexJS = regexp.MustCompile(`^index-.*\.js$`)

// Budgets are byte limits for the CSS total and the index JS entry.
type Budgets struct {
	CSSRawMax      int64 `yaml:"css_raw_max" json:"cssRawMax" validate:"gt=0"`
	CSSGzipMax     int64 `yaml:"css_gzip_max" json:"cssGzipMax" validate:"gt=0"`
	IndexJSRawMax  int64 `yaml:"index_js_raw_max" json:"indexJsRawMax" validate:"gt=0"`
	IndexJSGzipMax int64 `yaml:"index_js_gzip_max" json:"indexJsGzipMax" validate:"gt=0"`
}

// DefaultBudgets returns the product's current limits.
func DefaultBudgets() Budgets {
	return Budgets{
		CSSRawMax:      195000,
		CSSGzipMax:     34000,
		IndexJSRawMax:  130000,
		IndexJSGzipMax: 45000,
	}
}

// WithEnv overrides each budget whose environment variable is set.
func (b Budgets) WithEnv(getenv func(string) string) (Budgets, error) {
	fields := []struct {
		env string
		dst *int64
	}{
		{EnvCSSRawMax, &b.CSSRawMax},
		{EnvCSSGzipMax, &b.CSSGzipMax},
		{EnvIndexJSRawMax, &b.IndexJSRawMax},
		{EnvIndexJSGzipMax, &b.IndexJSGzipMax},
	}
	for _, f := range fields {
		v := strings.TrimSpace(getenv(f.env))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return b, fmt.Errorf("invalid %s %q", f.env, v)
		}
		*f.dst = n
	}
	return b, nil
}

// Size is a raw and gzip byte count.
type Size struct {
	Raw  int64 `json:"raw"`
	Gzip int64 `json:"gzip"`
}

// Report is the measurement of one assets directory.
type Report struct {
	CSS        Size     `json:"css"`
	CSSFiles   int      `json:"cssFiles"`
	IndexJS    Size     `json:"indexJs"`
	IndexFile  string   `json:"indexFile"`
	Budgets    Budgets  `json:"budgets"`
	Violations []string `json:"violations"`
}

// OK reports whether every budget holds.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// String renders the measurement with human-readable sizes.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CSS (%d files): %s raw, %s gzip (max %s / %s)\n",
		r.CSSFiles,
		humanize.Bytes(uint64(r.CSS.Raw)), humanize.Bytes(uint64(r.CSS.Gzip)),
		humanize.Bytes(uint64(r.Budgets.CSSRawMax)), humanize.Bytes(uint64(r.Budgets.CSSGzipMax)))
	fmt.Fprintf(&b, "%s: %s raw, %s gzip (max %s / %s)\n",
		r.IndexFile,
		humanize.Bytes(uint64(r.IndexJS.Raw)), humanize.Bytes(uint64(r.IndexJS.Gzip)),
		humanize.Bytes(uint64(r.Budgets.IndexJSRawMax)), humanize.Bytes(uint64(r.Budgets.IndexJSGzipMax)))
	if r.OK() {
		b.WriteString("Bundle budget checks passed.")
		return b.String()
	}
	b.WriteString("Bundle budget violations:")
	for _, v := range r.Violations {
		b.WriteString("\n- " + v)
	}
	return b.String()
}

// Measure sums every *.css file in dir and measures the first index-*.js
// entry, both raw and gzip-compressed at best compression.
func Measure(dir string, budgets Budgets) (Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{}, fmt.Errorf("%s not found: %w", dir, ErrMissingAssets)
		}
		return Report{}, fmt.Errorf("read assets: %w", err)
	}

	r := Report{Budgets: budgets}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".css"):
			s, err := measureFile(filepath.Join(dir, name))
			if err != nil {
				return Report{}, err
			}
			r.CSS.Raw += s.Raw
			r.CSS.Gzip += s.Gzip
			r.CSSFiles++
		case r.IndexFile == "" && indexJS.MatchString(name):
			s, err := measureFile(filepath.Join(dir, name))
			if err != nil {
				return Report{}, err
			}
			r.IndexJS = s
			r.IndexFile = name
		}
	}
	if r.CSSFiles == 0 || r.IndexFile == "" {
		return Report{}, fmt.Errorf("css or index js asset absent in %s: %w", dir, ErrMissingAssets)
	}

	r.Violations = violations(r.CSS, r.IndexJS, budgets)
	return r, nil
}

func violations(css, index Size, b Budgets) []string {
	out := []string{}
	if css.Raw > b.CSSRawMax {
		out = append(out, fmt.Sprintf("CSS raw %d > %d", css.Raw, b.CSSRawMax))
	}
	if css.Gzip > b.CSSGzipMax {
		out = append(out, fmt.Sprintf("CSS gzip %d > %d", css.Gzip, b.CSSGzipMax))
	}
	if index.Raw > b.IndexJSRawMax {
		out = append(out, fmt.Sprintf("index JS raw %d > %d", index.Raw, b.IndexJSRawMax))
	}
	if index.Gzip > b.IndexJSGzipMax {
		out = append(out, fmt.Sprintf("index JS gzip %d > %d", index.Gzip, b.IndexJSGzipMax))
	}
	return out
}

func measureFile(path string) (Size, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Size{}, fmt.Errorf("read %s: %w", path, err)
	}
	n, err := gzipSize(data)
	if err != nil {
		return Size{}, fmt.Errorf("compress %s: %w", path, err)
	}
	return Size{Raw: int64(len(data)), Gzip: n}, nil
}

func gzipSize(data []byte) (int64, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if _, err := zw.Write(data); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}
