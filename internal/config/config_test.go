package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/budget"
	"github.com/cgast/dsverify/pkg/rule"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BuildDir != "dist" {
		t.Errorf("BuildDir = %q, want %q", cfg.BuildDir, "dist")
	}
	if cfg.Session.Output != "docs/baselines/ux-verify-last-run.json" {
		t.Errorf("Session.Output = %q", cfg.Session.Output)
	}
	if cfg.Budget != budget.DefaultBudgets() {
		t.Errorf("Budget = %+v, want defaults", cfg.Budget)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	regs, err := cfg.CompileRegistries()
	if err != nil {
		t.Fatalf("CompileRegistries: %v", err)
	}
	if len(regs) != 6 {
		t.Errorf("registries = %d, want 6", len(regs))
	}
}

func TestDefaultRegistriesOnFixtures(t *testing.T) {
	cfg := DefaultConfig()
	regs, err := cfg.CompileRegistries()
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]*rule.Registry)
	for _, r := range regs {
		byName[r.Name()] = r
	}

	good := artifact.Static{
		appShell: `<div className="shell"><main id="main-content" tabIndex={-1}>{children}</main></div>`,
		appNav: `<a className="skip-link" href="#main-content">Skip to content</a>
<nav className="entry-nav-links" aria-label="Primary">
<button className={'entry-btn entry-btn--primary'}>Start</button></nav>`,
		tokens: ":root {\n  --muted: rgba(15, 23, 42, 0.72);\n}\n",
	}

	tests := []struct {
		registry string
		files    artifact.Static
		wantPass bool
		wantMsg  []string
	}{
		{"a11y-landmarks", good, true, nil},
		{"a11y-structure", good, true, nil},
		{"cta-hierarchy", good, true, nil},
		{"contrast-budget", good, true, nil},
		{"contrast-budget", artifact.Static{tokens: "--muted: rgba(0,0,0,0.5);"}, false, []string{"0.5", "0.68"}},
		{"contrast-budget", artifact.Static{tokens: "--muted: rgba(0,0,0,0.70);"}, true, nil},
		{"cta-hierarchy", artifact.Static{appNav: good[appNav] + "<button>Review Actions</button>"}, false, []string{"Review Actions"}},
	}
	for _, tt := range tests {
		t.Run(tt.registry, func(t *testing.T) {
			res := rule.Evaluate(byName[tt.registry], tt.files)
			if res.Passed != tt.wantPass {
				t.Fatalf("Passed = %v, want %v (failures %v)", res.Passed, tt.wantPass, res.Failures)
			}
			joined := strings.Join(res.Failures, "\n")
			for _, m := range tt.wantMsg {
				if !strings.Contains(joined, m) {
					t.Errorf("failures %q missing %q", joined, m)
				}
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsverify.yaml")

	yaml := `
log_level: debug
build_dir: build
session:
  output: out/last.json
  parallel: true
  steps:
    - name: lint
      kind: command
      command: [npm, run, lint]
      timeout: 90s
    - name: contrast
      kind: registry
      registry: contrast-budget
budget:
  css_raw_max: 1000
  css_gzip_max: 500
  index_js_raw_max: 2000
  index_js_gzip_max: 900
watch:
  debounce: 1s
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.BuildDir != "build" {
		t.Errorf("BuildDir = %q, want %q", cfg.BuildDir, "build")
	}
	if !cfg.Session.Parallel {
		t.Error("Session.Parallel should be true")
	}
	if len(cfg.Session.Steps) != 2 {
		t.Fatalf("Session.Steps = %d, want 2", len(cfg.Session.Steps))
	}
	if got := cfg.Session.Steps[0].Timeout.Std(); got != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", got)
	}
	if cfg.Budget.CSSRawMax != 1000 {
		t.Errorf("CSSRawMax = %d, want 1000", cfg.Budget.CSSRawMax)
	}
	if cfg.Watch.Debounce.Std() != time.Second {
		t.Errorf("Debounce = %v, want 1s", cfg.Watch.Debounce.Std())
	}
	// Sections absent from the file keep their defaults.
	if len(cfg.Registries) != 6 {
		t.Errorf("Registries = %d, want defaults", len(cfg.Registries))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/dsverify.yaml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BuildDir != "dist" {
		t.Errorf("expected default config, got BuildDir %q", cfg.BuildDir)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsverify.yaml")
	if err := os.WriteFile(path, []byte("watch:\n  debounce: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigEnvInterpolation(t *testing.T) {
	t.Setenv("DSVERIFY_TEST_REPO", "acme/console")

	path := filepath.Join(t.TempDir(), "dsverify.yaml")
	yaml := `
github:
  repo: ${DSVERIFY_TEST_REPO}
  token: ${DSVERIFY_UNSET_TOKEN}
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GitHub.Repo != "acme/console" {
		t.Errorf("Repo = %q, want %q", cfg.GitHub.Repo, "acme/console")
	}
	if cfg.GitHub.Token != "${DSVERIFY_UNSET_TOKEN}" {
		t.Errorf("Token = %q, want unresolved reference", cfg.GitHub.Token)
	}
	if got := ResolveEnv(cfg.GitHub.Token); got != "" {
		t.Errorf("ResolveEnv = %q, want empty", got)
	}
}

func TestInterpolateEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR_12345}", "${NONEXISTENT_VAR_12345}"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		got := interpolateEnvVars(tt.input)
		if got != tt.want {
			t.Errorf("interpolateEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown registry", func(c *Config) {
			c.Session.Steps = append(c.Session.Steps, StepConfig{Name: "x", Kind: StepRegistry, Registry: "nope"})
		}, "unknown registry nope"},
		{"duplicate step", func(c *Config) {
			c.Scan.Steps = append(c.Scan.Steps, c.Scan.Steps[0])
		}, "duplicate scan step"},
		{"duplicate stage", func(c *Config) {
			c.Pipeline.Stages = append(c.Pipeline.Stages, c.Pipeline.Stages[0])
		}, "duplicate pipeline stage"},
		{"duplicate registry", func(c *Config) {
			c.Registries = append(c.Registries, c.Registries[0])
		}, "duplicate registry"},
		{"bad kind", func(c *Config) {
			c.Session.Steps[0].Kind = "shell"
		}, "Kind"},
		{"command step without command", func(c *Config) {
			c.Session.Steps[0].Command = nil
		}, "Command"},
		{"zero budget", func(c *Config) {
			c.Budget.CSSGzipMax = 0
		}, "CSSGzipMax"},
		{"browser without url", func(c *Config) {
			c.DOM.Browser = true
			c.DOM.BaseURL = ""
		}, "base_url"},
		{"bad log level", func(c *Config) {
			c.LogLevel = "trace"
		}, "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBudgetsEnvOverride(t *testing.T) {
	t.Setenv(budget.EnvCSSRawMax, "4242")
	b, err := DefaultConfig().Budgets()
	if err != nil {
		t.Fatal(err)
	}
	if b.CSSRawMax != 4242 {
		t.Errorf("CSSRawMax = %d, want 4242", b.CSSRawMax)
	}
}
