package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cgast/dsverify/pkg/budget"
	"github.com/cgast/dsverify/pkg/domcheck"
	"github.com/cgast/dsverify/pkg/pipeline"
	"github.com/cgast/dsverify/pkg/rule"
)

// DefaultPath is the configuration file looked up in the project root.
const DefaultPath = "dsverify.yaml"

// Step kinds of session and scan steps.
const (
	StepRegistry = "registry"
	StepCommand  = "command"
	StepBudget   = "budget"
	StepDOM      = "dom"
)

// Config represents the runtime configuration from dsverify.yaml.
type Config struct {
	LogLevel    string            `yaml:"log_level" validate:"oneof=debug info warn error"`
	BuildDir    string            `yaml:"build_dir" validate:"required"`
	Concurrency int               `yaml:"concurrency" validate:"gte=0"`
	Registries  []rule.Definition `yaml:"registries" validate:"dive"`
	Session     SessionConfig     `yaml:"session"`
	Scan        ScanConfig        `yaml:"scan"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Budget      budget.Budgets    `yaml:"budget"`
	DOM         DOMConfig         `yaml:"dom"`
	Audit       AuditConfig       `yaml:"audit"`
	GitHub      GitHubConfig      `yaml:"github"`
	History     HistoryConfig     `yaml:"history"`
	Watch       WatchConfig       `yaml:"watch"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
}

// StepConfig is one sub-check of a session or scan.
type StepConfig struct {
	Name     string   `yaml:"name" validate:"required"`
	Kind     string   `yaml:"kind" validate:"oneof=registry command budget dom"`
	Registry string   `yaml:"registry,omitempty" validate:"required_if=Kind registry"`
	Command  []string `yaml:"command,omitempty" validate:"required_if=Kind command"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Strict   bool     `yaml:"strict,omitempty"`
}

// SessionConfig defines the verification session.
type SessionConfig struct {
	Output      string       `yaml:"output" validate:"required"`
	Parallel    bool         `yaml:"parallel"`
	Concurrency int          `yaml:"concurrency" validate:"gte=0"`
	Steps       []StepConfig `yaml:"steps" validate:"dive"`
}

// ScanConfig defines the audit scan.
type ScanConfig struct {
	Strict   bool         `yaml:"strict"`
	DemoFlow []string     `yaml:"demo_flow"`
	Steps    []StepConfig `yaml:"steps" validate:"dive"`
	// Results of external screenshot tooling; empty disables them.
	VisualCapture string `yaml:"visual_capture"`
	VisualDiff    string `yaml:"visual_diff"`
}

// StageConfig is one pipeline stage.
type StageConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Command []string `yaml:"command" validate:"required,min=1"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// PipelineConfig defines the scan/autofix/verify/report pipeline.
type PipelineConfig struct {
	Stages []StageConfig `yaml:"stages" validate:"dive"`
}

// DOMConfig defines where rendered HTML comes from and how it is judged.
type DOMConfig struct {
	Browser     bool              `yaml:"browser"`
	BaseURL     string            `yaml:"base_url" validate:"omitempty,url"`
	Routes      []string          `yaml:"routes"`
	Files       map[string]string `yaml:"files"`
	DefaultFile string            `yaml:"default_file"`
	Timeout     Duration          `yaml:"timeout"`
	Settle      Duration          `yaml:"settle"`
	Options     domcheck.Options  `yaml:",inline"`
}

// AuditConfig defines the audit report locations.
type AuditConfig struct {
	Path        string `yaml:"path" validate:"required"`
	Markdown    string `yaml:"markdown" validate:"required"`
	PriorityMap string `yaml:"priority_map"`
}

// GitHubConfig holds issue publishing settings.
type GitHubConfig struct {
	Repo    string `yaml:"repo"`
	Token   string `yaml:"token"`
	Label   string `yaml:"label"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// HistoryConfig defines the session history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// WatchConfig defines watch mode settings.
type WatchConfig struct {
	Debounce Duration `yaml:"debounce"`
}

// CheckpointConfig defines which source files the pipeline snapshots
// before running, so autofix changes can be rolled back.
type CheckpointConfig struct {
	Enabled bool     `yaml:"enabled"`
	Dir     string   `yaml:"dir" validate:"required_if=Enabled true"`
	Paths   []string `yaml:"paths"`
}

// SandboxConfig defines filesystem restrictions for artifact reads.
type SandboxConfig struct {
	DeniedPaths []string `yaml:"denied_paths"`
	MaxFileSize string   `yaml:"max_file_size"`
}

// Duration is a time.Duration written as a string ("90s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	if v < 0 {
		return fmt.Errorf("line %d: negative duration %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a Config carrying the product's current checks.
func DefaultConfig() Config {
	return Config{
		LogLevel:   "info",
		BuildDir:   "dist",
		Registries: DefaultRegistries(),
		Session: SessionConfig{
			Output: "docs/baselines/ux-verify-last-run.json",
			Steps: []StepConfig{
				{Name: "unit-tests", Kind: StepCommand, Command: []string{"npm", "run", "test", "--", "--run"}, Timeout: Duration(10 * time.Minute)},
				{Name: "a11y-landmarks", Kind: StepRegistry, Registry: "a11y-landmarks"},
				{Name: "a11y-structure", Kind: StepRegistry, Registry: "a11y-structure"},
				{Name: "contrast-budget", Kind: StepRegistry, Registry: "contrast-budget"},
				{Name: "cta-hierarchy", Kind: StepRegistry, Registry: "cta-hierarchy"},
				{Name: "build", Kind: StepCommand, Command: []string{"npm", "run", "build"}, Timeout: Duration(10 * time.Minute)},
				{Name: "bundle-budget", Kind: StepBudget},
				{Name: "installability", Kind: StepRegistry, Registry: "installability"},
				{Name: "build-freshness", Kind: StepRegistry, Registry: "build-freshness"},
			},
		},
		Scan: ScanConfig{
			Steps: []StepConfig{
				{Name: "check:design-system", Kind: StepCommand, Command: []string{"npm", "run", "check:design-system"}, Timeout: Duration(5 * time.Minute)},
				{Name: "check:motion-policy", Kind: StepCommand, Command: []string{"npm", "run", "check:motion-policy"}, Timeout: Duration(5 * time.Minute)},
				{Name: "check:a11y-structure", Kind: StepRegistry, Registry: "a11y-structure"},
				{Name: "check:cta-hierarchy", Kind: StepRegistry, Registry: "cta-hierarchy"},
				{Name: "check:contrast-budget", Kind: StepRegistry, Registry: "contrast-budget"},
				{Name: "check:bundle-budget", Kind: StepBudget},
				{Name: "verify:pwa", Kind: StepRegistry, Registry: "installability"},
			},
		},
		Pipeline: defaultPipeline(),
		Budget: budget.DefaultBudgets(),
		DOM: DOMConfig{
			BaseURL: "http://localhost:4173",
			Routes:  []string{"/", "/dashboard", "/protect", "/execute", "/govern", "/settings"},
			Timeout: Duration(30 * time.Second),
			Settle:  Duration(500 * time.Millisecond),
		},
		Audit: AuditConfig{
			Path:        "docs/baselines/ux-audit-latest.json",
			Markdown:    "docs/baselines/ux-audit-latest.md",
			PriorityMap: "spec/ux-priority-map.json",
		},
		GitHub: GitHubConfig{
			Token: "${GITHUB_TOKEN}",
			Label: "ux-audit",
		},
		History: HistoryConfig{
			Path: ".dsverify/history.db",
		},
		Watch: WatchConfig{
			Debounce: Duration(300 * time.Millisecond),
		},
		Checkpoint: CheckpointConfig{
			Dir:   ".dsverify/checkpoints",
			Paths: []string{"src/styles/*.css", "src/components/*.tsx", "src/pages/*.tsx"},
		},
		Sandbox: SandboxConfig{
			DeniedPaths: []string{"node_modules", ".git"},
			MaxFileSize: "10MB",
		},
	}
}

func defaultPipeline() PipelineConfig {
	var pc PipelineConfig
	for _, st := range pipeline.DefaultStages() {
		pc.Stages = append(pc.Stages, StageConfig{Name: st.Name, Command: st.Command, Timeout: Duration(st.Timeout)})
	}
	return pc
}

// LoadConfig reads and parses a config YAML file, interpolating
// ${VAR} references first. Returns the default config if the file
// doesn't exist. Sections present in the file replace the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	interpolated := interpolateEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross references: step names are
// unique, registry steps name a configured registry, stage names are unique.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.DOM.Browser && c.DOM.BaseURL == "" {
		return errors.New("invalid config: dom.base_url is required when dom.browser is set")
	}

	registries := make(map[string]bool, len(c.Registries))
	for _, def := range c.Registries {
		if registries[def.Name] {
			return fmt.Errorf("invalid config: duplicate registry %s", def.Name)
		}
		registries[def.Name] = true
	}

	for section, steps := range map[string][]StepConfig{"session": c.Session.Steps, "scan": c.Scan.Steps} {
		names := make(map[string]bool, len(steps))
		for _, s := range steps {
			if names[s.Name] {
				return fmt.Errorf("invalid config: duplicate %s step %s", section, s.Name)
			}
			names[s.Name] = true
			if s.Kind == StepRegistry && !registries[s.Registry] {
				return fmt.Errorf("invalid config: %s step %s references unknown registry %s", section, s.Name, s.Registry)
			}
		}
	}

	stages := make(map[string]bool, len(c.Pipeline.Stages))
	for _, s := range c.Pipeline.Stages {
		if stages[s.Name] {
			return fmt.Errorf("invalid config: duplicate pipeline stage %s", s.Name)
		}
		stages[s.Name] = true
	}
	return nil
}

// CompileRegistries compiles the configured registry definitions.
func (c Config) CompileRegistries() ([]*rule.Registry, error) {
	regs := make([]*rule.Registry, 0, len(c.Registries))
	for _, def := range c.Registries {
		reg, err := rule.NewRegistry(def)
		if err != nil {
			return nil, fmt.Errorf("registry %s: %w", def.Name, err)
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Stages converts the configured pipeline stages.
func (c Config) Stages() []pipeline.Stage {
	stages := make([]pipeline.Stage, 0, len(c.Pipeline.Stages))
	for _, st := range c.Pipeline.Stages {
		stages = append(stages, pipeline.Stage{Name: st.Name, Command: st.Command, Timeout: st.Timeout.Std()})
	}
	return stages
}

// AssetsDir is the directory holding built CSS and JS chunks.
func (c Config) AssetsDir() string {
	return filepath.Join(c.BuildDir, "assets")
}

// Budgets returns the configured budgets with environment overrides applied.
func (c Config) Budgets() (budget.Budgets, error) {
	return c.Budget.WithEnv(os.Getenv)
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}

// ResolveEnv expands ${VAR} references left in a value after loading.
// Unset variables expand to the empty string.
func ResolveEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}
