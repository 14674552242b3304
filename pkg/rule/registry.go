// Package rule defines conformance rules and the registries that group them.
//
// A rule pairs an artifact target with a predicate over the artifact's text.
// Predicates are shallow text matches (substrings and regular expressions);
// nothing here parses markup or code.
package rule

import (
	"errors"
	"fmt"

	"github.com/cgast/dsverify/pkg/artifact"
)

// Definition is the configuration form of a registry.
type Definition struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Concern string `yaml:"concern,omitempty" json:"concern,omitempty"`
	Rules   []Rule `yaml:"rules" json:"rules" validate:"required,min=1"`
}

// Registry is an ordered, compiled group of rules addressing one concern.
type Registry struct {
	name    string
	concern string
	rules   []compiled
}

// NewRegistry compiles every rule in def. Any malformed rule fails the whole
// registry so configuration errors surface before a run starts.
func NewRegistry(def Definition) (*Registry, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("registry: name is required")
	}
	reg := &Registry{
		name:    def.Name,
		concern: def.Concern,
		rules:   make([]compiled, 0, len(def.Rules)),
	}
	for i, r := range def.Rules {
		if err := r.Target.Validate(); err != nil {
			return nil, fmt.Errorf("registry %s: rule %d: %w", def.Name, i, err)
		}
		c := GetCompiler(r.Kind)
		if c == nil {
			return nil, fmt.Errorf("registry %s: rule %d: unknown rule kind %q", def.Name, i, r.Kind)
		}
		pred, err := c(r)
		if err != nil {
			return nil, fmt.Errorf("registry %s: rule %d: %w", def.Name, i, err)
		}
		if len(r.Markers) > 0 {
			r.Markers = append([]string(nil), r.Markers...)
		}
		reg.rules = append(reg.rules, compiled{rule: r, predicate: pred})
	}
	return reg, nil
}

// MustRegistry is NewRegistry for definitions known to be valid.
func MustRegistry(def Definition) *Registry {
	reg, err := NewRegistry(def)
	if err != nil {
		panic(err)
	}
	return reg
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Concern returns the human-readable concern the registry addresses.
func (r *Registry) Concern() string { return r.concern }

// Len returns the number of rules.
func (r *Registry) Len() int { return len(r.rules) }

// Rules returns a copy of the rule definitions in order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, c := range r.rules {
		out[i] = c.rule
	}
	return out
}

// Targets returns the distinct targets referenced by the registry, in first-use order.
func (r *Registry) Targets() []artifact.Target {
	seen := make(map[artifact.Target]bool)
	var out []artifact.Target
	for _, c := range r.rules {
		if !seen[c.rule.Target] {
			seen[c.rule.Target] = true
			out = append(out, c.rule.Target)
		}
	}
	return out
}

// CheckResult is the verdict of one registry evaluation.
type CheckResult struct {
	Registry string   `json:"registry"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
}

// NewCheckResult builds a result whose Passed field follows from failures.
func NewCheckResult(registry string, failures []string) CheckResult {
	if failures == nil {
		failures = []string{}
	}
	return CheckResult{
		Registry: registry,
		Passed:   len(failures) == 0,
		Failures: failures,
	}
}

// Evaluate runs every rule against the artifacts returned by loader. A rule
// whose artifact cannot be loaded fails with a "missing file" message; no
// load error escapes. Failures keep registry order.
func Evaluate(reg *Registry, loader artifact.Loader) CheckResult {
	var failures []string
	for _, c := range reg.rules {
		text, err := loader.Load(c.rule.Target)
		if err != nil {
			failures = append(failures, loadFailure(c.rule.Target, err))
			continue
		}
		if ok, detail := c.predicate(text); !ok {
			failures = append(failures, c.failure(detail))
		}
	}
	return NewCheckResult(reg.name, failures)
}

func loadFailure(t artifact.Target, err error) string {
	if errors.Is(err, artifact.ErrMissing) {
		return fmt.Sprintf("%s: missing file", t)
	}
	return fmt.Sprintf("%s: missing file (%v)", t, err)
}
