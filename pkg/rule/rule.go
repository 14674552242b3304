package rule

import (
	"fmt"

	"github.com/cgast/dsverify/pkg/artifact"
)

// Kind selects how a rule's predicate is built.
type Kind string

const (
	KindPresence  Kind = "presence"  // marker or pattern must appear
	KindAbsence   Kind = "absence"   // marker or pattern must not appear
	KindScoped    Kind = "scoped"    // markers must appear together, in order, within one fragment
	KindThreshold Kind = "threshold" // numeric value bound to marker must be >= Min
)

// Rule is a single check: where to look, what must hold, and what to say when
// it does not. Rules are immutable once their registry is built.
type Rule struct {
	Target  artifact.Target `yaml:",inline" json:"target"`
	Kind    Kind            `yaml:"kind" json:"kind"`
	Marker  string          `yaml:"marker,omitempty" json:"marker,omitempty"`
	Markers []string        `yaml:"markers,omitempty" json:"markers,omitempty"`
	Pattern string          `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Window  int             `yaml:"window,omitempty" json:"window,omitempty"`
	Min     *float64        `yaml:"min,omitempty" json:"min,omitempty"`
	Message string          `yaml:"message,omitempty" json:"message,omitempty"`
}

// Predicate reports whether text satisfies a rule. On failure it may return
// a detail string (extracted values, the offending match) that is appended
// to the rule message.
type Predicate func(text string) (ok bool, detail string)

// compiled pairs a rule with its predicate.
type compiled struct {
	rule      Rule
	predicate Predicate
}

func (c compiled) failure(detail string) string {
	msg := c.rule.Message
	if msg == "" {
		msg = defaultMessage(c.rule)
	}
	if detail != "" {
		msg += " (" + detail + ")"
	}
	return msg
}

func defaultMessage(r Rule) string {
	what := r.Marker
	if r.Pattern != "" {
		what = r.Pattern
	}
	switch r.Kind {
	case KindPresence:
		return fmt.Sprintf("%s: required marker %q not found", r.Target, what)
	case KindAbsence:
		return fmt.Sprintf("%s: forbidden marker %q present", r.Target, what)
	case KindScoped:
		return fmt.Sprintf("%s: markers %q not found in the required arrangement", r.Target, r.Markers)
	case KindThreshold:
		return fmt.Sprintf("%s: value of %q below budget", r.Target, r.Marker)
	default:
		return fmt.Sprintf("%s: rule %s failed", r.Target, r.Kind)
	}
}
