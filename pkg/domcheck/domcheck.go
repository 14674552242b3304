// Package domcheck applies structural heuristics to rendered HTML: one
// page heading, a bounded number of primary calls to action and the
// required layout slots.
package domcheck

import (
	gocontext "context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoRenderer means no way to obtain rendered HTML is available. Run
// reports such a result as skipped rather than failed.
var ErrNoRenderer = errors.New("no renderer available")

// AutofixCTADemotion is the autofix rule for too many primary CTAs.
const AutofixCTADemotion = "engine-core-nav-cta-demotion"

// Defaults used when Options leave a field empty.
const (
	DefaultPrimaryCTA = ".entry-btn--primary"
	DefaultMaxCTA     = 1
)

// DefaultRequiredSlots are the data-slot containers every screen must emit.
func DefaultRequiredSlots() []string {
	return []string{"hero_message", "primary_feed", "govern_controls"}
}

// Options tune the heuristics.
type Options struct {
	PrimaryCTA    string   `yaml:"primary_cta" json:"primaryCta"`
	MaxCTA        int      `yaml:"max_cta" json:"maxCta"`
	RequiredSlots []string `yaml:"required_slots" json:"requiredSlots"`
}

func (o Options) withDefaults() Options {
	if o.PrimaryCTA == "" {
		o.PrimaryCTA = DefaultPrimaryCTA
	}
	if o.MaxCTA <= 0 {
		o.MaxCTA = DefaultMaxCTA
	}
	if o.RequiredSlots == nil {
		o.RequiredSlots = DefaultRequiredSlots()
	}
	return o
}

// Check is one heuristic evaluated on one route.
type Check struct {
	Route         string `json:"route"`
	Key           string `json:"key"`
	Criteria      string `json:"criteria"`
	OK            bool   `json:"ok"`
	Severity      string `json:"severity"`
	DemoImpact    string `json:"demoImpact"`
	Effort        string `json:"effort"`
	Message       string `json:"message"`
	FixHypothesis string `json:"fixHypothesis"`
	Autofixable   bool   `json:"autofixable"`
	AutofixRule   string `json:"autofixRule,omitempty"`
}

// Result collects the checks of every route.
type Result struct {
	OK      bool    `json:"ok"`
	Skipped bool    `json:"skipped"`
	Reason  string  `json:"reason,omitempty"`
	Checks  []Check `json:"checks"`
}

// Failed returns the checks that did not hold.
func (r Result) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Renderer produces the HTML of a route.
type Renderer interface {
	Render(ctx gocontext.Context, route string) (string, error)
}

// Analyze evaluates the heuristics on one rendered page.
func Analyze(route, html string, opts Options) ([]Check, error) {
	opts = opts.withDefaults()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", route, err)
	}

	var checks []Check

	h1 := doc.Find("h1").Length()
	checks = append(checks, Check{
		Route:         route,
		Key:           "single-h1",
		Criteria:      "first5s",
		OK:            h1 == 1,
		Severity:      "P1",
		DemoImpact:    "high",
		Effort:        "S",
		Message:       fmt.Sprintf("Expected exactly one h1; found %d.", h1),
		FixHypothesis: "Ensure one and only one primary page heading exists.",
	})

	cta := doc.Find(opts.PrimaryCTA).Length()
	ctaCheck := Check{
		Route:         route,
		Key:           "cta-budget",
		Criteria:      "oneCta",
		OK:            cta <= opts.MaxCTA,
		Severity:      "P2",
		DemoImpact:    "high",
		Effort:        "S",
		Message:       fmt.Sprintf("Expected <= %d primary CTA; found %d.", opts.MaxCTA, cta),
		FixHypothesis: "Demote secondary CTA variants to ghost/minor.",
	}
	if !ctaCheck.OK {
		ctaCheck.Severity = "P0"
		ctaCheck.Autofixable = true
		ctaCheck.AutofixRule = AutofixCTADemotion
	}
	checks = append(checks, ctaCheck)

	for _, slot := range opts.RequiredSlots {
		n := doc.Find(fmt.Sprintf(`[data-slot=%q]`, slot)).Length()
		checks = append(checks, Check{
			Route:         route,
			Key:           "slot-" + slot,
			Criteria:      "reliability",
			OK:            n > 0,
			Severity:      "P0",
			DemoImpact:    "high",
			Effort:        "S",
			Message:       fmt.Sprintf("Missing required core slot data-slot=%q.", slot),
			FixHypothesis: "Ensure shell emits required slot containers for all screen contracts.",
		})
	}
	return checks, nil
}

// Run renders every route and analyzes it. A nil renderer yields a
// skipped, passing result. Heuristic failures are reported in the checks
// and leave OK set; only a route that cannot be rendered clears it.
func Run(ctx gocontext.Context, r Renderer, routes []string, opts Options) Result {
	if r == nil {
		return Result{OK: true, Skipped: true, Reason: ErrNoRenderer.Error(), Checks: []Check{}}
	}

	res := Result{OK: true, Checks: []Check{}}
	for _, route := range routes {
		if err := ctx.Err(); err != nil {
			res.OK = false
			res.Reason = err.Error()
			return res
		}
		html, err := r.Render(ctx, route)
		if errors.Is(err, ErrNoRenderer) {
			return Result{OK: true, Skipped: true, Reason: err.Error(), Checks: []Check{}}
		}
		if err != nil {
			res.OK = false
			res.Reason = fmt.Sprintf("render %s: %v", route, err)
			return res
		}
		checks, err := Analyze(route, html, opts)
		if err != nil {
			res.OK = false
			res.Reason = err.Error()
			return res
		}
		res.Checks = append(res.Checks, checks...)
	}
	return res
}
