package config

import (
	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/rule"
)

const (
	appShell = "src/components/AppShell.tsx"
	appNav   = "src/components/AppNav.tsx"
	tokens   = "src/styles/tokens.css"
)

func minimum(v float64) *float64 { return &v }

// DefaultRegistries returns the product's rule registries.
func DefaultRegistries() []rule.Definition {
	shell := artifact.Target{Path: appShell}
	nav := artifact.Target{Path: appNav}
	bundle := artifact.Target{Glob: "dist/assets/index-*.js"}

	return []rule.Definition{
		{
			Name:    "a11y-landmarks",
			Concern: "accessibility landmarks",
			Rules: []rule.Rule{
				{Target: shell, Kind: rule.KindPresence, Marker: `<main id="main-content"`, Message: "AppShell must render a <main> landmark with id main-content"},
				{Target: nav, Kind: rule.KindPresence, Marker: `href="#main-content"`, Message: "AppNav must provide a skip link to #main-content"},
				{Target: nav, Kind: rule.KindPresence, Pattern: `<nav[^>]*aria-label="[^"]+"`, Message: "primary navigation must carry an aria-label"},
			},
		},
		{
			Name:    "a11y-structure",
			Concern: "accessibility structural linkage",
			Rules: []rule.Rule{
				{Target: nav, Kind: rule.KindScoped, Markers: []string{`className="skip-link"`, `href="#main-content"`}, Message: "skip link must target #main-content"},
				{Target: nav, Kind: rule.KindScoped, Markers: []string{`<nav`, `aria-label="Primary"`}, Message: `primary nav must be labelled "Primary"`},
			},
		},
		{
			Name:    "contrast-budget",
			Concern: "color contrast token budget",
			Rules: []rule.Rule{
				{Target: artifact.Target{Path: tokens}, Kind: rule.KindThreshold, Marker: "--muted", Min: minimum(0.68), Message: "muted text alpha below contrast budget"},
			},
		},
		{
			Name:    "cta-hierarchy",
			Concern: "call-to-action hierarchy",
			Rules: []rule.Rule{
				{Target: nav, Kind: rule.KindPresence, Marker: "entry-btn--primary", Message: "navigation must expose exactly one primary CTA style"},
				{Target: nav, Kind: rule.KindAbsence, Marker: "Review Actions", Message: "legacy secondary CTA \"Review Actions\" must not be rendered in navigation"},
			},
		},
		{
			Name:    "installability",
			Concern: "manifest and service worker wiring",
			Rules: []rule.Rule{
				{Target: artifact.Target{Path: "index.html"}, Kind: rule.KindPresence, Marker: `rel="manifest"`, Message: "index.html must link the web manifest"},
				{Target: artifact.Target{Path: "src/hooks/usePWA.ts"}, Kind: rule.KindPresence, Marker: "register('/sw.js'", Message: "the service worker must be registered at /sw.js"},
				{Target: artifact.Target{Path: "public/sw.js"}, Kind: rule.KindPresence, Marker: "self.addEventListener('fetch'", Message: "the service worker must handle fetch"},
			},
		},
		{
			Name:    "build-freshness",
			Concern: "build artifact freshness",
			Rules: []rule.Rule{
				{Target: bundle, Kind: rule.KindPresence, Marker: "main-content", Message: "build output is missing the main-content landmark; rebuild"},
				{Target: bundle, Kind: rule.KindAbsence, Marker: "Review Actions", Message: "build output still contains the legacy \"Review Actions\" CTA; rebuild"},
			},
		},
	}
}
