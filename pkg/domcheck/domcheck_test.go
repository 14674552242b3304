package domcheck

import (
	gocontext "context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cgast/dsverify/internal/sandbox"
)

const goodPage = `<html><body>
<header><a class="entry-btn entry-btn--primary" href="/execute">Run</a></header>
<main>
  <h1>Dashboard</h1>
  <section data-slot="hero_message"></section>
  <section data-slot="primary_feed"></section>
  <aside data-slot="govern_controls"></aside>
</main>
</body></html>`

const badPage = `<html><body>
<h1>One</h1><h1>Two</h1>
<a class="entry-btn--primary">A</a><a class="entry-btn--primary">B</a>
<section data-slot="hero_message"></section>
</body></html>`

func byKey(checks []Check) map[string]Check {
	m := make(map[string]Check, len(checks))
	for _, c := range checks {
		m[c.Key] = c
	}
	return m
}

func TestAnalyzeGoodPage(t *testing.T) {
	checks, err := Analyze("/dashboard", goodPage, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 5 {
		t.Fatalf("checks = %d, want 5", len(checks))
	}
	for _, c := range checks {
		if !c.OK {
			t.Errorf("%s failed: %s", c.Key, c.Message)
		}
		if c.Route != "/dashboard" {
			t.Errorf("%s route = %q", c.Key, c.Route)
		}
	}
	if cta := byKey(checks)["cta-budget"]; cta.Severity != "P2" || cta.Autofixable {
		t.Errorf("passing cta check = %+v", cta)
	}
}

func TestAnalyzeBadPage(t *testing.T) {
	checks, err := Analyze("/", badPage, Options{})
	if err != nil {
		t.Fatal(err)
	}
	m := byKey(checks)

	h1 := m["single-h1"]
	if h1.OK || h1.Message != "Expected exactly one h1; found 2." || h1.Severity != "P1" || h1.Criteria != "first5s" {
		t.Errorf("single-h1 = %+v", h1)
	}

	cta := m["cta-budget"]
	if cta.OK || cta.Severity != "P0" || !cta.Autofixable || cta.AutofixRule != AutofixCTADemotion {
		t.Errorf("cta-budget = %+v", cta)
	}

	if !m["slot-hero_message"].OK {
		t.Error("hero_message slot should be found")
	}
	for _, key := range []string{"slot-primary_feed", "slot-govern_controls"} {
		if c := m[key]; c.OK || c.Criteria != "reliability" || c.Severity != "P0" {
			t.Errorf("%s = %+v", key, c)
		}
	}
}

func TestAnalyzeCustomOptions(t *testing.T) {
	checks, err := Analyze("/", badPage, Options{MaxCTA: 2, RequiredSlots: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(checks))
	}
	if !byKey(checks)["cta-budget"].OK {
		t.Error("two CTAs should fit a budget of two")
	}
}

type stubRenderer map[string]string

func (s stubRenderer) Render(_ gocontext.Context, route string) (string, error) {
	html, ok := s[route]
	if !ok {
		return "", errors.New("connection refused")
	}
	return html, nil
}

type noBrowser struct{}

func (noBrowser) Render(gocontext.Context, string) (string, error) {
	return "", ErrNoRenderer
}

func TestRun(t *testing.T) {
	ctx := gocontext.Background()

	res := Run(ctx, stubRenderer{"/": goodPage, "/govern": badPage}, []string{"/", "/govern"}, Options{})
	if !res.OK || res.Skipped {
		t.Errorf("Run = ok %v skipped %v, want ok", res.OK, res.Skipped)
	}
	if len(res.Checks) != 10 {
		t.Errorf("checks = %d, want 10", len(res.Checks))
	}
	if got := len(res.Failed()); got != 4 {
		t.Errorf("failed = %d, want 4", got)
	}

	res = Run(ctx, nil, []string{"/"}, Options{})
	if !res.OK || !res.Skipped {
		t.Errorf("nil renderer: ok %v skipped %v, want skipped", res.OK, res.Skipped)
	}

	res = Run(ctx, noBrowser{}, []string{"/"}, Options{})
	if !res.Skipped {
		t.Error("ErrNoRenderer should skip")
	}

	res = Run(ctx, stubRenderer{}, []string{"/settings"}, Options{})
	if res.OK || res.Reason == "" {
		t.Errorf("render failure: ok %v reason %q", res.OK, res.Reason)
	}
}

func TestFileRenderer(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dist"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "dist", "index.html"), []byte(goodPage), 0644); err != nil {
		t.Fatal(err)
	}
	sb, err := sandbox.New(sandbox.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}

	r := FileRenderer{Sandbox: sb, Default: "dist/index.html", Files: map[string]string{"/escape": "../outside.html"}}
	html, err := r.Render(gocontext.Background(), "/dashboard")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if html != goodPage {
		t.Error("unexpected html")
	}
	if _, err := r.Render(gocontext.Background(), "/escape"); err == nil {
		t.Error("expected sandbox error")
	}
	if _, err := (FileRenderer{Sandbox: sb}).Render(gocontext.Background(), "/"); err == nil {
		t.Error("expected error without a file")
	}
}
