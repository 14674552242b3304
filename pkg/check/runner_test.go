package check

import (
	gocontext "context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/cgast/dsverify/internal/sandbox"
	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/rule"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingLoader records how often each target is loaded.
type countingLoader struct {
	mu    sync.Mutex
	inner artifact.Loader
	loads map[string]int
}

func (c *countingLoader) Load(t artifact.Target) (string, error) {
	c.mu.Lock()
	c.loads[t.String()]++
	c.mu.Unlock()
	return c.inner.Load(t)
}

func registries() []*rule.Registry {
	app := artifact.Target{Path: "src/App.tsx"}
	return []*rule.Registry{
		rule.MustRegistry(rule.Definition{
			Name: "a11y-landmarks",
			Rules: []rule.Rule{
				{Target: app, Kind: rule.KindPresence, Marker: "<main", Message: "primary landmark missing"},
				{Target: app, Kind: rule.KindPresence, Marker: `href="#main-content"`, Message: "skip link missing"},
				{Target: app, Kind: rule.KindPresence, Marker: "<footer", Message: "contentinfo landmark missing"},
			},
		}),
		rule.MustRegistry(rule.Definition{
			Name: "cta-hierarchy",
			Rules: []rule.Rule{
				{Target: artifact.Target{Path: "src/components/AppNav.tsx"}, Kind: rule.KindAbsence, Marker: "Review Actions", Message: "legacy CTA label in nav"},
			},
		}),
	}
}

func TestRunLoadsEachArtifactOnce(t *testing.T) {
	loader := &countingLoader{
		inner: artifact.Static{"src/App.tsx": `<a href="#main-content">Skip</a><main id="main-content"></main>`},
		loads: map[string]int{},
	}
	r, err := NewRunner(loader, registries())
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Run(gocontext.Background(), "a11y-landmarks")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"contentinfo landmark missing"}, got.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if loader.loads["src/App.tsx"] != 1 {
		t.Errorf("App.tsx loaded %d times, want 1", loader.loads["src/App.tsx"])
	}
}

func TestRunUnknownRegistry(t *testing.T) {
	r, _ := NewRunner(artifact.Static{}, registries())
	_, err := r.Run(gocontext.Background(), "nope")
	if !errors.Is(err, ErrUnknownRegistry) {
		t.Errorf("error = %v, want ErrUnknownRegistry", err)
	}
}

func TestNewRunnerDuplicate(t *testing.T) {
	regs := registries()
	if _, err := NewRunner(artifact.Static{}, append(regs, regs[0])); err == nil {
		t.Error("expected duplicate registry error")
	}
}

func TestRunAllKeepsOrder(t *testing.T) {
	bus := events.NewMemoryBus(0)
	defer bus.Close()
	r, _ := NewRunner(artifact.Static{
		"src/App.tsx":               `<main></main><footer></footer><a href="#main-content">`,
		"src/components/AppNav.tsx": `label: "Review Actions"`,
	}, registries(), WithConcurrency(2), WithEvents(bus))

	names := []string{"cta-hierarchy", "a11y-landmarks"}
	results, err := r.RunAll(gocontext.Background(), names)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(results) != 2 || results[0].Registry != "cta-hierarchy" || results[1].Registry != "a11y-landmarks" {
		t.Fatalf("results out of order: %+v", results)
	}
	if results[0].Passed || !results[1].Passed {
		t.Errorf("verdicts = %v/%v, want fail/pass", results[0].Passed, results[1].Passed)
	}

	failed, failures := Summary(results)
	if failed != 1 || failures != 1 {
		t.Errorf("Summary = %d, %d, want 1, 1", failed, failures)
	}

	ends := 0
	for _, ev := range bus.History(time.Time{}) {
		if ev.Type == events.EventRegistryEnd {
			ends++
		}
	}
	if ends != 2 {
		t.Errorf("registry.end events = %d, want 2", ends)
	}
}

func TestRunAllUnknownName(t *testing.T) {
	r, _ := NewRunner(artifact.Static{}, registries())
	if _, err := r.RunAll(gocontext.Background(), []string{"a11y-landmarks", "missing"}); !errors.Is(err, ErrUnknownRegistry) {
		t.Errorf("error = %v, want ErrUnknownRegistry", err)
	}
}

func TestRunCancelled(t *testing.T) {
	r, _ := NewRunner(artifact.Static{}, registries())
	ctx, cancel := gocontext.WithCancel(gocontext.Background())
	cancel()
	if _, err := r.Run(ctx, "a11y-landmarks"); !errors.Is(err, gocontext.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWatchDirs(t *testing.T) {
	got := watchDirs("/proj", []artifact.Target{
		{Path: "src/App.tsx"},
		{Path: "src/main.tsx"},
		{Glob: "dist/assets/index-*.js"},
		{Glob: "dist/*/chunk.js"},
	})
	want := []string{"/proj/dist", "/proj/dist/assets", "/proj/src"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("watchDirs mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchRerunsOnChange(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	appPath := filepath.Join(src, "App.tsx")
	if err := os.WriteFile(appPath, []byte("<div></div>"), 0644); err != nil {
		t.Fatal(err)
	}
	sb, err := sandbox.New(sandbox.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := NewRunner(artifact.NewFSLoader(sb), registries())

	ctx, cancel := gocontext.WithCancel(gocontext.Background())
	results := make(chan []rule.CheckResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, root, []string{"a11y-landmarks"}, 20*time.Millisecond, func(res []rule.CheckResult, err error) {
			if err == nil {
				results <- res
			}
		})
	}()

	first := waitResult(t, results)
	if first[0].Passed {
		t.Fatal("initial run should fail")
	}

	fixed := `<a href="#main-content">Skip</a><main id="main-content"></main><footer></footer>`
	if err := os.WriteFile(appPath, []byte(fixed), 0644); err != nil {
		t.Fatal(err)
	}
	var second []rule.CheckResult
	for deadline := time.Now().Add(5 * time.Second); time.Now().Before(deadline); {
		second = waitResult(t, results)
		if second[0].Passed {
			break
		}
	}
	if !second[0].Passed {
		t.Errorf("run after fix should pass, failures %v", second[0].Failures)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func waitResult(t *testing.T, ch <-chan []rule.CheckResult) []rule.CheckResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch result")
		return nil
	}
}
