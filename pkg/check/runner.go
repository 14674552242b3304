// Package check runs rule registries against a project's artifacts.
package check

import (
	gocontext "context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/rule"
)

// ErrUnknownRegistry is returned when a registry name is not configured.
var ErrUnknownRegistry = errors.New("unknown registry")

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// WithEvents sets the publisher for registry progress events.
func WithEvents(p events.Publisher) Option {
	return func(r *Runner) {
		r.events = p
	}
}

// WithConcurrency bounds how many registries RunAll evaluates at once.
// Zero or negative means one per registry.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// Runner evaluates named registries. It holds no mutable state between
// runs, so one Runner may serve concurrent callers.
type Runner struct {
	registries  map[string]*rule.Registry
	order       []string
	loader      artifact.Loader
	log         *zap.Logger
	events      events.Publisher
	concurrency int
}

// NewRunner creates a runner over the given registries. Names must be unique.
func NewRunner(loader artifact.Loader, regs []*rule.Registry, opts ...Option) (*Runner, error) {
	r := &Runner{
		registries: make(map[string]*rule.Registry, len(regs)),
		loader:     loader,
		log:        zap.NewNop(),
		events:     events.Discard,
	}
	for _, reg := range regs {
		if _, dup := r.registries[reg.Name()]; dup {
			return nil, fmt.Errorf("registry already registered: %s", reg.Name())
		}
		r.registries[reg.Name()] = reg
		r.order = append(r.order, reg.Name())
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Names returns the registry names in configuration order.
func (r *Runner) Names() []string {
	return append([]string(nil), r.order...)
}

// Registry looks up a registry by name.
func (r *Runner) Registry(name string) (*rule.Registry, error) {
	reg, ok := r.registries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegistry, name)
	}
	return reg, nil
}

// Run evaluates every rule of one registry. Artifacts are loaded at most
// once per call. The only error is an unknown registry name; rule and
// artifact problems are reported in the result.
func (r *Runner) Run(ctx gocontext.Context, name string) (rule.CheckResult, error) {
	reg, err := r.Registry(name)
	if err != nil {
		return rule.CheckResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return rule.CheckResult{}, err
	}

	r.events.Publish(events.NewEvent(events.EventRegistryStart, name, map[string]any{
		"rules": reg.Len(),
	}))
	start := time.Now()

	result := rule.Evaluate(reg, newCachingLoader(r.loader))
	duration := time.Since(start)

	ev := events.NewEvent(events.EventRegistryEnd, name, result.Failures)
	ev.OK = result.Passed
	ev.Duration = duration
	r.events.Publish(ev)

	r.log.Debug("registry evaluated",
		zap.String("registry", name),
		zap.Int("rules", reg.Len()),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("duration", duration))
	return result, nil
}

// RunAll evaluates several registries concurrently and returns results in
// the order of names. Unknown names fail the call before anything runs.
func (r *Runner) RunAll(ctx gocontext.Context, names []string) ([]rule.CheckResult, error) {
	for _, name := range names {
		if _, err := r.Registry(name); err != nil {
			return nil, err
		}
	}

	results := make([]rule.CheckResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, name := range names {
		g.Go(func() error {
			res, err := r.Run(gctx, name)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summary counts failed registries and total failures.
func Summary(results []rule.CheckResult) (failedRegistries, failures int) {
	for _, res := range results {
		if !res.Passed {
			failedRegistries++
		}
		failures += len(res.Failures)
	}
	return failedRegistries, failures
}

// cachingLoader memoizes loads, including failed ones, for one run.
type cachingLoader struct {
	inner artifact.Loader
	mu    sync.Mutex
	cache map[artifact.Target]loaded
}

type loaded struct {
	text string
	err  error
}

func newCachingLoader(inner artifact.Loader) *cachingLoader {
	return &cachingLoader{inner: inner, cache: make(map[artifact.Target]loaded)}
}

func (c *cachingLoader) Load(t artifact.Target) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.cache[t]; ok {
		return l.text, l.err
	}
	text, err := c.inner.Load(t)
	c.cache[t] = loaded{text: text, err: err}
	return text, err
}

// sortedTargets returns the distinct targets of the named registries.
func (r *Runner) sortedTargets(names []string) []artifact.Target {
	seen := make(map[artifact.Target]bool)
	var out []artifact.Target
	for _, name := range names {
		reg, ok := r.registries[name]
		if !ok {
			continue
		}
		for _, t := range reg.Targets() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
