package main

import (
	gocontext "context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgast/dsverify/internal/config"
	"github.com/cgast/dsverify/internal/sandbox"
	"github.com/cgast/dsverify/pkg/artifact"
	"github.com/cgast/dsverify/pkg/check"
	"github.com/cgast/dsverify/pkg/domcheck"
	"github.com/cgast/dsverify/pkg/execx"
	"github.com/cgast/dsverify/pkg/session"
)

// sandbox builds the artifact read policy for the project root.
func (c *cli) sandbox() (*sandbox.Sandbox, error) {
	sb, err := sandbox.New(sandbox.Config{
		Root:        c.root,
		DeniedPaths: c.cfg.Sandbox.DeniedPaths,
		MaxFileSize: c.cfg.Sandbox.MaxFileSize,
	})
	if err != nil {
		return nil, configError(err)
	}
	return sb, nil
}

// runner compiles the configured registries into a check runner reading
// artifacts through the sandbox.
func (c *cli) runner() (*check.Runner, error) {
	sb, err := c.sandbox()
	if err != nil {
		return nil, err
	}
	regs, err := c.cfg.CompileRegistries()
	if err != nil {
		return nil, configError(err)
	}
	r, err := check.NewRunner(artifact.NewFSLoader(sb), regs,
		check.WithLogger(c.log),
		check.WithEvents(c.bus),
		check.WithConcurrency(c.cfg.Concurrency))
	if err != nil {
		return nil, configError(err)
	}
	return r, nil
}

// renderer picks the DOM source: headless Chrome when enabled, pre-rendered
// HTML files when configured, otherwise none. The returned func releases it.
func (c *cli) renderer(ctx gocontext.Context) (domcheck.Renderer, func(), error) {
	dom := c.cfg.DOM
	switch {
	case dom.Browser:
		cr, err := domcheck.NewChromeRenderer(ctx, dom.BaseURL, dom.Timeout.Std(), dom.Settle.Std())
		if errors.Is(err, domcheck.ErrNoRenderer) {
			c.log.Warn("dom heuristics skipped", zap.Error(err))
			return nil, func() {}, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return cr, cr.Close, nil
	case len(dom.Files) > 0 || dom.DefaultFile != "":
		sb, err := c.sandbox()
		if err != nil {
			return nil, nil, err
		}
		return domcheck.FileRenderer{Sandbox: sb, Files: dom.Files, Default: dom.DefaultFile}, func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

// subChecks turns configured steps into session sub-checks.
func (c *cli) subChecks(ctx gocontext.Context, steps []config.StepConfig) ([]session.SubCheck, func(), error) {
	var (
		runner  *check.Runner
		release = func() {}
		checks  = make([]session.SubCheck, 0, len(steps))
	)
	for _, st := range steps {
		switch st.Kind {
		case config.StepRegistry:
			if runner == nil {
				r, err := c.runner()
				if err != nil {
					return nil, release, err
				}
				runner = r
			}
			checks = append(checks, session.RegistryCheck{StepName: st.Name, Runner: runner, Registry: st.Registry})
		case config.StepCommand:
			cmd := execx.Argv(st.Command, st.Timeout.Std())
			cmd.Dir = c.root
			checks = append(checks, session.CommandCheck{StepName: st.Name, Command: cmd})
		case config.StepBudget:
			budgets, err := c.cfg.Budgets()
			if err != nil {
				return nil, release, configError(err)
			}
			checks = append(checks, session.BudgetCheck{StepName: st.Name, Dir: c.path(c.cfg.AssetsDir()), Budgets: budgets})
		case config.StepDOM:
			r, done, err := c.renderer(ctx)
			if err != nil {
				return nil, release, err
			}
			prev := release
			release = func() { done(); prev() }
			checks = append(checks, session.DOMCheck{
				StepName: st.Name,
				Renderer: r,
				Routes:   c.cfg.DOM.Routes,
				Options:  c.cfg.DOM.Options,
				Strict:   st.Strict,
			})
		default:
			return nil, release, configError(fmt.Errorf("step %s: unknown kind %q", st.Name, st.Kind))
		}
	}
	return checks, release, nil
}

// verifier builds a session verifier over the given steps.
func (c *cli) verifier(ctx gocontext.Context, steps []config.StepConfig, parallel bool) (*session.Verifier, func(), error) {
	checks, release, err := c.subChecks(ctx, steps)
	if err != nil {
		release()
		return nil, nil, err
	}
	opts := []session.Option{session.WithLogger(c.log), session.WithEvents(c.bus)}
	if parallel {
		opts = append(opts, session.WithParallel(c.cfg.Session.Concurrency))
	}
	v, err := session.NewVerifier(checks, opts...)
	if err != nil {
		release()
		return nil, nil, configError(err)
	}
	return v, release, nil
}

// sessionStore is where session summaries go: the fixed output file, plus
// the history database when enabled. The caller closes history.
func (c *cli) sessionStore() (store session.Store, history *session.BoltStore, err error) {
	file := session.NewFileStore(c.path(c.cfg.Session.Output))
	if !c.cfg.History.Enabled {
		return file, nil, nil
	}
	history, err = session.NewBoltStore(c.path(c.cfg.History.Path))
	if err != nil {
		return nil, nil, err
	}
	return session.MultiStore{file, history}, history, nil
}
