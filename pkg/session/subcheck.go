package session

import (
	gocontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cgast/dsverify/pkg/budget"
	"github.com/cgast/dsverify/pkg/check"
	"github.com/cgast/dsverify/pkg/domcheck"
	"github.com/cgast/dsverify/pkg/execx"
)

// SubCheck is one step of a session. Whatever it checks, it reports the
// same StepResult shape.
type SubCheck interface {
	Name() string
	Run(ctx gocontext.Context) StepResult
}

// RegistryCheck runs a rule registry in process.
type RegistryCheck struct {
	StepName string
	Runner   *check.Runner
	Registry string
}

func (c RegistryCheck) Name() string { return c.StepName }

func (c RegistryCheck) Run(ctx gocontext.Context) StepResult {
	start := time.Now()
	res := StepResult{Command: "dsverify check " + c.Registry}

	result, err := c.Runner.Run(ctx, c.Registry)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Kind = execx.KindError
		res.ExitStatus = 2
		res.StderrTail = err.Error()
		return res
	}

	if result.Passed {
		res.Kind = execx.KindOK
		res.OK = true
		res.StdoutTail = fmt.Sprintf("%s: PASS", c.Registry)
		return res
	}
	res.Kind = execx.KindNonzero
	res.ExitStatus = 1
	res.StderrTail = fmt.Sprintf("%s: FAIL\n- %s", c.Registry, strings.Join(result.Failures, "\n- "))
	return res
}

// CommandCheck runs an external command.
type CommandCheck struct {
	StepName string
	Command  execx.Command
	Runner   execx.Runner
}

func (c CommandCheck) Name() string { return c.StepName }

func (c CommandCheck) Run(ctx gocontext.Context) StepResult {
	runner := c.Runner
	if runner == nil {
		runner = execx.OSRunner{}
	}
	out := runner.Run(ctx, c.Command)
	res := StepResult{
		Command:    c.Command.String(),
		Kind:       out.Kind,
		OK:         out.OK(),
		ExitStatus: out.ExitStatus,
		StdoutTail: out.Stdout,
		StderrTail: out.Stderr,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil && out.Kind != execx.KindNonzero {
		res.StderrTail = strings.TrimSpace(res.StderrTail + "\n" + out.Err.Error())
	}
	return res
}

// BudgetCheck measures the bundle budget in process.
type BudgetCheck struct {
	StepName string
	Dir      string
	Budgets  budget.Budgets
}

func (c BudgetCheck) Name() string { return c.StepName }

func (c BudgetCheck) Run(_ gocontext.Context) StepResult {
	start := time.Now()
	res := StepResult{Command: "dsverify budget"}

	report, err := budget.Measure(c.Dir, c.Budgets)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Kind = execx.KindNonzero
		res.ExitStatus = 1
		res.StderrTail = err.Error()
		if errors.Is(err, budget.ErrMissingAssets) {
			res.StderrTail += "\nRun the build first."
		}
		return res
	}

	res.StdoutTail = report.String()
	if report.OK() {
		res.Kind = execx.KindOK
		res.OK = true
		return res
	}
	res.Kind = execx.KindNonzero
	res.ExitStatus = 1
	res.StderrTail = strings.Join(report.Violations, "\n")
	return res
}

// DOMCheck applies the DOM heuristics to rendered routes. Heuristic
// violations fail the step only when Strict is set; a skipped run passes.
type DOMCheck struct {
	StepName string
	Renderer domcheck.Renderer
	Routes   []string
	Options  domcheck.Options
	Strict   bool
}

func (c DOMCheck) Name() string { return c.StepName }

func (c DOMCheck) Run(ctx gocontext.Context) StepResult {
	start := time.Now()
	res := StepResult{Command: "dsverify dom"}

	result := domcheck.Run(ctx, c.Renderer, c.Routes, c.Options)
	res.DurationMs = time.Since(start).Milliseconds()
	data, _ := json.MarshalIndent(result, "", "  ")
	res.StdoutTail = string(data)

	failed := result.Failed()
	res.OK = result.OK && (!c.Strict || len(failed) == 0)
	switch {
	case res.OK:
		res.Kind = execx.KindOK
	case !result.OK:
		res.Kind = execx.KindError
		res.ExitStatus = 1
		res.StderrTail = result.Reason
	default:
		res.Kind = execx.KindNonzero
		res.ExitStatus = 1
		msgs := make([]string, 0, len(failed))
		for _, f := range failed {
			msgs = append(msgs, f.Route+": "+f.Message)
		}
		res.StderrTail = strings.Join(msgs, "\n")
	}
	return res
}
