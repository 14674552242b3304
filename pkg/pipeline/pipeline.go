// Package pipeline runs the scan, autofix, verify and report stages as a
// strictly sequential, fail-fast sequence of external commands.
package pipeline

import (
	gocontext "context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/execx"
)

// State is the orchestrator's position in the pipeline.
type State string

const (
	StateScan    State = "scan"
	StateAutofix State = "autofix"
	StateVerify  State = "verify"
	StateReport  State = "report"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Stage is one external command in the pipeline.
type Stage struct {
	Name    string        `yaml:"name" json:"name" validate:"required"`
	Command []string      `yaml:"command" json:"command" validate:"required,min=1"`
	Timeout time.Duration `yaml:"-" json:"timeout,omitempty"`
}

// DefaultStages mirrors the npm scripts of the product repository.
func DefaultStages() []Stage {
	return []Stage{
		{Name: string(StateScan), Command: []string{"npm", "run", "ux:scan"}},
		{Name: string(StateAutofix), Command: []string{"npm", "run", "ux:autofix"}},
		{Name: string(StateVerify), Command: []string{"npm", "run", "ux:verify"}},
		{Name: string(StateReport), Command: []string{"npm", "run", "ux:report"}},
	}
}

// StageResult records how one stage ended.
type StageResult struct {
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Kind       execx.Kind `json:"kind"`
	ExitStatus int        `json:"exitStatus"`
	StderrTail string     `json:"stderrTail,omitempty"`
	DurationMs int64      `json:"durationMs"`
}

// Result holds the outcome of a pipeline run.
type Result struct {
	Stages     []StageResult `json:"stages"`
	State      State         `json:"state"`
	ExitStatus int           `json:"exitStatus"`
}

// AbortError reports the stage that stopped the pipeline.
type AbortError struct {
	Stage      string
	Index      int
	Kind       execx.Kind
	ExitStatus int
	Err        error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline stopped at stage %d (%s): %s, exit status %d", e.Index, e.Stage, e.Kind, e.ExitStatus)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithEvents sets the publisher for stage events.
func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) {
		p.events = pub
	}
}

// WithDir runs every stage in dir.
func WithDir(dir string) Option {
	return func(p *Pipeline) {
		p.dir = dir
	}
}

// Pipeline runs stages in order through a command runner.
type Pipeline struct {
	stages []Stage
	runner execx.Runner
	dir    string
	log    *zap.Logger
	events events.Publisher
}

// New creates a pipeline. Stage names must be unique and non-empty.
func New(stages []Stage, runner execx.Runner, opts ...Option) (*Pipeline, error) {
	if runner == nil {
		return nil, fmt.Errorf("pipeline: no command runner configured")
	}
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline: stage %d has no name", i)
		}
		if len(s.Command) == 0 {
			return nil, fmt.Errorf("pipeline: stage %s has no command", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("pipeline: duplicate stage %s", s.Name)
		}
		seen[s.Name] = true
	}
	p := &Pipeline{
		stages: stages,
		runner: runner,
		log:    zap.NewNop(),
		events: events.Discard,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Stages returns the configured stages.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Run executes the stages in order. The first stage that does not exit
// zero moves the pipeline to StateFailed, skips every later stage and is
// returned as an *AbortError whose exit status is the pipeline's.
func (p *Pipeline) Run(ctx gocontext.Context) (Result, error) {
	result := Result{
		Stages: make([]StageResult, 0, len(p.stages)),
	}

	for i, stage := range p.stages {
		result.State = State(stage.Name)

		cmd := execx.Argv(stage.Command, stage.Timeout)
		cmd.Dir = p.dir

		start := events.NewEvent(events.EventStageStart, stage.Name, map[string]any{
			"command": cmd.String(),
		})
		start.Index = i
		p.events.Publish(start)
		p.log.Info("stage started", zap.String("stage", stage.Name), zap.String("command", cmd.String()))

		out := p.runner.Run(ctx, cmd)
		sr := StageResult{
			Name:       stage.Name,
			Command:    cmd.String(),
			Kind:       out.Kind,
			ExitStatus: out.ExitStatus,
			DurationMs: out.Duration.Milliseconds(),
		}
		if !out.OK() {
			sr.StderrTail = execx.Tail(out.Stderr, execx.DefaultTail)
		}
		result.Stages = append(result.Stages, sr)

		end := events.NewEvent(events.EventStageEnd, stage.Name, map[string]any{
			"kind":       out.Kind,
			"exitStatus": out.ExitStatus,
		})
		end.Index = i
		end.OK = out.OK()
		end.Duration = out.Duration
		p.events.Publish(end)

		if !out.OK() {
			result.State = StateFailed
			result.ExitStatus = out.ExitStatus
			p.log.Error("stage failed",
				zap.String("stage", stage.Name),
				zap.String("kind", string(out.Kind)),
				zap.Int("exit_status", out.ExitStatus),
				zap.Error(out.Err))
			p.publishEnd(result)
			return result, &AbortError{
				Stage:      stage.Name,
				Index:      i,
				Kind:       out.Kind,
				ExitStatus: out.ExitStatus,
				Err:        out.Err,
			}
		}
		p.log.Info("stage passed", zap.String("stage", stage.Name), zap.Duration("duration", out.Duration))
	}

	result.State = StateDone
	p.publishEnd(result)
	return result, nil
}

func (p *Pipeline) publishEnd(result Result) {
	ev := events.NewEvent(events.EventPipelineEnd, string(result.State), map[string]any{
		"stages":     len(result.Stages),
		"exitStatus": result.ExitStatus,
	})
	ev.OK = result.State == StateDone
	p.events.Publish(ev)
}
