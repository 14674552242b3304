// Package session runs a fixed, ordered list of sub-checks and aggregates
// their outcomes into one timestamped, persistable record.
package session

import (
	gocontext "context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/execx"
)

// StepResult is the outcome of one sub-check.
type StepResult struct {
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Kind       execx.Kind `json:"kind"`
	OK         bool       `json:"ok"`
	ExitStatus int        `json:"exitStatus"`
	StdoutTail string     `json:"stdoutTail"`
	StderrTail string     `json:"stderrTail"`
	DurationMs int64      `json:"durationMs"`
}

// Session is the aggregated record of one verification run.
type Session struct {
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Total       int          `json:"total"`
	FailedCount int          `json:"failedCount"`
	OK          bool         `json:"ok"`
	Steps       []StepResult `json:"steps"`
}

// New aggregates step results into a session stamped with now.
func New(steps []StepResult, now time.Time) Session {
	if steps == nil {
		steps = []StepResult{}
	}
	failed := 0
	for _, s := range steps {
		if !s.OK {
			failed++
		}
	}
	return Session{
		ID:          uuid.NewString(),
		Timestamp:   now.UTC().Format(time.RFC3339),
		Total:       len(steps),
		FailedCount: failed,
		OK:          failed == 0,
		Steps:       steps,
	}
}

// Failed returns the steps that did not pass.
func (s Session) Failed() []StepResult {
	var out []StepResult
	for _, st := range s.Steps {
		if !st.OK {
			out = append(out, st)
		}
	}
	return out
}

// Step looks up a step by name.
func (s Session) Step(name string) (StepResult, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	return StepResult{}, false
}

// ExitCode maps the verdict to a process exit status.
func (s Session) ExitCode() int {
	if s.OK {
		return 0
	}
	return 1
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		v.log = l
	}
}

// WithEvents sets the publisher for step events.
func WithEvents(p events.Publisher) Option {
	return func(v *Verifier) {
		v.events = p
	}
}

// WithParallel runs sub-checks concurrently, at most limit at a time
// (unbounded when limit <= 0). Results keep configured order.
func WithParallel(limit int) Option {
	return func(v *Verifier) {
		v.parallel = true
		v.limit = limit
	}
}

// WithClock overrides the session timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier runs the configured sub-checks.
type Verifier struct {
	checks   []SubCheck
	parallel bool
	limit    int
	log      *zap.Logger
	events   events.Publisher
	now      func() time.Time
}

// NewVerifier creates a verifier over checks. Step names must be unique.
func NewVerifier(checks []SubCheck, opts ...Option) (*Verifier, error) {
	seen := make(map[string]bool, len(checks))
	for _, c := range checks {
		if seen[c.Name()] {
			return nil, fmt.Errorf("duplicate session step: %s", c.Name())
		}
		seen[c.Name()] = true
	}
	v := &Verifier{
		checks: checks,
		log:    zap.NewNop(),
		events: events.Discard,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Run executes every sub-check to completion, regardless of earlier
// failures, and returns the aggregated session.
func (v *Verifier) Run(ctx gocontext.Context) Session {
	steps := make([]StepResult, len(v.checks))

	if v.parallel {
		var g errgroup.Group
		if v.limit > 0 {
			g.SetLimit(v.limit)
		}
		for i, c := range v.checks {
			g.Go(func() error {
				steps[i] = v.runStep(ctx, i, c)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range v.checks {
			steps[i] = v.runStep(ctx, i, c)
		}
	}

	s := New(steps, v.now())
	ev := events.NewEvent(events.EventSessionEnd, s.ID, map[string]any{
		"total":       s.Total,
		"failedCount": s.FailedCount,
	})
	ev.OK = s.OK
	v.events.Publish(ev)
	v.log.Info("session finished",
		zap.String("id", s.ID),
		zap.Int("total", s.Total),
		zap.Int("failed", s.FailedCount))
	return s
}

func (v *Verifier) runStep(ctx gocontext.Context, i int, c SubCheck) StepResult {
	start := events.NewEvent(events.EventStepStart, c.Name(), nil)
	start.Index = i
	v.events.Publish(start)

	res := c.Run(ctx)
	res.Name = c.Name()
	res.StdoutTail = execx.Tail(res.StdoutTail, execx.DefaultTail)
	res.StderrTail = execx.Tail(res.StderrTail, execx.DefaultTail)

	end := events.NewEvent(events.EventStepEnd, c.Name(), map[string]any{
		"kind":       res.Kind,
		"exitStatus": res.ExitStatus,
	})
	end.Index = i
	end.OK = res.OK
	end.Duration = time.Duration(res.DurationMs) * time.Millisecond
	v.events.Publish(end)

	if res.OK {
		v.log.Debug("step passed", zap.String("step", c.Name()), zap.Int64("duration_ms", res.DurationMs))
	} else {
		v.log.Warn("step failed",
			zap.String("step", c.Name()),
			zap.String("kind", string(res.Kind)),
			zap.Int("exit_status", res.ExitStatus))
	}
	return res
}

// Persist saves s through store and announces it.
func (v *Verifier) Persist(store Store, s Session) error {
	if err := store.Save(s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	v.events.Publish(events.NewEvent(events.EventSessionSaved, s.ID, nil))
	return nil
}
