package pipeline

import (
	gocontext "context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cgast/dsverify/pkg/events"
	"github.com/cgast/dsverify/pkg/execx"
)

// fakeRunner returns scripted outcomes keyed by command line and records
// every call.
type fakeRunner struct {
	outcomes map[string]execx.Outcome
	calls    []string
}

func (f *fakeRunner) Run(_ gocontext.Context, cmd execx.Command) execx.Outcome {
	f.calls = append(f.calls, cmd.String())
	if out, ok := f.outcomes[cmd.String()]; ok {
		return out
	}
	return execx.Outcome{Kind: execx.KindOK}
}

func stages() []Stage {
	return []Stage{
		{Name: "scan", Command: []string{"scan"}},
		{Name: "autofix", Command: []string{"autofix"}},
		{Name: "verify", Command: []string{"verify"}},
		{Name: "report", Command: []string{"report"}},
	}
}

func TestPipelineAllStagesPass(t *testing.T) {
	runner := &fakeRunner{}
	bus := events.NewMemoryBus(0)
	p, err := New(stages(), runner, WithEvents(bus))
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.Run(gocontext.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.State != StateDone {
		t.Errorf("State = %s, want %s", result.State, StateDone)
	}
	if result.ExitStatus != 0 {
		t.Errorf("ExitStatus = %d, want 0", result.ExitStatus)
	}
	if diff := cmp.Diff([]string{"scan", "autofix", "verify", "report"}, runner.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	var last events.Event
	for _, ev := range bus.History(time.Time{}) {
		last = ev
	}
	if last.Type != events.EventPipelineEnd || !last.OK {
		t.Errorf("last event = %s ok=%v, want pipeline.end ok", last.Type, last.OK)
	}
}

func TestPipelineStopsOnFailure(t *testing.T) {
	tests := []struct {
		name       string
		outcome    execx.Outcome
		wantStatus int
	}{
		{"nonzero", execx.Outcome{Kind: execx.KindNonzero, ExitStatus: 3, Stderr: "lint failed"}, 3},
		{"timeout", execx.Outcome{Kind: execx.KindTimeout, ExitStatus: execx.StatusTimeout}, 124},
		{"start error", execx.Outcome{Kind: execx.KindError, ExitStatus: execx.StatusStartError, Err: errors.New("not found")}, 127},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outcomes: map[string]execx.Outcome{"autofix": tt.outcome}}
			p, _ := New(stages(), runner)

			result, err := p.Run(gocontext.Background())
			var abort *AbortError
			if !errors.As(err, &abort) {
				t.Fatalf("error = %v, want *AbortError", err)
			}
			if abort.Stage != "autofix" || abort.Index != 1 {
				t.Errorf("abort at %s/%d, want autofix/1", abort.Stage, abort.Index)
			}
			if abort.ExitStatus != tt.wantStatus || result.ExitStatus != tt.wantStatus {
				t.Errorf("exit status = %d/%d, want %d", abort.ExitStatus, result.ExitStatus, tt.wantStatus)
			}
			if abort.Kind != tt.outcome.Kind {
				t.Errorf("Kind = %s, want %s", abort.Kind, tt.outcome.Kind)
			}
			if result.State != StateFailed {
				t.Errorf("State = %s, want %s", result.State, StateFailed)
			}
			if diff := cmp.Diff([]string{"scan", "autofix"}, runner.calls); diff != "" {
				t.Errorf("later stages ran (-want +got):\n%s", diff)
			}
			if len(result.Stages) != 2 {
				t.Errorf("stage results = %d, want 2", len(result.Stages))
			}
		})
	}
}

func TestPipelineTimeoutFromOSRunner(t *testing.T) {
	p, _ := New([]Stage{
		{Name: "scan", Command: []string{"sh", "-c", "exec sleep 5"}, Timeout: 100 * time.Millisecond},
		{Name: "report", Command: []string{"true"}},
	}, execx.OSRunner{})

	result, err := p.Run(gocontext.Background())
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("error = %v, want *AbortError", err)
	}
	if abort.Kind != execx.KindTimeout {
		t.Errorf("Kind = %s, want %s", abort.Kind, execx.KindTimeout)
	}
	if result.ExitStatus != execx.StatusTimeout {
		t.Errorf("ExitStatus = %d, want %d", result.ExitStatus, execx.StatusTimeout)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"unnamed", []Stage{{Command: []string{"x"}}}},
		{"no command", []Stage{{Name: "scan"}}},
		{"duplicate", []Stage{{Name: "scan", Command: []string{"a"}}, {Name: "scan", Command: []string{"b"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.stages, &fakeRunner{}); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := New(stages(), nil); err == nil {
		t.Error("expected error for nil runner")
	}
}

func TestDefaultStages(t *testing.T) {
	var names []string
	for _, s := range DefaultStages() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"scan", "autofix", "verify", "report"}, names); diff != "" {
		t.Errorf("default stages mismatch (-want +got):\n%s", diff)
	}
}
