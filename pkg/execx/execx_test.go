package execx

import (
	gocontext "context"
	"strings"
	"testing"
	"time"
)

func TestOSRunnerOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		wantKind   Kind
		wantStatus int
	}{
		{"ok", Shell("echo hello", 0), KindOK, 0},
		{"nonzero", Shell("echo boom >&2; exit 3", 0), KindNonzero, 3},
		{"timeout", Shell("exec sleep 5", 100*time.Millisecond), KindTimeout, StatusTimeout},
		{"start error", Command{Name: "dsverify-no-such-binary"}, KindError, StatusStartError},
		{"empty", Command{}, KindError, StatusStartError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := OSRunner{}.Run(gocontext.Background(), tt.cmd)
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s (err %v)", out.Kind, tt.wantKind, out.Err)
			}
			if out.ExitStatus != tt.wantStatus {
				t.Errorf("ExitStatus = %d, want %d", out.ExitStatus, tt.wantStatus)
			}
			if out.OK() != (tt.wantKind == KindOK) {
				t.Errorf("OK() = %v", out.OK())
			}
		})
	}
}

func TestOSRunnerCapturesOutput(t *testing.T) {
	out := OSRunner{}.Run(gocontext.Background(), Shell("echo out; echo err >&2; exit 1", 0))
	if strings.TrimSpace(out.Stdout) != "out" {
		t.Errorf("Stdout = %q, want %q", out.Stdout, "out\n")
	}
	if strings.TrimSpace(out.Stderr) != "err" {
		t.Errorf("Stderr = %q, want %q", out.Stderr, "err\n")
	}
}

func TestOSRunnerEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	cmd := Shell(`printf '%s %s' "$DSVERIFY_TEST" "$(pwd)"`, 0)
	cmd.Env = []string{"DSVERIFY_TEST=yes"}
	cmd.Dir = dir

	out := OSRunner{}.Run(gocontext.Background(), cmd)
	if !out.OK() {
		t.Fatalf("run failed: %v %s", out.Err, out.Stderr)
	}
	if !strings.HasPrefix(out.Stdout, "yes ") || !strings.HasSuffix(out.Stdout, dir) {
		t.Errorf("Stdout = %q", out.Stdout)
	}
}

func TestOSRunnerCancelled(t *testing.T) {
	ctx, cancel := gocontext.WithCancel(gocontext.Background())
	cancel()
	out := OSRunner{}.Run(ctx, Shell("exit 0", time.Second))
	if out.Kind != KindError {
		t.Errorf("Kind = %s, want %s", out.Kind, KindError)
	}
}

func TestArgv(t *testing.T) {
	c := Argv([]string{"npm", "run", "test"}, time.Minute)
	if c.Name != "npm" || len(c.Args) != 2 || c.Timeout != time.Minute {
		t.Errorf("Argv = %+v", c)
	}
	if c.String() != "npm run test" {
		t.Errorf("String() = %q", c.String())
	}
	if Argv(nil, 0).Name != "" {
		t.Error("empty argv should give empty command")
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"  short  \n", 10, "short"},
		{"abcdef", 3, "def"},
		{"héllo", 4, "éllo"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Tail(tt.in, tt.n); got != tt.want {
			t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}

	long := strings.Repeat("x", DefaultTail+500) + "END"
	got := Tail(long, DefaultTail)
	if len(got) != DefaultTail || !strings.HasSuffix(got, "END") {
		t.Errorf("Tail kept %d chars", len(got))
	}
}
