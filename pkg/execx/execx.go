// Package execx runs external commands with private output buffers and
// classifies how they ended.
package execx

import (
	"bytes"
	gocontext "context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind classifies a command outcome.
type Kind string

const (
	KindOK      Kind = "ok"
	KindNonzero Kind = "nonzero"
	KindTimeout Kind = "timeout"
	KindError   Kind = "error"
)

// Exit statuses reported for outcomes without a real process exit code.
const (
	StatusTimeout    = 124
	StatusCancelled  = 130
	StatusStartError = 127
)

// DefaultTail is how many characters of output are kept in a tail.
const DefaultTail = 2000

// waitDelay bounds how long Run waits for grandchildren holding the output
// pipes after the command itself was killed.
const waitDelay = 2 * time.Second

// Command describes one external invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
}

// Argv builds a Command from an argument vector.
func Argv(argv []string, timeout time.Duration) Command {
	if len(argv) == 0 {
		return Command{Timeout: timeout}
	}
	return Command{Name: argv[0], Args: append([]string(nil), argv[1:]...), Timeout: timeout}
}

// Shell builds a Command running script through sh -c.
func Shell(script string, timeout time.Duration) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Timeout: timeout}
}

// String renders the command line for logs and records.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Outcome is the result of running a Command.
type Outcome struct {
	Kind       Kind
	ExitStatus int
	Stdout     string
	Stderr     string
	Err        error
	Duration   time.Duration
}

// OK reports whether the command exited zero.
func (o Outcome) OK() bool {
	return o.Kind == KindOK
}

// Runner executes commands.
type Runner interface {
	Run(ctx gocontext.Context, cmd Command) Outcome
}

// OSRunner runs commands as child processes.
type OSRunner struct{}

// Run implements Runner. It never returns a Go error; failures are
// described by the Outcome.
func (OSRunner) Run(ctx gocontext.Context, c Command) Outcome {
	start := time.Now()
	if c.Name == "" {
		return Outcome{
			Kind:       KindError,
			ExitStatus: StatusStartError,
			Err:        errors.New("empty command"),
		}
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel gocontext.CancelFunc
		runCtx, cancel = gocontext.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	out.Kind, out.ExitStatus, out.Err = classify(err, ctx, runCtx, c)
	return out
}

func classify(err error, parent, run gocontext.Context, c Command) (Kind, int, error) {
	if err == nil {
		return KindOK, 0, nil
	}
	if c.Timeout > 0 && parent.Err() == nil && errors.Is(run.Err(), gocontext.DeadlineExceeded) {
		return KindTimeout, StatusTimeout, fmt.Errorf("timed out after %s", c.Timeout)
	}
	if parent.Err() != nil {
		return KindError, StatusCancelled, parent.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := exitErr.ExitCode()
		if status < 0 {
			// Terminated by a signal.
			status = 1
		}
		return KindNonzero, status, err
	}
	return KindError, StatusStartError, err
}

// Tail trims s and keeps its last n characters.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
