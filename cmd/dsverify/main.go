// Command dsverify checks a front-end repository against its design-system
// conformance rules, runs verification sessions and the scan/autofix/
// verify/report pipeline, and maintains the UX audit report.
package main

import (
	gocontext "context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/internal/config"
	"github.com/cgast/dsverify/internal/logging"
	"github.com/cgast/dsverify/pkg/events"
)

// Process exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// exitError carries a process exit code. A nil err means the command
// already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func failed(code int) error { return &exitError{code: code} }

func configError(err error) error { return &exitError{code: exitConfig, err: err} }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailed
}

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	root       string
	verbose    bool

	out    io.Writer
	errOut io.Writer

	cfg config.Config
	log *zap.Logger
	bus *events.MemoryBus
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{out: stdout, errOut: stderr, log: zap.NewNop()}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "dsverify",
		Short: "Design-system conformance verification",
		Long: `dsverify checks a front-end project against rule registries (landmarks,
structural linkage, contrast budgets, CTA hierarchy, installability, build
freshness), runs verification sessions, drives the scan/autofix/verify/report
pipeline and maintains the UX audit report.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return c.setup() },
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return configError(err) })

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "Config file (relative to --root)")
	root.PersistentFlags().StringVarP(&c.root, "root", "r", ".", "Project root")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newCheckCmd(c),
		newSessionCmd(c),
		newPipelineCmd(c),
		newScanCmd(c),
		newReportCmd(c),
		newBudgetCmd(c),
		newDOMCmd(c),
		newHistoryCmd(c),
		newAuditCmd(c),
		newServeCmd(c),
		newCheckpointCmd(c),
	)
	return root
}

// setup loads .env and the config file, then builds the logger and event bus.
func (c *cli) setup() error {
	abs, err := filepath.Abs(c.root)
	if err != nil {
		return configError(fmt.Errorf("resolve root: %w", err))
	}
	c.root = abs

	if err := godotenv.Load(filepath.Join(c.root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return configError(fmt.Errorf("load .env: %w", err))
	}

	cfg, err := config.LoadConfig(c.path(c.configPath))
	if err != nil {
		return configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	c.cfg = cfg

	logger, err := logging.New(cfg.LogLevel, c.verbose)
	if err != nil {
		return configError(err)
	}
	c.log = logger

	c.bus = events.NewMemoryBus(events.DefaultHistory)
	ch := c.bus.Subscribe()
	go func() {
		for ev := range ch {
			c.log.Debug("event",
				zap.String("type", string(ev.Type)),
				zap.String("subject", ev.Subject),
				zap.Bool("ok", ev.OK))
		}
	}()
	return nil
}

func (c *cli) teardown() {
	if c.bus != nil {
		c.bus.Close()
	}
	_ = c.log.Sync()
}

// path resolves p against the project root.
func (c *cli) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.root, p)
}

func run(ctx gocontext.Context, args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	cmd := newRootCmd(c)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	c.teardown()

	var ee *exitError
	if err != nil && !(errors.As(err, &ee) && ee.err == nil) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
