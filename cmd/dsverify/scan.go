package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/audit"
	"github.com/cgast/dsverify/pkg/domcheck"
)

func newScanCmd(c *cli) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the scan gates and DOM heuristics and update the audit report",
		Long: `Run the scan gates, apply the DOM heuristics to the configured routes and
update the audit report: issues already in the report are kept with their
status, and new failures are added as UX-AUTO issues. Scores are recomputed.
In strict mode the command fails when the routes could not be rendered or the
visual capture failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			strict = strict || c.cfg.Scan.Strict

			v, release, err := c.verifier(ctx, c.cfg.Scan.Steps, false)
			if err != nil {
				return err
			}
			defer release()
			s := v.Run(ctx)

			r, done, err := c.renderer(ctx)
			if err != nil {
				return err
			}
			defer done()
			dom := domcheck.Run(ctx, r, c.cfg.DOM.Routes, c.cfg.DOM.Options)

			in := audit.ScanInput{
				Steps:    s.Steps,
				DOM:      &dom,
				Strict:   strict,
				DemoFlow: c.cfg.Scan.DemoFlow,
				Now:      time.Now(),
			}
			if p := c.cfg.Scan.VisualCapture; p != "" {
				if in.Capture, err = audit.LoadVisualCapture(c.path(p)); err != nil {
					return err
				}
			}
			if p := c.cfg.Scan.VisualDiff; p != "" {
				if in.Diff, err = audit.LoadVisualDiff(c.path(p)); err != nil {
					return err
				}
			}

			path := c.path(c.cfg.Audit.Path)
			prev, err := audit.Load(path)
			switch {
			case err == nil:
				in.Previous = &prev
			case !errors.Is(err, os.ErrNotExist):
				return err
			}

			report := audit.FromScan(in)
			if err := audit.Save(path, report); err != nil {
				return err
			}
			c.log.Info("audit report written", zap.String("path", path), zap.Int("issues", len(report.Issues)))

			if err := printJSON(c.out, map[string]any{
				"ok":         true,
				"strict":     strict,
				"outputPath": c.cfg.Audit.Path,
				"issues":     len(report.Issues),
			}); err != nil {
				return err
			}

			if strict && !dom.OK {
				cmd.PrintErrf("STRICT: DOM heuristics failed: %s\n", dom.Reason)
				return failed(exitFailed)
			}
			if in.CaptureFailed() {
				cmd.PrintErrf("STRICT: visual capture failed: %s\n", in.Capture.Reason)
				return failed(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when DOM rendering fails")
	return cmd
}
