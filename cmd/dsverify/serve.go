package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cgast/dsverify/internal/inspector"
	"github.com/cgast/dsverify/pkg/rule"
	"github.com/cgast/dsverify/pkg/session"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions, the audit report and live events over HTTP",
		Long: `Serve the last session, session history, the audit report, the
configured registries and a server-sent event stream. With --watch the
registries are re-run on every change and their events are streamed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, err := c.runner()
			if err != nil {
				return err
			}

			opts := inspector.Options{
				Sessions:  session.NewFileStore(c.path(c.cfg.Session.Output)),
				Runner:    runner,
				AuditPath: c.path(c.cfg.Audit.Path),
				Log:       c.log,
			}
			if c.cfg.History.Enabled {
				history, err := session.NewBoltStore(c.path(c.cfg.History.Path))
				if err != nil {
					return err
				}
				defer history.Close()
				opts.History = history
			}
			srv := inspector.New(c.bus, opts)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Serve(ctx, addr) })
			if watch {
				g.Go(func() error {
					return runner.Watch(ctx, c.root, runner.Names(), c.cfg.Watch.Debounce.Std(), func(results []rule.CheckResult, err error) {
						if err != nil {
							c.log.Error("check run failed", zap.Error(err))
						}
					})
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7600", "Listen address")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run registries on change")
	return cmd
}
