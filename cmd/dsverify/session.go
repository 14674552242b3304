package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/session"
)

func newSessionCmd(c *cli) *cobra.Command {
	var (
		parallel bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run every verification step and record the session summary",
		Long: `Run the configured verification steps (tests, rule registries, build,
bundle budget, installability, build freshness). Every step runs regardless
of earlier failures. The summary overwrites the session output file and,
when history is enabled, is appended to the history database. Exits 0 when
every step passed and 1 otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			v, release, err := c.verifier(ctx, c.cfg.Session.Steps, parallel || c.cfg.Session.Parallel)
			if err != nil {
				return err
			}
			defer release()

			store, history, err := c.sessionStore()
			if err != nil {
				return err
			}
			var prev *session.Session
			if history != nil {
				defer history.Close()
				last, err := history.LoadLast()
				switch {
				case err == nil:
					prev = &last
				case !errors.Is(err, session.ErrNoSession):
					c.log.Warn("load previous session", zap.Error(err))
				}
			}

			s := v.Run(ctx)
			if err := v.Persist(store, s); err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(c.out, s); err != nil {
					return err
				}
			} else {
				printSession(c.out, s)
				if prev != nil {
					printRegressions(c.out, session.Regressions(*prev, s))
				}
			}
			if code := s.ExitCode(); code != exitOK {
				return failed(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "Run steps concurrently")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	return cmd
}
