package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cgast/dsverify/pkg/session"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sessions and the regressions between them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.cfg.History.Enabled {
				return configError(fmt.Errorf("history is disabled; set history.enabled in %s", c.configPath))
			}
			store, err := session.NewBoltStore(c.path(c.cfg.History.Path))
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.History(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(c.out, sessions)
			}
			for i, s := range sessions {
				cmd.Printf("%s %s  %d/%d  %s\n", verdict(s.OK), s.Timestamp, s.Total-s.FailedCount, s.Total, mutedStyle.Render(s.ID))
				// Newest first: compare with the next older session.
				if i+1 < len(sessions) {
					for _, r := range session.Regressions(sessions[i+1], s) {
						cmd.Printf("    %s\n", warnStyle.Render("regressed: "+r.Step))
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of sessions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	return cmd
}
