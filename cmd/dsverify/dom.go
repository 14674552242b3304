package main

import (
	"github.com/spf13/cobra"

	"github.com/cgast/dsverify/pkg/domcheck"
)

func newDOMCmd(c *cli) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "dom [route...]",
		Short: "Apply the DOM heuristics to rendered routes",
		Long: `Render each route (the configured routes when none are given) and check
heading structure, the primary call-to-action budget and required content
slots. Heuristic failures only fail the command with --strict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			routes := args
			if len(routes) == 0 {
				routes = c.cfg.DOM.Routes
			}
			r, done, err := c.renderer(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			result := domcheck.Run(cmd.Context(), r, routes, c.cfg.DOM.Options)
			if err := printJSON(c.out, result); err != nil {
				return err
			}
			if !result.OK || (strict && len(result.Failed()) > 0) {
				return failed(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on heuristic violations")
	return cmd
}
