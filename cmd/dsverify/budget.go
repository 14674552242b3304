package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cgast/dsverify/pkg/budget"
)

func newBudgetCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Check built CSS and entry JS against size budgets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			budgets, err := c.cfg.Budgets()
			if err != nil {
				return configError(err)
			}
			report, err := budget.Measure(c.path(c.cfg.AssetsDir()), budgets)
			if errors.Is(err, budget.ErrMissingAssets) {
				cmd.PrintErrf("%s %v\nRun the build first.\n", verdict(false), err)
				return failed(exitFailed)
			}
			if err != nil {
				return err
			}

			if asJSON {
				if err := printJSON(c.out, report); err != nil {
					return err
				}
			} else {
				cmd.Println(report.String())
				for _, v := range report.Violations {
					cmd.Printf("%s %s\n", verdict(false), v)
				}
				if report.OK() {
					cmd.Printf("%s bundle budget\n", verdict(true))
				}
			}
			if !report.OK() {
				return failed(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
