package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/check"
	"github.com/cgast/dsverify/pkg/rule"
)

func newCheckCmd(c *cli) *cobra.Command {
	var (
		watch   bool
		asJSON  bool
		listing bool
	)
	cmd := &cobra.Command{
		Use:   "check [registry...]",
		Short: "Evaluate rule registries against the project",
		Long: `Evaluate the named rule registries (all configured registries when none
are named). Every rule of every registry is evaluated; the command exits 1
when any registry reports a failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := c.runner()
			if err != nil {
				return err
			}
			if listing {
				for _, name := range runner.Names() {
					reg, _ := runner.Registry(name)
					cmd.Printf("%-20s %2d rules  %s\n", name, reg.Len(), mutedStyle.Render(reg.Concern()))
				}
				return nil
			}

			names := args
			if len(names) == 0 {
				names = runner.Names()
			}
			if watch {
				return runner.Watch(cmd.Context(), c.root, names, c.cfg.Watch.Debounce.Std(), func(results []rule.CheckResult, err error) {
					if err != nil {
						c.log.Error("check run failed", zap.Error(err))
						return
					}
					printResults(c.out, results)
				})
			}

			results, err := runner.RunAll(cmd.Context(), names)
			if err != nil {
				return configError(err)
			}
			if asJSON {
				if err := printJSON(c.out, results); err != nil {
					return err
				}
			} else {
				printResults(c.out, results)
			}
			if failedRegs, _ := check.Summary(results); failedRegs > 0 {
				return failed(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run when watched files change")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVarP(&listing, "list", "l", false, "List configured registries")
	return cmd
}
