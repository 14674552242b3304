package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cgast/dsverify/pkg/execx"
	"github.com/cgast/dsverify/pkg/pipeline"
)

func newPipelineCmd(c *cli) *cobra.Command {
	var (
		asJSON     bool
		checkpoint bool
	)
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the scan, autofix, verify and report stages",
		Long: `Run the configured stages in order. The first stage that fails stops the
pipeline and its exit status becomes the command's exit status. With
checkpoints enabled the configured source files are snapshotted first, and
a failed run can be rolled back with "dsverify checkpoint restore".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var saved string
			if checkpoint || c.cfg.Checkpoint.Enabled {
				name, err := c.saveCheckpoint()
				if err != nil {
					return err
				}
				saved = name
			}

			p, err := pipeline.New(c.cfg.Stages(), execx.OSRunner{},
				pipeline.WithDir(c.root),
				pipeline.WithLogger(c.log),
				pipeline.WithEvents(c.bus))
			if err != nil {
				return configError(err)
			}

			result, runErr := p.Run(cmd.Context())
			if asJSON {
				if err := printJSON(c.out, result); err != nil {
					return err
				}
			} else {
				for _, st := range result.Stages {
					ok := st.Kind == execx.KindOK
					cmd.Printf("%s %-10s %s\n", verdict(ok), st.Name, mutedStyle.Render(st.Command))
					if !ok && st.StderrTail != "" {
						cmd.Println(st.StderrTail)
					}
				}
				cmd.Printf("pipeline %s\n", result.State)
			}

			var abort *pipeline.AbortError
			if errors.As(runErr, &abort) {
				if saved != "" {
					cmd.PrintErrf("roll back with: dsverify checkpoint restore %s\n", saved)
				}
				return failed(result.ExitStatus)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "Snapshot source files before running")
	return cmd
}
