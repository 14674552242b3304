package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/internal/config"
	"github.com/cgast/dsverify/internal/github"
	"github.com/cgast/dsverify/pkg/audit"
)

func newAuditCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the UX audit report",
	}
	cmd.AddCommand(
		newAuditValidateCmd(c),
		newAuditSchemaCmd(c),
		newAuditTransitionCmd(c),
		newAuditAttachCmd(c),
		newAuditPublishCmd(c),
	)
	return cmd
}

func (c *cli) auditPath(args []string) string {
	if len(args) > 0 {
		return c.path(args[0])
	}
	return c.path(c.cfg.Audit.Path)
}

func newAuditValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate an audit report against its schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.auditPath(args)
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := audit.ValidateJSON(data); err != nil {
				cmd.PrintErrln(err)
				return failed(exitFailed)
			}
			cmd.Printf("%s %s\n", verdict(true), path)
			return nil
		},
	}
}

func newAuditSchemaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the audit report JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(c.out, audit.Schema())
			return err
		},
	}
}

// updateReport loads the configured report, applies fn and saves it.
func (c *cli) updateReport(fn func(*audit.Report) error) error {
	path := c.path(c.cfg.Audit.Path)
	r, err := audit.Load(path)
	if err != nil {
		return err
	}
	if err := fn(&r); err != nil {
		return err
	}
	return audit.Save(path, r)
}

func newAuditTransitionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "transition <issue-id> <status>",
		Short: "Move an issue to open, in_progress, blocked or done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, to := args[0], audit.Status(args[1])
			if err := c.updateReport(func(r *audit.Report) error { return r.Transition(id, to) }); err != nil {
				return err
			}
			cmd.Printf("%s -> %s\n", id, to)
			return nil
		},
	}
}

func newAuditAttachCmd(c *cli) *cobra.Command {
	var before, after, patch string
	cmd := &cobra.Command{
		Use:   "attach <issue-id>",
		Short: "Attach screenshots or a patch preview to an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if before == "" && after == "" && patch == "" {
				return configError(fmt.Errorf("nothing to attach: use --before, --after or --patch"))
			}
			id := args[0]
			return c.updateReport(func(r *audit.Report) error {
				if err := r.AttachShots(id, before, after); err != nil {
					return err
				}
				if patch != "" {
					return r.AttachPatch(id, patch)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Before screenshot path")
	cmd.Flags().StringVar(&after, "after", "", "After screenshot path")
	cmd.Flags().StringVar(&patch, "patch", "", "Patch preview path")
	return cmd
}

func newAuditPublishCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Open GitHub issues for open P0 and P1 audit issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := audit.Load(c.path(c.cfg.Audit.Path))
			if err != nil {
				return err
			}
			gh := c.cfg.GitHub
			if gh.Repo == "" {
				return configError(fmt.Errorf("github.repo is not set"))
			}
			if _, _, err := github.ParseRepo(gh.Repo); err != nil {
				return configError(err)
			}

			if dryRun {
				for _, is := range r.Issues {
					if is.Status == audit.StatusOpen && (is.Severity == audit.SeverityP0 || is.Severity == audit.SeverityP1) {
						cmd.Println(audit.IssueTitle(is))
					}
				}
				return nil
			}

			client, err := github.NewClient(config.ResolveEnv(gh.Token))
			if err != nil {
				return configError(err)
			}
			if gh.BaseURL != "" {
				if client, err = client.WithBaseURL(gh.BaseURL); err != nil {
					return configError(err)
				}
			}
			pub := audit.Publisher{Tracker: client, Repo: gh.Repo, Label: gh.Label, Log: c.log}
			published, err := pub.Publish(cmd.Context(), r)
			for _, p := range published {
				cmd.Printf("%s #%d %s\n", p.IssueID, p.Number, p.URL)
			}
			if err != nil {
				return err
			}
			c.log.Info("audit issues published", zap.Int("count", len(published)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the titles that would be published")
	return cmd
}
