package main

import (
	"errors"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cgast/dsverify/pkg/audit"
	"github.com/cgast/dsverify/pkg/session"
)

func newReportCmd(c *cli) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Merge the last session into the audit report and render it",
		Long: `Load the audit report and the last verification session, score and
rank the issues, fill in the summary and write both the JSON report and its
markdown rendering.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := audit.Load(c.path(c.cfg.Audit.Path))
			if err != nil {
				return err
			}

			var last *session.Session
			s, err := session.NewFileStore(c.path(c.cfg.Session.Output)).LoadLast()
			switch {
			case err == nil:
				last = &s
			case errors.Is(err, session.ErrNoSession):
				c.log.Warn("no verification session found; summary counts it as failed")
			default:
				return err
			}

			pm, err := audit.LoadPriorityMap(c.path(c.cfg.Audit.PriorityMap))
			if err != nil {
				return configError(err)
			}

			merged := audit.Merge(report, last, pm, time.Now())
			if err := audit.Save(c.path(c.cfg.Audit.Path), merged); err != nil {
				return err
			}
			md := audit.Markdown(merged, last)
			if err := audit.SaveMarkdown(c.path(c.cfg.Audit.Markdown), md); err != nil {
				return err
			}
			c.log.Info("audit report merged",
				zap.Float64("overall", merged.Summary.OverallScore),
				zap.Int("open_issues", merged.Summary.OpenIssues))

			if show {
				tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
				if err != nil {
					return err
				}
				out, err := tr.Render(md)
				if err != nil {
					return err
				}
				cmd.Print(out)
				return nil
			}
			return printJSON(c.out, map[string]any{
				"ok":           true,
				"jsonPath":     c.cfg.Audit.Path,
				"markdownPath": c.cfg.Audit.Markdown,
				"openIssues":   merged.Summary.OpenIssues,
			})
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Render the markdown report in the terminal")
	return cmd
}
