package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cgast/dsverify/pkg/rule"
	"github.com/cgast/dsverify/pkg/session"
)

var (
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func verdict(ok bool) string {
	if ok {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

func printResults(w io.Writer, results []rule.CheckResult) {
	for _, res := range results {
		fmt.Fprintf(w, "%s %s\n", verdict(res.Passed), res.Registry)
		for _, f := range res.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
}

func printSession(w io.Writer, s session.Session) {
	fmt.Fprintln(w, titleStyle.Render("Verification session "+s.Timestamp))
	for _, st := range s.Steps {
		fmt.Fprintf(w, "%s %-24s %s\n", verdict(st.OK), st.Name, mutedStyle.Render(fmt.Sprintf("%s exit=%d %dms", st.Kind, st.ExitStatus, st.DurationMs)))
		if !st.OK && st.StderrTail != "" {
			for _, line := range strings.Split(strings.TrimSpace(st.StderrTail), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(w, "%s %d/%d checks passed\n", verdict(s.OK), s.Total-s.FailedCount, s.Total)
}

func printRegressions(w io.Writer, regs []session.Regression) {
	for _, r := range regs {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("regression: %s passed in the previous session", r.Step)))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
