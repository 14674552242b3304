package audit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cgast/dsverify/pkg/session"
)

// Markdown renders the report with its criteria scores, the issues in
// priority order and the steps of the last verification session.
func Markdown(r Report, last *session.Session) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	verdict := "FAIL"
	if last != nil && last.OK {
		verdict = "PASS"
	}
	overall := 0.0
	if r.Summary != nil {
		overall = r.Summary.OverallScore
	}

	line("# UX Audit Latest")
	line("")
	line("- Date: %s", r.BaselineDate)
	line("- Overall Score: **%s/5.0**", strconv.FormatFloat(overall, 'f', -1, 64))
	line("- Verify: **%s**", verdict)
	line("- Open Issues: **%d**", r.OpenIssues())
	line("")
	line("## Criteria Scores")
	line("| Criteria | Score | Note |")
	line("| --- | ---: | --- |")
	for _, s := range r.Scores {
		line("| %s | %.1f | %s |", s.Criteria, s.Score, cell(s.Note))
	}
	line("")
	line("## Top Open Issues (Priority Sorted)")
	line("| ID | Route | Criteria | Severity | PriorityScore | Autofixable | Symptom |")
	line("| --- | --- | --- | --- | ---: | --- | --- |")
	if len(r.Issues) == 0 {
		line("| - | - | - | - | - | - | No open issues |")
	}
	for _, is := range r.Issues {
		score := "-"
		if is.PriorityScore != nil {
			score = strconv.FormatFloat(*is.PriorityScore, 'f', -1, 64)
		}
		autofix := "no"
		if is.Autofixable {
			autofix = "yes"
		}
		line("| %s | %s | %s | %s | %s | %s | %s |", is.ID, is.Route, is.Criteria, is.Severity, score, autofix, cell(is.Symptom))
	}
	line("")
	line("## Verify Checks")
	line("| Command | Status | Exit |")
	line("| --- | --- | ---: |")
	if last != nil {
		for _, st := range last.Steps {
			status := "FAIL"
			if st.OK {
				status = "PASS"
			}
			line("| `%s` | %s | %d |", st.Command, status, st.ExitStatus)
		}
	}
	return b.String()
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
