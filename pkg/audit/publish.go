package audit

import (
	gocontext "context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cgast/dsverify/internal/github"
)

// IssueTracker is the part of the GitHub client publishing needs.
type IssueTracker interface {
	CreateIssue(ctx gocontext.Context, repo, title, body string, labels []string) (github.CreatedIssue, error)
	IssueTitles(ctx gocontext.Context, repo, label string) ([]string, error)
}

// Published links an audit issue to the tracker issue opened for it.
type Published struct {
	IssueID string `json:"issueId"`
	Number  int    `json:"number"`
	URL     string `json:"url"`
}

// Publisher opens tracker issues for open P0 and P1 audit issues.
type Publisher struct {
	Tracker IssueTracker
	Repo    string
	Label   string
	Log     *zap.Logger
}

// Publish opens one tracker issue per open P0/P1 issue whose title is not
// already present among the open tracker issues carrying Label.
func (p Publisher) Publish(ctx gocontext.Context, r Report) ([]Published, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	existing, err := p.Tracker.IssueTitles(ctx, p.Repo, p.Label)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t] = true
	}

	var labels []string
	if p.Label != "" {
		labels = []string{p.Label}
	}

	var out []Published
	for _, is := range r.Issues {
		if is.Status != StatusOpen || (is.Severity != SeverityP0 && is.Severity != SeverityP1) {
			continue
		}
		title := IssueTitle(is)
		if known[title] {
			log.Debug("issue already published", zap.String("issue", is.ID))
			continue
		}
		created, err := p.Tracker.CreateIssue(ctx, p.Repo, title, IssueBody(is), labels)
		if err != nil {
			return out, fmt.Errorf("publish %s: %w", is.ID, err)
		}
		log.Info("issue published", zap.String("issue", is.ID), zap.Int("number", created.Number))
		out = append(out, Published{IssueID: is.ID, Number: created.Number, URL: created.HTMLURL})
	}
	return out, nil
}

// IssueTitle is the tracker title for an audit issue.
func IssueTitle(is Issue) string {
	return fmt.Sprintf("[%s] %s %s: %s", is.ID, is.Severity, is.Route, is.Symptom)
}

// IssueBody is the tracker body for an audit issue.
func IssueBody(is Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Criteria:** %s  \n", is.Criteria)
	fmt.Fprintf(&b, "**Layer:** %s  \n", is.Layer)
	fmt.Fprintf(&b, "**Severity:** %s, demo impact %s, effort %s  \n", is.Severity, is.DemoImpact, is.Effort)
	if is.Owner != "" {
		fmt.Fprintf(&b, "**Owner:** %s  \n", is.Owner)
	}
	fmt.Fprintf(&b, "\n### Symptom\n%s\n", is.Symptom)
	if is.FixHypothesis != "" {
		fmt.Fprintf(&b, "\n### Fix hypothesis\n%s\n", is.FixHypothesis)
	}
	if is.Autofixable && is.AutofixRule != "" {
		fmt.Fprintf(&b, "\nAutofix rule: `%s`\n", is.AutofixRule)
	}
	return b.String()
}
