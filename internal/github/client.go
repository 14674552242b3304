// Package github wraps the GitHub API client used to publish audit issues.
package github

import (
	gocontext "context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// Client wraps the GitHub API client with token authentication.
type Client struct {
	inner *gh.Client
}

// NewClient creates a GitHub API client with the given token.
func NewClient(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	httpClient := &http.Client{
		Transport: &tokenTransport{token: token, base: http.DefaultTransport},
	}
	return &Client{inner: gh.NewClient(httpClient)}, nil
}

// WithBaseURL points the client at another API endpoint, such as GitHub
// Enterprise or a test server.
func (c *Client) WithBaseURL(raw string) (*Client, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c.inner.BaseURL = u
	return c, nil
}

// tokenTransport adds Bearer token auth to HTTP requests.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// ParseRepo splits "owner/name".
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// CreatedIssue identifies an issue opened on GitHub.
type CreatedIssue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// CreateIssue opens an issue in repo.
func (c *Client) CreateIssue(ctx gocontext.Context, repo, title, body string, labels []string) (CreatedIssue, error) {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return CreatedIssue{}, err
	}
	req := &gh.IssueRequest{Title: &title}
	if body != "" {
		req.Body = &body
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	issue, _, err := c.inner.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return CreatedIssue{}, fmt.Errorf("create issue: %w", err)
	}
	return CreatedIssue{Number: issue.GetNumber(), HTMLURL: issue.GetHTMLURL()}, nil
}

// IssueTitles returns the titles of open issues in repo carrying label
// (any label when empty).
func (c *Client) IssueTitles(ctx gocontext.Context, repo, label string) ([]string, error) {
	owner, name, err := ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	if label != "" {
		opts.Labels = []string{label}
	}

	var titles []string
	for {
		issues, resp, err := c.inner.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, is := range issues {
			titles = append(titles, is.GetTitle())
		}
		if resp.NextPage == 0 {
			return titles, nil
		}
		opts.Page = resp.NextPage
	}
}
