package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Issue represents a GitHub issue tracking one request.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

// IssueCreateOptions contains options for creating a tracking issue.
type IssueCreateOptions struct {
	Title  string
	Body   string
	Labels []string
}

// CreateIssue opens a tracking issue for a request.
func (c *Client) CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error) {
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}

	args := []string{
		"issue", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
	}
	if opts.Body != "" {
		args = append(args, "--body", opts.Body)
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	// gh issue create prints the issue URL on success.
	issueURL := strings.TrimSpace(string(output))
	number, err := issueNumberFromURL(issueURL)
	if err != nil {
		return nil, err
	}

	return &Issue{Number: number, URL: issueURL, Title: opts.Title, State: "OPEN"}, nil
}

// GetIssue retrieves an issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	err := c.runJSON(ctx, &issue,
		"issue", "view", strconv.Itoa(number),
		"--repo", c.RepoPath(),
		"--json", "number,url,title,state")
	if err != nil {
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	return &issue, nil
}

// CommentOnIssue posts a comment to an issue or PR thread.
func (c *Client) CommentOnIssue(ctx context.Context, issueNumber int, body string) error {
	if body == "" {
		return fmt.Errorf("comment body is required")
	}

	_, err := c.run(ctx,
		"issue", "comment", strconv.Itoa(issueNumber),
		"--repo", c.RepoPath(),
		"--body", body)
	if err != nil {
		return fmt.Errorf("failed to comment on issue #%d: %w", issueNumber, err)
	}
	return nil
}

// AddReaction adds an emoji reaction to an issue. Content is one of the
// GitHub reaction names: +1, -1, laugh, confused, heart, hooray, rocket,
// eyes.
func (c *Client) AddReaction(ctx context.Context, issueNumber int, content string) error {
	endpoint := fmt.Sprintf("repos/%s/issues/%d/reactions", c.RepoPath(), issueNumber)
	_, err := c.run(ctx, "api", "-X", "POST", endpoint, "-f", "content="+content)
	if err != nil {
		return fmt.Errorf("failed to add %s reaction to issue #%d: %w", content, issueNumber, err)
	}
	return nil
}

func issueNumberFromURL(url string) (int, error) {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0, fmt.Errorf("unexpected issue URL: %q", url)
	}
	number, err := strconv.Atoi(url[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected issue URL: %q", url)
	}
	return number, nil
}
