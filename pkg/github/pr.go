package github

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// prJSONFields is the field list requested from gh for PR queries.
const prJSONFields = "number,url,title,state,headRefName,baseRefName,closed,mergedAt"

// PullRequest represents a GitHub pull request.
// Field names match gh CLI --json output (GraphQL field names).
//
//nolint:govet // Logical grouping preferred over memory optimization.
type PullRequest struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	State       string `json:"state"`       // OPEN, CLOSED, MERGED
	HeadRefName string `json:"headRefName"` // Branch name
	BaseRefName string `json:"baseRefName"` // Target branch name
	Closed      bool   `json:"closed"`
	MergedAt    string `json:"mergedAt"` // Non-empty if merged
}

// IsMerged returns true if the PR has been merged.
func (pr *PullRequest) IsMerged() bool {
	return pr.MergedAt != ""
}

// IsOpen returns true if the PR still accepts pushes.
func (pr *PullRequest) IsOpen() bool {
	return !pr.Closed && !pr.IsMerged()
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch
	Draft bool
}

// CreateResult reports the outcome of CreatePullRequest. A pre-existing PR
// for the head branch is a normal outcome, not an error: the same request
// retried after a crash must converge on one PR.
type CreateResult struct {
	PR      *PullRequest
	Created bool // false when an existing PR was reused
}

// ListPRsForBranch lists pull requests whose head is the given branch.
func (c *Client) ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error) {
	args := []string{
		"pr", "list",
		"--repo", c.RepoPath(),
		"--head", branch,
		"--state", "all",
		"--json", prJSONFields,
	}

	var prs []PullRequest
	if err := c.runJSON(ctx, &prs, args...); err != nil {
		return nil, fmt.Errorf("failed to list PRs for branch %s: %w", branch, err)
	}

	return prs, nil
}

// GetPullRequest retrieves a pull request by number, URL, or branch name.
func (c *Client) GetPullRequest(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{
		"pr", "view", ref,
		"--repo", c.RepoPath(),
		"--json", prJSONFields,
	}

	var pr PullRequest
	if err := c.runJSON(ctx, &pr, args...); err != nil {
		return nil, fmt.Errorf("failed to get PR %s: %w", ref, err)
	}

	return &pr, nil
}

// CreatePullRequest opens a PR for the head branch, or returns the open PR
// that already exists for it. The branch is assumed pushed before this call.
func (c *Client) CreatePullRequest(ctx context.Context, opts PRCreateOptions) (*CreateResult, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if opts.Base == "" {
		return nil, fmt.Errorf("base branch is required")
	}

	args := []string{
		"pr", "create",
		"--repo", c.RepoPath(),
		"--title", opts.Title,
		"--head", opts.Head,
		"--base", opts.Base,
	}

	if opts.Body != "" {
		args = append(args, "--body", opts.Body)
	}

	if opts.Draft {
		args = append(args, "--draft")
	}

	// Use longer timeout for PR creation
	client := c.WithTimeout(2 * time.Minute)
	output, err := client.run(ctx, args...)
	if err != nil {
		// gh reports an existing PR for the head branch as an error. Treat
		// it as the reuse case and resolve the PR by branch lookup.
		if strings.Contains(strings.ToLower(string(output)), "already exists") {
			c.logger.Debug("PR for branch %s already exists, resolving by lookup", opts.Head)
			pr, lookupErr := c.findOpenPRForBranch(ctx, opts.Head)
			if lookupErr != nil {
				return nil, fmt.Errorf("PR for branch %s exists but lookup failed: %w", opts.Head, lookupErr)
			}
			return &CreateResult{PR: pr, Created: false}, nil
		}
		return nil, fmt.Errorf("failed to create PR: %w", err)
	}

	// gh pr create prints the PR URL on success.
	prURL := strings.TrimSpace(string(output))
	if prURL == "" {
		return nil, fmt.Errorf("PR created but no URL returned")
	}

	pr, err := c.GetPullRequest(ctx, prURL)
	if err != nil {
		return nil, err
	}
	return &CreateResult{PR: pr, Created: true}, nil
}

func (c *Client) findOpenPRForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	prs, err := c.ListPRsForBranch(ctx, branch)
	if err != nil {
		return nil, err
	}
	for i := range prs {
		if prs[i].IsOpen() {
			return &prs[i], nil
		}
	}
	return nil, fmt.Errorf("no open PR found for branch %s", branch)
}

// UpdatePullRequest edits the title and/or body of an existing PR. Empty
// arguments leave the corresponding field unchanged.
func (c *Client) UpdatePullRequest(ctx context.Context, number int, title, body string) error {
	if title == "" && body == "" {
		return nil
	}

	args := []string{
		"pr", "edit", fmt.Sprintf("%d", number),
		"--repo", c.RepoPath(),
	}
	if title != "" {
		args = append(args, "--title", title)
	}
	if body != "" {
		args = append(args, "--body", body)
	}

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to update PR #%d: %w", number, err)
	}
	return nil
}
