// Package github provides GitHub operations via the gh CLI. All operations
// run on the host since they are pure API calls; authentication comes from
// the gh credential store or GITHUB_TOKEN.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"clarity/pkg/logx"
)

// DefaultTimeout bounds a single gh invocation unless overridden.
const DefaultTimeout = 30 * time.Second

// Host defines the GitHub operations the pipeline needs. The interface
// enables testing with mock implementations.
type Host interface {
	CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error)
	CommentOnIssue(ctx context.Context, issueNumber int, body string) error
	AddReaction(ctx context.Context, issueNumber int, content string) error

	ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error)
	GetPullRequest(ctx context.Context, ref string) (*PullRequest, error)
	CreatePullRequest(ctx context.Context, opts PRCreateOptions) (*CreateResult, error)
	UpdatePullRequest(ctx context.Context, number int, title, body string) error

	GetDefaultBranch(ctx context.Context) (string, error)
	RepoPath() string
}

// ghExec runs one gh command and returns its combined output. Swapped out
// in tests.
type ghExec func(ctx context.Context, args ...string) ([]byte, error)

// Client implements Host using the gh CLI.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Client struct {
	owner   string
	repo    string
	logger  *logx.Logger
	timeout time.Duration
	exec    ghExec
}

// NewClient creates a GitHub client for the specified repository.
func NewClient(owner, repo string) *Client {
	return &Client{
		owner:   owner,
		repo:    repo,
		logger:  logx.NewLogger("github"),
		timeout: DefaultTimeout,
		exec:    execGH,
	}
}

// NewClientFromRemote creates a GitHub client by parsing a git remote URL.
func NewClientFromRemote(remoteURL string) (*Client, error) {
	owner, repo, err := ParseRepoURL(remoteURL)
	if err != nil {
		return nil, err
	}
	return NewClient(owner, repo), nil
}

// WithTimeout returns a new client with the specified timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	return &Client{
		owner:   c.owner,
		repo:    c.repo,
		logger:  c.logger,
		timeout: timeout,
		exec:    c.exec,
	}
}

// Owner returns the repository owner.
func (c *Client) Owner() string {
	return c.owner
}

// Repo returns the repository name.
func (c *Client) Repo() string {
	return c.repo
}

// RepoPath returns the owner/repo path.
func (c *Client) RepoPath() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

func execGH(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	return cmd.CombinedOutput()
}

// run executes a gh command and returns the output.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("Executing: gh %s", strings.Join(args, " "))

	output, err := c.exec(ctx, args...)
	if err != nil {
		c.logger.Debug("Command failed: %v, output: %s", err, string(output))
		return output, fmt.Errorf("gh command failed: %w\nOutput: %s", err, string(output))
	}

	return output, nil
}

// runJSON executes a gh command and unmarshals the JSON response.
func (c *Client) runJSON(ctx context.Context, result interface{}, args ...string) error {
	output, err := c.run(ctx, args...)
	if err != nil {
		return err
	}

	if len(output) == 0 {
		return nil // Empty response is valid for some operations
	}

	if err := json.Unmarshal(output, result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w\nOutput: %s", err, string(output))
	}

	return nil
}

// GetDefaultBranch returns the repository's default branch name.
func (c *Client) GetDefaultBranch(ctx context.Context) (string, error) {
	var repo struct {
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
	}
	err := c.runJSON(ctx, &repo, "repo", "view", c.RepoPath(), "--json", "defaultBranchRef")
	if err != nil {
		return "", fmt.Errorf("failed to get default branch: %w", err)
	}
	if repo.DefaultBranchRef.Name == "" {
		return "", fmt.Errorf("repository %s has no default branch", c.RepoPath())
	}
	return repo.DefaultBranchRef.Name, nil
}

// ParseRepoURL extracts owner and repo from SSH and HTTPS GitHub URLs.
func ParseRepoURL(url string) (owner, repo string, err error) {
	// SSH format: git@github.com:owner/repo.git
	if strings.HasPrefix(url, "git@github.com:") {
		path := strings.TrimPrefix(url, "git@github.com:")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid GitHub SSH URL format: %s", url)
		}
		return parts[0], parts[1], nil
	}

	// HTTPS format: https://github.com/owner/repo.git
	if strings.HasPrefix(url, "https://github.com/") {
		path := strings.TrimPrefix(url, "https://github.com/")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("invalid GitHub HTTPS URL format: %s", url)
		}
		return parts[0], parts[1], nil
	}

	return "", "", fmt.Errorf("unsupported Git URL format: %s", url)
}

// CheckAuth verifies that gh CLI is authenticated.
func CheckAuth(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "gh", "auth", "status")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("gh auth check failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}
