// Package workspace manages per-request git working copies: exclusive
// acquisition, shallow clones, branch management, and the commit/push flow.
package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"clarity/pkg/logx"
)

// GitRunner provides an interface for running git commands with dependency
// injection support.
type GitRunner interface {
	// Run executes a git command in the specified directory.
	// Returns stdout+stderr combined output and any error.
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// DefaultGitRunner implements GitRunner using the system git command.
type DefaultGitRunner struct {
	logger *logx.Logger
}

// NewDefaultGitRunner creates a new DefaultGitRunner.
func NewDefaultGitRunner() *DefaultGitRunner {
	return &DefaultGitRunner{
		logger: logx.NewLogger("git"),
	}
}

// Run executes a git command using exec.CommandContext.
func (g *DefaultGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	logDir := dir
	if logDir == "" {
		logDir = "."
	}
	g.logger.Debug("Executing: cd %s && git %s", logDir, strings.Join(args, " "))

	// Combine stdout and stderr to capture all git output
	output, err := cmd.CombinedOutput()
	if err != nil {
		g.logger.Debug("Git command failed: %v, output: %s", err, string(output))
		return output, fmt.Errorf("git %s failed in %s: %w\nOutput: %s",
			strings.Join(args, " "), dir, err, string(output))
	}

	return output, nil
}
