package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clarity/pkg/logx"
	"clarity/pkg/utils"
)

// ErrNoChanges is returned by CommitAndPush when the working tree is clean.
var ErrNoChanges = errors.New("no changes to commit")

// BranchForRequest returns the deterministic branch name for a request, so
// every turn of the same request converges on one branch.
func BranchForRequest(requestID string) string {
	return "clarity-ai/issue-" + utils.SanitizeIdentifier(requestID)
}

// Workspace is one exclusively-held working copy. Not safe for concurrent
// use; the lock guarantees one turn at a time.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Workspace struct {
	dir         string
	repoDir     string
	requestID   string
	gitRunner   GitRunner
	pushTimeout time.Duration
	logger      *logx.Logger
	release     func()
}

// Path returns the root of the working copy.
func (w *Workspace) Path() string {
	return w.repoDir
}

// Release deletes the working copy and frees the per-request lock. Safe to
// call multiple times.
func (w *Workspace) Release() {
	if w.release == nil {
		return
	}
	if err := os.RemoveAll(w.repoDir); err != nil {
		w.logger.Warn("Failed to remove working copy %s: %v", w.repoDir, err)
	}
	w.release()
	w.release = nil
	w.logger.Debug("Released workspace for request %s", w.requestID)
}

// EnsureBranch checks out the request's branch, creating it if needed. An
// existing local or remote branch is reused so repeated turns stack commits
// on the same PR branch.
func (w *Workspace) EnsureBranch(ctx context.Context) (string, error) {
	branch := BranchForRequest(w.requestID)

	// Already present locally (clone of the PR branch, or a retried turn).
	if _, err := w.gitRunner.Run(ctx, w.repoDir, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		if _, err := w.gitRunner.Run(ctx, w.repoDir, "checkout", branch); err != nil {
			return "", err
		}
		return branch, nil
	}

	// Present on the remote: track it.
	out, err := w.gitRunner.Run(ctx, w.repoDir, "ls-remote", "--heads", "origin", branch)
	if err == nil && strings.TrimSpace(string(out)) != "" {
		if _, err := w.gitRunner.Run(ctx, w.repoDir, "fetch", "origin", branch); err != nil {
			return "", err
		}
		if _, err := w.gitRunner.Run(ctx, w.repoDir, "checkout", "-b", branch, "origin/"+branch); err != nil {
			return "", err
		}
		return branch, nil
	}

	// Fresh branch off the cloned base.
	if _, err := w.gitRunner.Run(ctx, w.repoDir, "checkout", "-b", branch); err != nil {
		return "", err
	}
	return branch, nil
}

// ChangedPaths returns the paths touched in the working tree, parsed from
// porcelain status. Renames report the new path.
func (w *Workspace) ChangedPaths(ctx context.Context) ([]string, error) {
	output, err := w.gitRunner.Run(ctx, w.repoDir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+4:]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (w *Workspace) HasChanges(ctx context.Context) (bool, error) {
	paths, err := w.ChangedPaths(ctx)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// docOnlyNames are basenames treated as documentation regardless of
// location.
//
//nolint:gochecknoglobals // Static classification table.
var docOnlyNames = map[string]bool{
	"README":       true,
	"CHANGELOG":    true,
	"LICENSE":      true,
	"CONTRIBUTING": true,
	"AUTHORS":      true,
	"NOTICE":       true,
}

// IsDocOnly reports whether every path is documentation: markdown files,
// docs directories, standard top-level doc files, or .github metadata.
// Doc-only changes skip validation in the turn that produced them.
func IsDocOnly(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, path := range paths {
		if !isDocPath(path) {
			return false
		}
	}
	return true
}

func isDocPath(path string) bool {
	clean := filepath.ToSlash(path)
	if strings.HasPrefix(clean, "docs/") || strings.HasPrefix(clean, "doc/") ||
		strings.HasPrefix(clean, ".github/") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(clean), ".md") {
		return true
	}
	base := filepath.Base(clean)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return docOnlyNames[strings.ToUpper(base)]
}

// CommitAndPush commits the working tree and pushes the branch. It first
// tries to rebase onto the remote branch; if the rebase conflicts, it aborts
// and force-pushes with lease, since the agent's latest output supersedes
// whatever diverged on the branch.
func (w *Workspace) CommitAndPush(ctx context.Context, branch, message string) error {
	if _, err := w.gitRunner.Run(ctx, w.repoDir, "add", "-A"); err != nil {
		return err
	}

	staged, err := w.gitRunner.Run(ctx, w.repoDir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(staged)) == "" {
		return ErrNoChanges
	}

	if _, err := w.gitRunner.Run(ctx, w.repoDir, "commit", "-m", message); err != nil {
		return err
	}

	if _, err := w.gitRunner.Run(ctx, w.repoDir, "pull", "--rebase", "origin", branch); err != nil {
		if isMissingRemoteRef(err) {
			// First push for this branch.
			return w.push(ctx, branch, false)
		}
		w.logger.Warn("Rebase onto origin/%s failed, force-pushing with lease: %v", branch, err)
		if _, abortErr := w.gitRunner.Run(ctx, w.repoDir, "rebase", "--abort"); abortErr != nil {
			w.logger.Debug("Rebase abort failed (may not have started): %v", abortErr)
		}
		return w.push(ctx, branch, true)
	}

	return w.push(ctx, branch, false)
}

func (w *Workspace) push(ctx context.Context, branch string, forceWithLease bool) error {
	ctx, cancel := context.WithTimeout(ctx, w.pushTimeout)
	defer cancel()

	args := []string{"push", "-u", "origin", branch}
	if forceWithLease {
		args = append(args, "--force-with-lease")
	}
	if _, err := w.gitRunner.Run(ctx, w.repoDir, args...); err != nil {
		return fmt.Errorf("failed to push branch %s: %w", branch, err)
	}
	return nil
}

// HeadSHA returns the current commit hash.
func (w *Workspace) HeadSHA(ctx context.Context) (string, error) {
	output, err := w.gitRunner.Run(ctx, w.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
