package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clarity/pkg/logx"
	"clarity/pkg/utils"
)

// ErrLocked is returned when another live process holds the workspace.
var ErrLocked = errors.New("workspace is locked by another process")

const (
	lockFileName = ".clarity.lock"
	repoDirName  = "repo"

	botUserName  = "clarity-ai"
	botUserEmail = "clarity-ai@users.noreply.github.com"
)

// CloneSpec describes the working copy a turn needs.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type CloneSpec struct {
	RequestID  string
	RepoURL    string
	BaseBranch string

	// PRBranch, when set, is cloned instead of BaseBranch so a follow-up
	// turn starts from the already-pushed PR state.
	PRBranch string
}

// Manager hands out exclusively-held working copies under a shared root.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Manager struct {
	root         string
	gitRunner    GitRunner
	cloneTimeout time.Duration
	pushTimeout  time.Duration
	logger       *logx.Logger
}

// NewManager creates a workspace manager rooted at the given directory.
func NewManager(root string, gitRunner GitRunner, cloneTimeout, pushTimeout time.Duration) *Manager {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return &Manager{
		root:         absRoot,
		gitRunner:    gitRunner,
		cloneTimeout: cloneTimeout,
		pushTimeout:  pushTimeout,
		logger:       logx.NewLogger("workspace"),
	}
}

// Acquire prepares a fresh working copy for one turn: takes the per-request
// lock, wipes any leftover clone from a crashed turn, and clones anew. The
// caller must call Release when the turn ends.
func (m *Manager) Acquire(ctx context.Context, spec CloneSpec) (*Workspace, error) {
	dir := filepath.Join(m.root, utils.SanitizeIdentifier(spec.RequestID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
	}

	if err := m.acquireLock(dir); err != nil {
		return nil, err
	}

	// Stale clones are cheaper to recreate than to repair.
	repoDir := filepath.Join(dir, repoDirName)
	if err := os.RemoveAll(repoDir); err != nil {
		m.releaseLock(dir)
		return nil, fmt.Errorf("failed to wipe stale clone %s: %w", repoDir, err)
	}

	if err := m.clone(ctx, spec, dir, repoDir); err != nil {
		m.releaseLock(dir)
		return nil, err
	}

	m.logger.Debug("Acquired workspace %s for request %s", repoDir, spec.RequestID)
	return &Workspace{
		dir:         dir,
		repoDir:     repoDir,
		requestID:   spec.RequestID,
		gitRunner:   m.gitRunner,
		pushTimeout: m.pushTimeout,
		logger:      m.logger,
		release:     func() { m.releaseLock(dir) },
	}, nil
}

func (m *Manager) clone(ctx context.Context, spec CloneSpec, dir, repoDir string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cloneTimeout)
	defer cancel()

	branch := spec.BaseBranch
	onPRBranch := false
	if spec.PRBranch != "" {
		branch = spec.PRBranch
		onPRBranch = true
	}

	args := []string{
		"clone",
		"--depth=1",
		"--single-branch",
		"--filter=blob:none",
		"--branch", branch,
		spec.RepoURL,
		repoDirName,
	}
	if _, err := m.gitRunner.Run(ctx, dir, args...); err != nil {
		// A deleted PR branch falls back to a fresh start from base.
		if onPRBranch && isMissingRemoteRef(err) {
			m.logger.Warn("PR branch %s is gone, cloning %s instead for request %s",
				spec.PRBranch, spec.BaseBranch, spec.RequestID)
			spec.PRBranch = ""
			return m.clone(ctx, spec, dir, repoDir)
		}
		return fmt.Errorf("failed to clone %s: %w", spec.RepoURL, err)
	}

	// Commits need a deterministic bot identity.
	if _, err := m.gitRunner.Run(ctx, repoDir, "config", "user.name", botUserName); err != nil {
		return err
	}
	if _, err := m.gitRunner.Run(ctx, repoDir, "config", "user.email", botUserEmail); err != nil {
		return err
	}
	return nil
}

// acquireLock takes the per-request pid lockfile. A lockfile belonging to a
// dead process is reclaimed; one belonging to a live process means a
// concurrent turn is running and the acquire fails with ErrLocked.
func (m *Manager) acquireLock(dir string) error {
	lockPath := filepath.Join(dir, lockFileName)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockPath)
				return fmt.Errorf("failed to write lockfile %s: %w", lockPath, errors.Join(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lockfile %s: %w", lockPath, err)
		}

		pid, readErr := readLockPID(lockPath)
		if readErr == nil && processAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}

		// Stale or unreadable lock: reclaim and retry the exclusive create.
		m.logger.Warn("Reclaiming stale lockfile %s", lockPath)
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lockfile %s: %w", lockPath, err)
		}
	}
}

func (m *Manager) releaseLock(dir string) {
	lockPath := filepath.Join(dir, lockFileName)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove lockfile %s: %v", lockPath, err)
	}
}

func readLockPID(lockPath string) (int, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive checks whether the pid refers to a live process using the
// null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func isMissingRemoteRef(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "remote branch") && strings.Contains(msg, "not found") ||
		strings.Contains(msg, "couldn't find remote ref")
}
