package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	root := t.TempDir()
	mock := NewMockGitRunner()
	m := NewManager(root, mock, time.Minute, time.Minute)

	spec := CloneSpec{
		RequestID:  "req-1",
		RepoURL:    "https://github.com/acme/widgets.git",
		BaseBranch: "main",
	}

	ws, err := m.Acquire(context.Background(), spec)
	require.NoError(t, err)

	assert.True(t, mock.WasCalled(AnyDir,
		"clone", "--depth=1", "--single-branch", "--filter=blob:none",
		"--branch", "main", spec.RepoURL, repoDirName))
	assert.True(t, mock.WasCalled(AnyDir, "config", "user.name", botUserName))

	lockPath := filepath.Join(root, "req-1", lockFileName)
	_, err = os.Stat(lockPath)
	require.NoError(t, err, "lockfile should exist while held")

	ws.Release()
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lockfile should be gone after release")

	// Release is idempotent.
	ws.Release()
}

func TestAcquireRejectsConcurrentHolder(t *testing.T) {
	root := t.TempDir()
	mock := NewMockGitRunner()
	m := NewManager(root, mock, time.Minute, time.Minute)

	spec := CloneSpec{RequestID: "req-1", RepoURL: "https://example.invalid/r.git", BaseBranch: "main"}

	ws, err := m.Acquire(context.Background(), spec)
	require.NoError(t, err)
	defer ws.Release()

	// The lock names our own live pid, so a second acquire must fail.
	_, err = m.Acquire(context.Background(), spec)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	root := t.TempDir()
	mock := NewMockGitRunner()
	m := NewManager(root, mock, time.Minute, time.Minute)

	dir := filepath.Join(root, "req-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// A pid far beyond the default pid_max cannot be a live process.
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), []byte("999999999\n"), 0o644))

	spec := CloneSpec{RequestID: "req-1", RepoURL: "https://example.invalid/r.git", BaseBranch: "main"}
	ws, err := m.Acquire(context.Background(), spec)
	require.NoError(t, err)
	ws.Release()
}

func TestAcquireFallsBackWhenPRBranchGone(t *testing.T) {
	root := t.TempDir()
	mock := NewMockGitRunner()
	mock.SetError(AnyDir,
		fmt.Errorf("fatal: Remote branch clarity-ai/issue-req-1 not found in upstream origin"),
		"clone", "--depth=1", "--single-branch", "--filter=blob:none",
		"--branch", "clarity-ai/issue-req-1", "https://example.invalid/r.git", repoDirName)

	m := NewManager(root, mock, time.Minute, time.Minute)
	spec := CloneSpec{
		RequestID:  "req-1",
		RepoURL:    "https://example.invalid/r.git",
		BaseBranch: "main",
		PRBranch:   "clarity-ai/issue-req-1",
	}

	ws, err := m.Acquire(context.Background(), spec)
	require.NoError(t, err)
	defer ws.Release()

	assert.True(t, mock.WasCalled(AnyDir,
		"clone", "--depth=1", "--single-branch", "--filter=blob:none",
		"--branch", "main", spec.RepoURL, repoDirName))
}

func TestAcquireWipesStaleClone(t *testing.T) {
	root := t.TempDir()
	mock := NewMockGitRunner()
	m := NewManager(root, mock, time.Minute, time.Minute)

	// Leftover from a crashed turn.
	stale := filepath.Join(root, "req-1", repoDirName, "leftover.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("junk"), 0o644))

	spec := CloneSpec{RequestID: "req-1", RepoURL: "https://example.invalid/r.git", BaseBranch: "main"}
	ws, err := m.Acquire(context.Background(), spec)
	require.NoError(t, err)
	defer ws.Release()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
