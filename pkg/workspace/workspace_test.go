package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(runner GitRunner) *Workspace {
	m := NewManager("/tmp/ws-test", runner, time.Minute, time.Minute)
	return &Workspace{
		dir:         "/tmp/ws-test/req-1",
		repoDir:     "/tmp/ws-test/req-1/repo",
		requestID:   "req-1",
		gitRunner:   runner,
		pushTimeout: time.Minute,
		logger:      m.logger,
	}
}

func TestBranchForRequest(t *testing.T) {
	assert.Equal(t, "clarity-ai/issue-req-1", BranchForRequest("req-1"))
	// Hostile identifiers become git-ref safe.
	assert.NotContains(t, BranchForRequest("a b:c"), " ")
	assert.NotContains(t, BranchForRequest("a b:c"), ":")
}

func TestIsDocOnly(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  bool
	}{
		{"empty", nil, false},
		{"markdown only", []string{"README.md", "docs/guide.md"}, true},
		{"docs dir", []string{"docs/arch.png"}, true},
		{"doc dir singular", []string{"doc/notes.txt"}, true},
		{"github metadata", []string{".github/workflows/ci.yml"}, true},
		{"bare doc names", []string{"LICENSE", "CHANGELOG", "CONTRIBUTING.rst"}, true},
		{"mixed", []string{"README.md", "main.go"}, false},
		{"source only", []string{"pkg/server/server.go"}, false},
		{"markdown uppercase ext", []string{"NOTES.MD"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDocOnly(tt.paths))
		})
	}
}

func TestChangedPaths(t *testing.T) {
	mock := NewMockGitRunner()
	mock.SetCommand(AnyDir, []byte(" M pkg/server/server.go\n?? newfile.go\nR  old.go -> new.go\n M \"with space.go\"\n"),
		"status", "--porcelain")

	ws := newTestWorkspace(mock)
	paths, err := ws.ChangedPaths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg/server/server.go", "newfile.go", "new.go", "with space.go"}, paths)
}

func TestEnsureBranchCreatesFresh(t *testing.T) {
	mock := NewMockGitRunner()
	branch := BranchForRequest("req-1")
	mock.SetError(AnyDir, errors.New("unknown revision"), "rev-parse", "--verify", "refs/heads/"+branch)
	// ls-remote default output is empty, so the remote branch is absent.

	ws := newTestWorkspace(mock)
	got, err := ws.EnsureBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, branch, got)
	assert.True(t, mock.WasCalled(AnyDir, "checkout", "-b", branch))
}

func TestEnsureBranchReusesLocal(t *testing.T) {
	mock := NewMockGitRunner()
	branch := BranchForRequest("req-1")

	ws := newTestWorkspace(mock)
	got, err := ws.EnsureBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, branch, got)
	assert.True(t, mock.WasCalled(AnyDir, "checkout", branch))
	assert.False(t, mock.WasCalled(AnyDir, "checkout", "-b", branch))
}

func TestEnsureBranchTracksRemote(t *testing.T) {
	mock := NewMockGitRunner()
	branch := BranchForRequest("req-1")
	mock.SetError(AnyDir, errors.New("unknown revision"), "rev-parse", "--verify", "refs/heads/"+branch)
	mock.SetCommand(AnyDir, []byte("abc123\trefs/heads/"+branch+"\n"), "ls-remote", "--heads", "origin", branch)

	ws := newTestWorkspace(mock)
	got, err := ws.EnsureBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, branch, got)
	assert.True(t, mock.WasCalled(AnyDir, "fetch", "origin", branch))
	assert.True(t, mock.WasCalled(AnyDir, "checkout", "-b", branch, "origin/"+branch))
}

func TestCommitAndPushNoChanges(t *testing.T) {
	mock := NewMockGitRunner()
	// Default empty porcelain output means a clean tree.
	ws := newTestWorkspace(mock)
	err := ws.CommitAndPush(context.Background(), "clarity-ai/issue-req-1", "update")
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.False(t, mock.WasCalled(AnyDir, "commit", "-m", "update"))
}

func TestCommitAndPushCleanRebase(t *testing.T) {
	mock := NewMockGitRunner()
	branch := "clarity-ai/issue-req-1"
	mock.SetCommand(AnyDir, []byte(" M main.go\n"), "status", "--porcelain")

	ws := newTestWorkspace(mock)
	require.NoError(t, ws.CommitAndPush(context.Background(), branch, "update"))
	assert.True(t, mock.WasCalled(AnyDir, "push", "-u", "origin", branch))
	assert.False(t, mock.WasCalled(AnyDir, "push", "-u", "origin", branch, "--force-with-lease"))
}

func TestCommitAndPushFirstPush(t *testing.T) {
	mock := NewMockGitRunner()
	branch := "clarity-ai/issue-req-1"
	mock.SetCommand(AnyDir, []byte(" M main.go\n"), "status", "--porcelain")
	mock.SetError(AnyDir, errors.New("fatal: couldn't find remote ref "+branch), "pull", "--rebase", "origin", branch)

	ws := newTestWorkspace(mock)
	require.NoError(t, ws.CommitAndPush(context.Background(), branch, "update"))
	assert.True(t, mock.WasCalled(AnyDir, "push", "-u", "origin", branch))
	assert.False(t, mock.WasCalled(AnyDir, "rebase", "--abort"))
}

func TestCommitAndPushConflictFallsBackToForceWithLease(t *testing.T) {
	mock := NewMockGitRunner()
	branch := "clarity-ai/issue-req-1"
	mock.SetCommand(AnyDir, []byte(" M main.go\n"), "status", "--porcelain")
	mock.SetError(AnyDir, errors.New("CONFLICT (content): merge conflict in main.go"), "pull", "--rebase", "origin", branch)

	ws := newTestWorkspace(mock)
	require.NoError(t, ws.CommitAndPush(context.Background(), branch, "update"))
	assert.True(t, mock.WasCalled(AnyDir, "rebase", "--abort"))
	assert.True(t, mock.WasCalled(AnyDir, "push", "-u", "origin", branch, "--force-with-lease"))
}
