package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarity/pkg/github"
)

// mockHost records calls and returns configured errors.
type mockHost struct {
	github.Host

	comments  []string
	reactions []string
	err       error
}

func (m *mockHost) CommentOnIssue(_ context.Context, _ int, body string) error {
	m.comments = append(m.comments, body)
	return m.err
}

func (m *mockHost) AddReaction(_ context.Context, _ int, content string) error {
	m.reactions = append(m.reactions, content)
	return m.err
}

func TestIssueNotifierPostComment(t *testing.T) {
	host := &mockHost{}
	n := NewIssueNotifier(host)

	require.NoError(t, n.PostComment(context.Background(), 42, "working on it"))
	assert.Equal(t, []string{"working on it"}, host.comments)

	assert.Error(t, n.PostComment(context.Background(), 0, "no thread"))
}

func TestIssueNotifierStatusReactions(t *testing.T) {
	host := &mockHost{}
	n := NewIssueNotifier(host)

	for _, state := range []State{StateQueued, StateWorking, StateNeedsClarification, StateSucceeded, StateFailed} {
		require.NoError(t, n.PostStatusReaction(context.Background(), 42, state))
	}
	assert.Equal(t, []string{"eyes", "rocket", "confused", "hooray", "-1"}, host.reactions)

	assert.Error(t, n.PostStatusReaction(context.Background(), 42, State("bogus")))
}

func TestBestEffortSwallowsFailures(t *testing.T) {
	host := &mockHost{err: errors.New("api down")}
	failures := 0
	n := NewBestEffort(NewIssueNotifier(host), func() { failures++ })

	assert.NoError(t, n.PostComment(context.Background(), 42, "hello"))
	assert.NoError(t, n.PostStatusReaction(context.Background(), 42, StateWorking))
	assert.Equal(t, 2, failures)
}

func TestBestEffortPassesThroughSuccess(t *testing.T) {
	host := &mockHost{}
	failures := 0
	n := NewBestEffort(NewIssueNotifier(host), func() { failures++ })

	assert.NoError(t, n.PostComment(context.Background(), 42, "hello"))
	assert.Equal(t, 0, failures)
	assert.Equal(t, []string{"hello"}, host.comments)
}

func TestNoop(t *testing.T) {
	var n Notifier = Noop{}
	assert.NoError(t, n.PostComment(context.Background(), 0, "dropped"))
	assert.NoError(t, n.PostStatusReaction(context.Background(), 0, StateFailed))
}
