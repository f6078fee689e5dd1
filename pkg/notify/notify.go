// Package notify delivers user-facing status updates back to the thread
// that originated a request. Notifications are advisory: the pipeline's
// durable state lives in the store, never in what was or wasn't posted.
package notify

import (
	"context"
	"fmt"

	"clarity/pkg/github"
	"clarity/pkg/logx"
)

// State is a coarse user-visible request state.
type State string

const (
	StateQueued             State = "queued"
	StateWorking            State = "working"
	StateNeedsClarification State = "needs_clarification"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Notifier posts progress updates to the originating thread.
type Notifier interface {
	// PostComment posts a free-form progress comment.
	PostComment(ctx context.Context, issueNumber int, body string) error
	// PostStatusReaction marks the thread with a lightweight state signal.
	PostStatusReaction(ctx context.Context, issueNumber int, state State) error
}

// reactionForState maps coarse states to GitHub reaction names.
//
//nolint:gochecknoglobals // Static mapping table.
var reactionForState = map[State]string{
	StateQueued:             "eyes",
	StateWorking:            "rocket",
	StateNeedsClarification: "confused",
	StateSucceeded:          "hooray",
	StateFailed:             "-1",
}

// IssueNotifier posts updates to a GitHub issue thread.
type IssueNotifier struct {
	host   github.Host
	logger *logx.Logger
}

// NewIssueNotifier creates a notifier bound to one repository host.
func NewIssueNotifier(host github.Host) *IssueNotifier {
	return &IssueNotifier{
		host:   host,
		logger: logx.NewLogger("notify"),
	}
}

// PostComment posts a comment to the issue thread.
func (n *IssueNotifier) PostComment(ctx context.Context, issueNumber int, body string) error {
	if issueNumber <= 0 {
		return fmt.Errorf("no issue to notify")
	}
	return n.host.CommentOnIssue(ctx, issueNumber, body)
}

// PostStatusReaction adds a reaction reflecting the request's state.
func (n *IssueNotifier) PostStatusReaction(ctx context.Context, issueNumber int, state State) error {
	if issueNumber <= 0 {
		return fmt.Errorf("no issue to notify")
	}
	reaction, ok := reactionForState[state]
	if !ok {
		return fmt.Errorf("unknown notification state: %s", state)
	}
	return n.host.AddReaction(ctx, issueNumber, reaction)
}

// BestEffort wraps a Notifier so delivery failures are logged and counted
// but never propagate. Request processing must not fail because a comment
// did not land.
type BestEffort struct {
	inner    Notifier
	logger   *logx.Logger
	onFailed func()
}

// NewBestEffort wraps a notifier. onFailed, if non-nil, is invoked once per
// swallowed delivery failure.
func NewBestEffort(inner Notifier, onFailed func()) *BestEffort {
	return &BestEffort{
		inner:    inner,
		logger:   logx.NewLogger("notify"),
		onFailed: onFailed,
	}
}

// PostComment delivers the comment, swallowing any error.
func (b *BestEffort) PostComment(ctx context.Context, issueNumber int, body string) error {
	if err := b.inner.PostComment(ctx, issueNumber, body); err != nil {
		b.swallow("comment", issueNumber, err)
	}
	return nil
}

// PostStatusReaction delivers the reaction, swallowing any error.
func (b *BestEffort) PostStatusReaction(ctx context.Context, issueNumber int, state State) error {
	if err := b.inner.PostStatusReaction(ctx, issueNumber, state); err != nil {
		b.swallow(fmt.Sprintf("%s reaction", state), issueNumber, err)
	}
	return nil
}

func (b *BestEffort) swallow(what string, issueNumber int, err error) {
	b.logger.Warn("Dropped %s notification for issue #%d: %v", what, issueNumber, err)
	if b.onFailed != nil {
		b.onFailed()
	}
}

// Noop discards all notifications. Used when a request has no reachable
// thread.
type Noop struct{}

// PostComment discards the comment.
func (Noop) PostComment(context.Context, int, string) error { return nil }

// PostStatusReaction discards the reaction.
func (Noop) PostStatusReaction(context.Context, int, State) error { return nil }
