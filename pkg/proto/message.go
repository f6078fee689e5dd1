// Package proto defines the typed message bodies carried by queue envelopes.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MsgKind identifies how a task message entered the system and how the
// consumer should route it.
type MsgKind string

const (
	// KindIssue is a new issue-tracker task ("fix this bug").
	KindIssue MsgKind = "issue"
	// KindChatRequest is a chat-originated feature request with explicit routing.
	KindChatRequest MsgKind = "chat_request"
	// KindMention is a chat mention/reply whose routing (repository, agent,
	// existing conversation) must be resolved before it becomes one of the
	// other kinds.
	KindMention MsgKind = "mention"
	// KindFollowUp is a subsequent instruction on an already-known request.
	KindFollowUp MsgKind = "followup"
	// KindClarificationAnswer answers a question the agent asked earlier.
	KindClarificationAnswer MsgKind = "clarification_answer"
	// KindRetry re-runs a request that previously failed.
	KindRetry MsgKind = "retry"
	// KindCancel cancels an active request.
	KindCancel MsgKind = "cancel"
)

// Origin identifies the collaborator that produced a task.
type Origin string

const (
	OriginChat      Origin = "chat"
	OriginIssue     Origin = "issue"
	OriginDashboard Origin = "dashboard"
)

// RepoRef identifies the repository a task targets.
type RepoRef struct {
	URL           string `json:"url"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// TaskMessage is the typed payload delivered through the queue abstraction.
// RequestID is empty for mentions until routing resolves them.
//
//nolint:govet // Logical field grouping preferred over alignment.
type TaskMessage struct {
	ID        string    `json:"id"`
	Kind      MsgKind   `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	Origin    Origin    `json:"origin"`
	Repo      RepoRef   `json:"repo"`
	Timestamp time.Time `json:"timestamp"`

	// ThreadID is the originating conversation thread (chat thread or issue
	// number) used for follow-up routing and notifications.
	ThreadID string `json:"thread_id,omitempty"`

	// SourceMarker is the origin-side message identifier, used to deduplicate
	// redelivered follow-ups.
	SourceMarker string `json:"source_marker,omitempty"`

	// Description carries the task text for new work; Body carries follow-up
	// or clarification-answer text.
	Description string `json:"description,omitempty"`
	Body        string `json:"body,omitempty"`
	Author      string `json:"author,omitempty"`

	// AgentType selects the coding-agent variant ("" means the default).
	AgentType string `json:"agent_type,omitempty"`

	// IssueNumber is set for issue-originated tasks.
	IssueNumber int `json:"issue_number,omitempty"`

	// CancelReason/CancelActor are set for KindCancel.
	CancelReason string `json:"cancel_reason,omitempty"`
	CancelActor  string `json:"cancel_actor,omitempty"`
}

// NewTaskMessage creates a message with a fresh ID and UTC timestamp.
func NewTaskMessage(kind MsgKind, origin Origin) *TaskMessage {
	return &TaskMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the fields each kind requires before the message is enqueued.
func (m *TaskMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task message has no id")
	}
	switch m.Kind {
	case KindIssue, KindChatRequest:
		if m.Repo.URL == "" {
			return fmt.Errorf("%s message requires a repository URL", m.Kind)
		}
		if m.Description == "" {
			return fmt.Errorf("%s message requires a description", m.Kind)
		}
	case KindMention:
		if m.ThreadID == "" {
			return fmt.Errorf("mention message requires a thread id")
		}
	case KindFollowUp, KindClarificationAnswer:
		if m.RequestID == "" && m.ThreadID == "" {
			return fmt.Errorf("%s message requires a request or thread id", m.Kind)
		}
		if m.Body == "" {
			return fmt.Errorf("%s message requires a body", m.Kind)
		}
	case KindRetry, KindCancel:
		if m.RequestID == "" {
			return fmt.Errorf("%s message requires a request id", m.Kind)
		}
	default:
		return fmt.Errorf("unknown message kind: %s", m.Kind)
	}
	return nil
}

func (m *TaskMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}
	return data, nil
}

func FromJSON(data []byte) (*TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task message: %w", err)
	}
	return &m, nil
}
