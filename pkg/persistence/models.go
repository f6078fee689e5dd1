// Package persistence provides SQLite-based storage for requests, their
// append-only message threads, and agent sessions.
package persistence

import (
	"errors"
	"time"
)

// Sentinel errors returned by store lookups.
var (
	ErrRequestNotFound = errors.New("request not found")
	ErrSessionNotFound = errors.New("session not found")
)

// Status is the fine-grained request lifecycle state. Transitions are driven
// exclusively by the pipeline coordinator.
type Status string

const (
	StatusPending               Status = "pending"
	StatusIssueCreated          Status = "issue_created"
	StatusProcessing            Status = "processing"
	StatusAwaitingClarification Status = "awaiting_clarification"
	StatusPRCreated             Status = "pr_created"
	StatusCompleted             Status = "completed"
	StatusError                 Status = "error"
	StatusCancelled             Status = "cancelled"
)

// IsTerminal reports whether no further turns can run for this status.
// pr_created and completed are terminal-success but still accept follow-ups,
// which re-enter processing; error and cancelled never do.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPRCreated, StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveStatuses are the statuses a follow-up may route back into. Cancelled
// and errored requests never accept follow-ups; a fresh request is created
// instead.
//
//nolint:gochecknoglobals // Static routing table.
var ActiveStatuses = []Status{
	StatusPending,
	StatusIssueCreated,
	StatusProcessing,
	StatusAwaitingClarification,
	StatusPRCreated,
	StatusCompleted,
}

// TaskStatus is the coarse compute-lifecycle state, tracked separately from
// Status so dashboards can distinguish "queued" from "running" without
// decoding the full state machine.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Request is one task tracked from trigger to terminal outcome. Rows are
// never deleted; the message thread is the audit trail.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Request struct {
	ID     string `json:"id"`
	Origin string `json:"origin"` // chat, issue, dashboard

	RepoURL    string `json:"repo_url"`
	RepoOwner  string `json:"repo_owner"`
	RepoName   string `json:"repo_name"`
	BaseBranch string `json:"base_branch"`

	// ThreadID is the originating conversation thread used for follow-up
	// routing and notifications.
	ThreadID  string `json:"thread_id"`
	AgentType string `json:"agent_type"`

	Description    string `json:"description"`
	FollowUpText   string `json:"followup_text,omitempty"`
	FollowUpAuthor string `json:"followup_author,omitempty"`

	// ExistingPRNumber pins all follow-up turns to the same branch until the
	// PR is closed.
	ExistingPRNumber int    `json:"existing_pr_number,omitempty"`
	ExistingPRURL    string `json:"existing_pr_url,omitempty"`

	Status     Status     `json:"status"`
	TaskStatus TaskStatus `json:"task_status"`

	PRNumber int    `json:"pr_number,omitempty"`
	PRURL    string `json:"pr_url,omitempty"`
	PRBranch string `json:"pr_branch,omitempty"`

	ClarifyingQuestion string `json:"clarifying_question,omitempty"`

	CostUSD    float64 `json:"cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	RetryCount int     `json:"retry_count"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStack   string `json:"error_stack,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
	CancelActor  string `json:"cancel_actor,omitempty"`

	IssueNumber int `json:"issue_number,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageKind classifies one entry in a request's thread.
type MessageKind string

const (
	MessageKindRequest               MessageKind = "request"
	MessageKindClarificationQuestion MessageKind = "clarification_question"
	MessageKindClarificationAnswer   MessageKind = "clarification_answer"
	MessageKindFollowUp              MessageKind = "followup"
	MessageKindProcessing            MessageKind = "processing"
	MessageKindToolActivity          MessageKind = "tool_activity"
	MessageKindPRCreated             MessageKind = "pr_created"
	MessageKindPRUpdated             MessageKind = "pr_updated"
	MessageKindComment               MessageKind = "comment"
	MessageKindError                 MessageKind = "error"
	MessageKindRetry                 MessageKind = "retry"
	MessageKindCancelled             MessageKind = "cancelled"
)

// Message is one append-only entry in a request's thread. Immutable once
// written; ordered by CreatedAt. Replayed (truncated) into later prompts.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Message struct {
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	Author    string      `json:"author,omitempty"`

	// SourceMarker is the origin-side message identifier; follow-ups with an
	// already-recorded marker are duplicates of an at-least-once delivery.
	SourceMarker string `json:"source_marker,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AgentSession is the opaque conversation-state blob the agent returned for
// its latest turn. At most one live session exists per request.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type AgentSession struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
	AgentType string    `json:"agent_type"`
	Blob      []byte    `json:"-"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
