// Package agent runs coding agents as subprocesses and carries their opaque
// session state between turns.
package agent

import (
	"context"
	"fmt"
	"time"
)

// Type identifies which coding agent executes a request.
type Type string

const (
	TypeClaude Type = "claude"
	TypeCodex  Type = "codex"
)

// ParseType validates an agent type string, defaulting empty to claude.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeClaude, TypeCodex:
		return Type(s), nil
	case "":
		return TypeClaude, nil
	default:
		return "", fmt.Errorf("unknown agent type: %q", s)
	}
}

// ExecuteRequest is one turn of agent work inside a prepared working copy.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type ExecuteRequest struct {
	WorkDir string
	Prompt  string

	// SessionBlob resumes a prior conversation when non-nil. Produced by a
	// previous turn's ExecuteResult and treated as opaque by everything
	// except the agent that minted it.
	SessionBlob []byte

	Timeout time.Duration
}

// ExecuteResult is what one agent turn produced.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type ExecuteResult struct {
	// SessionID and SessionBlob identify the conversation for resumption.
	SessionID   string
	SessionBlob []byte

	// Summary is the agent's final message, used for PR bodies and thread
	// comments.
	Summary string

	// ClarifyingQuestion is non-empty when the agent stopped to ask the
	// user something instead of finishing the task.
	ClarifyingQuestion string

	CostUSD float64
}

// CodingAgent executes coding tasks. Implementations are safe for use by
// one turn at a time.
type CodingAgent interface {
	// Execute runs one turn. The working copy is mutated in place. A failed
	// turn may still return a non-nil result carrying the session the agent
	// minted before failing; callers should persist it so the conversation
	// remains resumable.
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error)
	// Validate checks the agent is runnable in this environment.
	Validate(ctx context.Context) error
	// Abort kills any in-flight execution.
	Abort()
	// Cleanup releases whatever the agent holds: any in-flight subprocess
	// is killed. Safe to call after a completed turn.
	Cleanup() error
	// Type reports which agent this is.
	Type() Type
}

// New returns the agent implementation for the given type.
func New(agentType Type) (CodingAgent, error) {
	switch agentType {
	case TypeClaude:
		return newCLIAgent(TypeClaude, "claude"), nil
	case TypeCodex:
		return newCLIAgent(TypeCodex, "codex"), nil
	default:
		return nil, fmt.Errorf("unknown agent type: %q", agentType)
	}
}
