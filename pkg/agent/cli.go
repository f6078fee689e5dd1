package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"clarity/pkg/logx"
)

// clarificationMarker prefixes an agent's final message when it needs user
// input before it can proceed.
const clarificationMarker = "CLARIFICATION_NEEDED:"

// killGrace is how long a timed-out agent gets between SIGKILL of its
// process group and Wait giving up.
const killGrace = 10 * time.Second

// cliAgent drives a coding agent through its CLI in non-interactive mode.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type cliAgent struct {
	agentType Type
	binary    string
	logger    *logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newCLIAgent(agentType Type, binary string) *cliAgent {
	return &cliAgent{
		agentType: agentType,
		binary:    binary,
		logger:    logx.NewLogger("agent-" + string(agentType)),
	}
}

// Type reports which agent this is.
func (a *cliAgent) Type() Type {
	return a.agentType
}

// Validate checks the agent binary is on PATH.
func (a *cliAgent) Validate(_ context.Context) error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("agent binary %q not found: %w", a.binary, err)
	}
	return nil
}

// Abort kills any in-flight execution.
func (a *cliAgent) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Cleanup aborts anything still running. The CLI agent holds no other
// resources between turns.
func (a *cliAgent) Cleanup() error {
	a.Abort()
	return nil
}

// cliOutput is the JSON envelope the agent prints in non-interactive mode.
type cliOutput struct {
	Result    string  `json:"result"`
	SessionID string  `json:"session_id"`
	CostUSD   float64 `json:"total_cost_usd"`
	IsError   bool    `json:"is_error"`
}

// Execute runs one agent turn as a subprocess. The agent gets its own
// process group so a timeout kills its children too.
func (a *cliAgent) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.WorkDir == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	var resumeID string
	if req.SessionBlob != nil {
		state, err := DecodeBlob(req.SessionBlob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode session blob: %w", err)
		}
		if state.AgentType != a.agentType {
			return nil, fmt.Errorf("session blob is for agent %s, not %s", state.AgentType, a.agentType)
		}
		resumeID = state.SessionID
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	args := a.buildArgs(req.Prompt, resumeID)
	a.logger.Debug("Executing: %s %s", a.binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, a.binary, args...)
	cmd.Dir = req.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	start := time.Now()
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("agent %s aborted after %s: %w", a.agentType, time.Since(start).Round(time.Second), ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("agent %s exited with code %d: %s", a.agentType, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("agent %s failed to run: %w", a.agentType, err)
	}

	return a.parseOutput(output)
}

func (a *cliAgent) buildArgs(prompt, resumeID string) []string {
	switch a.agentType {
	case TypeCodex:
		args := []string{"exec", "--json"}
		if resumeID != "" {
			args = append(args, "--resume", resumeID)
		}
		return append(args, prompt)
	default:
		args := []string{"-p", "--output-format", "json"}
		if resumeID != "" {
			args = append(args, "--resume", resumeID)
		}
		return append(args, prompt)
	}
}

func (a *cliAgent) parseOutput(output []byte) (*ExecuteResult, error) {
	var parsed cliOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse agent output: %w\nOutput: %s", err, truncateForError(output))
	}
	if parsed.SessionID == "" {
		if parsed.IsError {
			return nil, fmt.Errorf("agent %s reported failure: %s", a.agentType, parsed.Result)
		}
		return nil, fmt.Errorf("agent %s returned no session ID", a.agentType)
	}

	result := &ExecuteResult{
		SessionID: parsed.SessionID,
		Summary:   parsed.Result,
		CostUSD:   parsed.CostUSD,
	}
	blob, err := EncodeBlob(sessionState{AgentType: a.agentType, SessionID: parsed.SessionID})
	if err != nil {
		return nil, err
	}
	result.SessionBlob = blob

	// A failed turn still produced a session; return it alongside the error
	// so the conversation stays resumable.
	if parsed.IsError {
		return result, fmt.Errorf("agent %s reported failure: %s", a.agentType, parsed.Result)
	}

	if rest, ok := strings.CutPrefix(strings.TrimSpace(parsed.Result), clarificationMarker); ok {
		result.ClarifyingQuestion = strings.TrimSpace(rest)
		result.Summary = ""
	}

	return result, nil
}

func truncateForError(output []byte) string {
	const limit = 512
	if len(output) <= limit {
		return string(output)
	}
	return string(output[:limit]) + "..."
}
