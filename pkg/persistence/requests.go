package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const requestColumns = `id, origin, repo_url, repo_owner, repo_name, base_branch,
	thread_id, agent_type, description, followup_text, followup_author,
	existing_pr_number, existing_pr_url, status, task_status,
	pr_number, pr_url, pr_branch, clarifying_question,
	cost_usd, duration_ms, retry_count,
	error_code, error_message, error_stack,
	cancel_reason, cancel_actor, issue_number,
	created_at, updated_at`

// CreateRequest inserts a new request row. Status defaults to pending and
// task status to queued when unset.
func (s *Store) CreateRequest(req *Request) error {
	if req.Status == "" {
		req.Status = StatusPending
	}
	if req.TaskStatus == "" {
		req.TaskStatus = TaskStatusQueued
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		req.ID, req.Origin, req.RepoURL, req.RepoOwner, req.RepoName, req.BaseBranch,
		req.ThreadID, req.AgentType, req.Description, req.FollowUpText, req.FollowUpAuthor,
		req.ExistingPRNumber, req.ExistingPRURL, req.Status, req.TaskStatus,
		req.PRNumber, req.PRURL, req.PRBranch, req.ClarifyingQuestion,
		req.CostUSD, req.DurationMS, req.RetryCount,
		req.ErrorCode, req.ErrorMessage, req.ErrorStack,
		req.CancelReason, req.CancelActor, req.IssueNumber,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create request %s: %w", req.ID, err)
	}
	return nil
}

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.Origin, &req.RepoURL, &req.RepoOwner, &req.RepoName, &req.BaseBranch,
		&req.ThreadID, &req.AgentType, &req.Description, &req.FollowUpText, &req.FollowUpAuthor,
		&req.ExistingPRNumber, &req.ExistingPRURL, &req.Status, &req.TaskStatus,
		&req.PRNumber, &req.PRURL, &req.PRBranch, &req.ClarifyingQuestion,
		&req.CostUSD, &req.DurationMS, &req.RetryCount,
		&req.ErrorCode, &req.ErrorMessage, &req.ErrorStack,
		&req.CancelReason, &req.CancelActor, &req.IssueNumber,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	return &req, nil
}

// GetRequest returns a request by ID, or ErrRequestNotFound.
func (s *Store) GetRequest(id string) (*Request, error) {
	row := s.db.QueryRow(`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

// FindActiveRequestByThread returns the most recent request on the given
// thread whose status still accepts follow-ups (cancelled and error are
// explicitly excluded). Returns ErrRequestNotFound when none qualifies.
func (s *Store) FindActiveRequestByThread(threadID string) (*Request, error) {
	placeholders := make([]string, len(ActiveStatuses))
	args := make([]any, 0, len(ActiveStatuses)+1)
	args = append(args, threadID)
	for i, status := range ActiveStatuses {
		placeholders[i] = "?"
		args = append(args, status)
	}

	//nolint:gosec // Placeholders are generated, not user input.
	query := fmt.Sprintf(`
		SELECT `+requestColumns+`
		FROM requests
		WHERE thread_id = ? AND status IN (%s)
		ORDER BY created_at DESC
		LIMIT 1
	`, strings.Join(placeholders, ","))

	row := s.db.QueryRow(query, args...)
	return scanRequest(row)
}

// UpdateStatus writes status and task status with last-writer-wins semantics.
// Re-applying the same transition is harmless; concurrent workers for the
// same request must tolerate either ordering.
func (s *Store) UpdateStatus(id string, status Status, taskStatus TaskStatus) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, status, taskStatus, id)
	if err != nil {
		return fmt.Errorf("failed to update status for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetFollowUp records the latest follow-up text/author on the request row.
func (s *Store) SetFollowUp(id, text, author string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET followup_text = ?, followup_author = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, text, author, id)
	if err != nil {
		return fmt.Errorf("failed to set follow-up for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetIssueCreated records the tracking issue and advances the request to
// issue_created.
func (s *Store) SetIssueCreated(id string, issueNumber int) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET issue_number = ?, status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, issueNumber, StatusIssueCreated, id)
	if err != nil {
		return fmt.Errorf("failed to set issue for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetPROutcome persists the pull-request identity and marks the request
// pr_created/done. ExistingPRNumber is pinned at the same time so follow-ups
// route to the same branch.
func (s *Store) SetPROutcome(id string, prNumber int, prURL, prBranch string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?,
		    pr_number = ?, pr_url = ?, pr_branch = ?,
		    existing_pr_number = ?, existing_pr_url = ?,
		    clarifying_question = '',
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, StatusPRCreated, TaskStatusDone, prNumber, prURL, prBranch, prNumber, prURL, id)
	if err != nil {
		return fmt.Errorf("failed to set PR outcome for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetCompleted marks a comment-only outcome.
func (s *Store) SetCompleted(id string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?, clarifying_question = '',
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, StatusCompleted, TaskStatusDone, id)
	if err != nil {
		return fmt.Errorf("failed to complete request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetAwaitingClarification persists the agent's question and pauses the turn.
func (s *Store) SetAwaitingClarification(id, question string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?, clarifying_question = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, StatusAwaitingClarification, TaskStatusQueued, question, id)
	if err != nil {
		return fmt.Errorf("failed to set clarification for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetError records a terminal failure.
func (s *Store) SetError(id, code, message, stack string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?,
		    error_code = ?, error_message = ?, error_stack = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, StatusError, TaskStatusFailed, code, message, stack, id)
	if err != nil {
		return fmt.Errorf("failed to set error for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// SetCancelled records an external cancellation. The in-flight orchestration
// run, if any, observes the status between phases; nothing is killed here.
func (s *Store) SetCancelled(id, reason, actor string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET status = ?, task_status = ?, cancel_reason = ?, cancel_actor = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, StatusCancelled, TaskStatusFailed, reason, actor, id)
	if err != nil {
		return fmt.Errorf("failed to cancel request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// AddTurnCost accumulates agent cost and duration onto the request.
func (s *Store) AddTurnCost(id string, costUSD float64, durationMS int64) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET cost_usd = cost_usd + ?, duration_ms = duration_ms + ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, costUSD, durationMS, id)
	if err != nil {
		return fmt.Errorf("failed to add turn cost for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

// IncrementRetryCount bumps the retry counter.
func (s *Store) IncrementRetryCount(id string) error {
	result, err := s.db.Exec(`
		UPDATE requests
		SET retry_count = retry_count + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for request %s: %w", id, err)
	}
	return requireRowAffected(result, id)
}

func requireRowAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("request %s: %w", id, ErrRequestNotFound)
	}
	return nil
}
