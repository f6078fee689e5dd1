package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clarity/pkg/agent"
	"clarity/pkg/github"
	"clarity/pkg/notify"
	"clarity/pkg/persistence"
	"clarity/pkg/utils"
	"clarity/pkg/workspace"
)

// runTurn executes one complete agent turn for a request: workspace
// acquisition, agent execution, session persistence, and PR delivery.
//
// Ordering is load-bearing: the session is persisted before any status
// write, notification, or PR call, so a crash at any later point leaves the
// next turn able to resume the conversation. Likewise the branch is pushed
// before the PR is created.
func (c *Consumer) runTurn(ctx context.Context, req *persistence.Request, instruction string) error {
	// A cancel may have landed while this message sat in the queue.
	current, err := c.store.GetRequest(req.ID)
	if err != nil {
		return classify(ClassCompute, err)
	}
	if current.Status == persistence.StatusCancelled {
		c.logger.Info("Request %s cancelled before turn start, skipping", utils.ShortID(req.ID))
		return nil
	}
	req = current

	notifier := c.notifierFor(req)
	if err := c.store.UpdateStatus(req.ID, persistence.StatusProcessing, persistence.TaskStatusRunning); err != nil {
		return classify(ClassCompute, err)
	}
	notifier.PostStatusReaction(ctx, req.IssueNumber, notify.StateWorking) //nolint:errcheck // Best-effort.

	agentType, err := agent.ParseType(req.AgentType)
	if err != nil {
		return classify(ClassConfig, err)
	}
	coder, err := c.agentFor(agentType)
	if err != nil {
		return classify(ClassConfig, err)
	}
	defer func() {
		if cerr := coder.Cleanup(); cerr != nil {
			c.logger.Warn("Agent cleanup failed for request %s: %v", utils.ShortID(req.ID), cerr)
		}
	}()

	spec := workspace.CloneSpec{
		RequestID:  req.ID,
		RepoURL:    req.RepoURL,
		BaseBranch: req.BaseBranch,
	}
	if req.ExistingPRNumber > 0 && req.PRBranch != "" {
		spec.PRBranch = req.PRBranch
	}
	ws, err := c.workspaces.Acquire(ctx, spec)
	if err != nil {
		return classify(ClassWorkspace, err)
	}
	defer ws.Release()

	branch, err := ws.EnsureBranch(ctx)
	if err != nil {
		return classify(ClassWorkspace, err)
	}

	// Resume from the prior turn's session when one exists.
	var sessionBlob []byte
	session, err := c.store.GetSessionForRequest(req.ID)
	switch {
	case err == nil:
		sessionBlob = session.Blob
	case errors.Is(err, persistence.ErrSessionNotFound):
		// First turn.
	default:
		return classify(ClassCompute, err)
	}

	thread, err := c.store.ListMessages(req.ID)
	if err != nil {
		return classify(ClassCompute, err)
	}
	prompt := c.prompts.BuildPrompt(req, thread, instruction)

	start := time.Now()
	result, execErr := coder.Execute(ctx, agent.ExecuteRequest{
		WorkDir:     ws.Path(),
		Prompt:      prompt,
		SessionBlob: sessionBlob,
		Timeout:     c.agentTimeout,
	})
	duration := time.Since(start)

	// Persist the session before anything else can fail. A failed turn may
	// still carry one; losing it would make the conversation unrecoverable.
	if result != nil && result.SessionID != "" {
		if err := c.store.SaveSession(&persistence.AgentSession{
			RequestID: req.ID,
			SessionID: result.SessionID,
			AgentType: req.AgentType,
			Blob:      result.SessionBlob,
		}, c.sessionTTL); err != nil {
			return classify(ClassCompute, err)
		}
	}
	if execErr != nil {
		return classify(ClassAgent, execErr)
	}

	if err := c.store.AddTurnCost(req.ID, result.CostUSD, duration.Milliseconds()); err != nil {
		c.logger.Warn("Failed to record turn cost for request %s: %v", utils.ShortID(req.ID), err)
	}
	if c.recorder != nil {
		c.recorder.RecordTurn(req.AgentType, duration, result.CostUSD)
	}

	if result.ClarifyingQuestion != "" {
		return c.finishClarification(ctx, req, notifier, result.ClarifyingQuestion)
	}
	return c.finishWork(ctx, req, ws, notifier, branch, result.Summary)
}

// finishClarification parks the request until the user answers.
func (c *Consumer) finishClarification(ctx context.Context, req *persistence.Request, notifier notify.Notifier, question string) error {
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: req.ID,
		Kind:      persistence.MessageKindClarificationQuestion,
		Body:      question,
	}); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.SetAwaitingClarification(req.ID, question); err != nil {
		return classify(ClassCompute, err)
	}

	notifier.PostStatusReaction(ctx, req.IssueNumber, notify.StateNeedsClarification) //nolint:errcheck // Best-effort.
	notifier.PostComment(ctx, req.IssueNumber, question)                             //nolint:errcheck // Best-effort.
	c.logger.Info("Request %s awaiting clarification", utils.ShortID(req.ID))
	return nil
}

// finishWork pushes whatever the agent changed and delivers it as a PR. A
// turn with no changes completes the request with just the summary.
func (c *Consumer) finishWork(ctx context.Context, req *persistence.Request, ws *workspace.Workspace, notifier notify.Notifier, branch, summary string) error {
	paths, err := ws.ChangedPaths(ctx)
	if err != nil {
		return classify(ClassWorkspace, err)
	}

	if len(paths) == 0 {
		c.logger.Info("Request %s completed without code changes", utils.ShortID(req.ID))
		return c.completeWithComment(ctx, req, notifier, summary)
	}

	docOnly := workspace.IsDocOnly(paths)
	if docOnly && req.ExistingPRNumber == 0 {
		// Doc-only output without a PR to refresh is delivered as a comment;
		// only turns pinned to an existing PR push documentation changes.
		c.logger.Info("Request %s touched only documentation (%d paths), completing without a PR",
			utils.ShortID(req.ID), len(paths))
		return c.completeWithComment(ctx, req, notifier, summary)
	}
	if docOnly {
		c.logger.Info("Request %s touched only documentation (%d paths)", utils.ShortID(req.ID), len(paths))
	}

	commitMsg := utils.TruncateTitle(req.Description)
	if err := ws.CommitAndPush(ctx, branch, commitMsg); err != nil {
		if errors.Is(err, workspace.ErrNoChanges) {
			// Racy but harmless: the tree was clean by commit time.
			return c.finishWork(ctx, req, ws, notifier, branch, summary)
		}
		return classify(ClassWorkspace, err)
	}

	return c.deliverPR(ctx, req, notifier, branch, summary, docOnly)
}

// completeWithComment finishes a request whose turn left nothing to deliver
// as a PR: the summary becomes the outcome.
func (c *Consumer) completeWithComment(ctx context.Context, req *persistence.Request, notifier notify.Notifier, summary string) error {
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: req.ID,
		Kind:      persistence.MessageKindComment,
		Body:      summary,
	}); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.SetCompleted(req.ID); err != nil {
		return classify(ClassCompute, err)
	}
	notifier.PostStatusReaction(ctx, req.IssueNumber, notify.StateSucceeded) //nolint:errcheck // Best-effort.
	notifier.PostComment(ctx, req.IssueNumber, summary)                     //nolint:errcheck // Best-effort.
	return nil
}

// deliverPR creates the PR for a first turn or refreshes the pinned one for
// follow-up turns. The push already happened; from here every step is
// idempotent against redelivery.
func (c *Consumer) deliverPR(ctx context.Context, req *persistence.Request, notifier notify.Notifier, branch, summary string, docOnly bool) error {
	host := c.hostFor(req.RepoOwner, req.RepoName)
	body := summary
	if docOnly {
		body += "\n\n_Documentation-only change._"
	}

	if req.ExistingPRNumber > 0 {
		if err := host.UpdatePullRequest(ctx, req.ExistingPRNumber, "", body); err != nil {
			return classify(ClassGitHub, err)
		}
		if err := c.store.SetPROutcome(req.ID, req.ExistingPRNumber, req.ExistingPRURL, branch); err != nil {
			return classify(ClassCompute, err)
		}
		if err := c.store.AppendMessage(&persistence.Message{
			RequestID: req.ID,
			Kind:      persistence.MessageKindPRUpdated,
			Body:      fmt.Sprintf("Updated PR #%d", req.ExistingPRNumber),
		}); err != nil {
			return classify(ClassCompute, err)
		}
		notifier.PostStatusReaction(ctx, req.IssueNumber, notify.StateSucceeded) //nolint:errcheck // Best-effort.
		notifier.PostComment(ctx, req.IssueNumber,                               //nolint:errcheck // Best-effort.
			fmt.Sprintf("Updated %s\n\n%s", req.ExistingPRURL, summary))
		return nil
	}

	result, err := host.CreatePullRequest(ctx, github.PRCreateOptions{
		Title: utils.TruncateTitle(req.Description),
		Body:  body,
		Head:  branch,
		Base:  req.BaseBranch,
	})
	if err != nil {
		return classify(ClassGitHub, err)
	}
	if !result.Created {
		c.logger.Info("Reusing existing PR #%d for request %s", result.PR.Number, utils.ShortID(req.ID))
	}

	if err := c.store.SetPROutcome(req.ID, result.PR.Number, result.PR.URL, branch); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: req.ID,
		Kind:      persistence.MessageKindPRCreated,
		Body:      result.PR.URL,
	}); err != nil {
		return classify(ClassCompute, err)
	}

	notifier.PostStatusReaction(ctx, req.IssueNumber, notify.StateSucceeded) //nolint:errcheck // Best-effort.
	notifier.PostComment(ctx, req.IssueNumber,                               //nolint:errcheck // Best-effort.
		fmt.Sprintf("Opened %s\n\n%s", result.PR.URL, summary))
	c.logger.Info("Request %s delivered PR #%d", utils.ShortID(req.ID), result.PR.Number)
	return nil
}
