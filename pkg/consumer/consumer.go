// Package consumer coordinates the request pipeline: it drains the task
// queue, drives the request state machine, and runs agent turns against
// exclusively-held workspaces.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clarity/pkg/agent"
	"clarity/pkg/config"
	"clarity/pkg/contextmgr"
	"clarity/pkg/github"
	"clarity/pkg/logx"
	"clarity/pkg/metrics"
	"clarity/pkg/notify"
	"clarity/pkg/persistence"
	"clarity/pkg/proto"
	"clarity/pkg/queue"
	"clarity/pkg/utils"
	"clarity/pkg/workspace"
)

// Options configures a Consumer. Store, Queue, Workspaces, and Prompts are
// required; the factory fields default to the production implementations.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Options struct {
	Store      *persistence.Store
	Queue      queue.Consumer
	Workspaces *workspace.Manager
	Prompts    *contextmgr.Manager
	Recorder   *metrics.PipelineRecorder

	MaxAttempts  int
	AgentTimeout time.Duration
	SessionTTL   time.Duration

	// HostFor returns the GitHub host for a repository. Tests inject mocks
	// here.
	HostFor func(owner, repo string) github.Host
	// AgentFor returns the coding agent for a type.
	AgentFor func(agent.Type) (agent.CodingAgent, error)
}

// Consumer processes task deliveries one at a time per worker. Multiple
// consumers may share one queue; the per-request workspace lock keeps turns
// for the same request from overlapping.
//
//nolint:govet // Logical grouping preferred over memory optimization.
type Consumer struct {
	store      *persistence.Store
	queue      queue.Consumer
	workspaces *workspace.Manager
	prompts    *contextmgr.Manager
	recorder   *metrics.PipelineRecorder

	maxAttempts  int
	agentTimeout time.Duration
	sessionTTL   time.Duration

	hostFor  func(owner, repo string) github.Host
	agentFor func(agent.Type) (agent.CodingAgent, error)

	logger *logx.Logger
}

// New creates a consumer.
func New(opts Options) *Consumer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = config.DefaultMaxAttempts
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = config.DefaultAgentTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = persistence.DefaultSessionTTL
	}
	if opts.HostFor == nil {
		opts.HostFor = func(owner, repo string) github.Host {
			return github.NewClient(owner, repo)
		}
	}
	if opts.AgentFor == nil {
		opts.AgentFor = agent.New
	}
	return &Consumer{
		store:        opts.Store,
		queue:        opts.Queue,
		workspaces:   opts.Workspaces,
		prompts:      opts.Prompts,
		recorder:     opts.Recorder,
		maxAttempts:  opts.MaxAttempts,
		agentTimeout: opts.AgentTimeout,
		sessionTTL:   opts.SessionTTL,
		hostFor:      opts.HostFor,
		agentFor:     opts.AgentFor,
		logger:       logx.NewLogger("consumer"),
	}
}

// Run drains the queue until the context is cancelled or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		delivery, err := c.queue.Receive(ctx)
		if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive failed: %w", err)
		}
		c.HandleDelivery(ctx, delivery)
	}
}

// HandleDelivery processes one delivery and settles it. Non-retryable
// failures and exhausted retries mark the request failed and ack; retryable
// failures re-enqueue.
func (c *Consumer) HandleDelivery(ctx context.Context, delivery queue.Delivery) {
	msg := delivery.Body()

	err := c.handle(ctx, msg)
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil && !errors.Is(ackErr, queue.ErrSettled) {
			c.logger.Warn("Ack failed for message %s: %v", msg.ID, ackErr)
		}
		c.record(msg.Kind, "ok")
		return
	}

	class := classOf(err)
	c.logger.Error("Message %s (%s) failed [%s]: %v", msg.ID, msg.Kind, class, err)

	if !class.Retryable() {
		c.failRequest(ctx, msg, err)
		if ackErr := delivery.Ack(); ackErr != nil && !errors.Is(ackErr, queue.ErrSettled) {
			c.logger.Warn("Ack failed for message %s: %v", msg.ID, ackErr)
		}
		c.record(msg.Kind, "failed")
		return
	}

	info := queue.GetRetryInfo(delivery, c.maxAttempts)
	if !info.IsLastAttempt {
		if c.recorder != nil {
			c.recorder.RecordRetry(string(class))
		}
		if msg.RequestID != "" {
			if rerr := c.store.IncrementRetryCount(msg.RequestID); rerr != nil {
				c.logger.Warn("Failed to bump retry count for request %s: %v", msg.RequestID, rerr)
			}
		}
		c.record(msg.Kind, "retried")
	} else {
		c.record(msg.Kind, "failed")
	}

	if herr := queue.HandleRetryOrFail(delivery, info.IsLastAttempt, func() error {
		c.failRequest(ctx, msg, err)
		return nil
	}); herr != nil {
		c.logger.Warn("Failed to settle message %s: %v", msg.ID, herr)
	}
}

func (c *Consumer) record(kind proto.MsgKind, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordDelivery(string(kind), outcome)
	}
}

// handle routes one message by kind.
func (c *Consumer) handle(ctx context.Context, msg *proto.TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return classify(ClassConfig, err)
	}

	switch msg.Kind {
	case proto.KindIssue, proto.KindChatRequest:
		return c.handleNewRequest(ctx, msg)
	case proto.KindMention:
		return c.handleMention(ctx, msg)
	case proto.KindFollowUp:
		return c.handleFollowUp(ctx, msg, persistence.MessageKindFollowUp)
	case proto.KindClarificationAnswer:
		return c.handleFollowUp(ctx, msg, persistence.MessageKindClarificationAnswer)
	case proto.KindRetry:
		return c.handleRetry(ctx, msg)
	case proto.KindCancel:
		return c.handleCancel(ctx, msg)
	default:
		return classify(ClassConfig, fmt.Errorf("unroutable message kind: %s", msg.Kind))
	}
}

// handleNewRequest creates the request row, ensures a tracking issue
// exists, and runs the first turn.
func (c *Consumer) handleNewRequest(ctx context.Context, msg *proto.TaskMessage) error {
	agentType, err := agent.ParseType(msg.AgentType)
	if err != nil {
		return classify(ClassConfig, err)
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = utils.NewRequestID()
	}

	// Redelivery of the create message must not spawn a second request.
	req, err := c.store.GetRequest(requestID)
	if err == nil {
		c.logger.Info("Request %s already exists (redelivery), resuming", utils.ShortID(requestID))
		return c.runTurn(ctx, req, req.Description)
	}
	if !errors.Is(err, persistence.ErrRequestNotFound) {
		return classify(ClassCompute, err)
	}

	baseBranch := msg.Repo.DefaultBranch
	if baseBranch == "" {
		host := c.hostFor(msg.Repo.Owner, msg.Repo.Name)
		baseBranch, err = host.GetDefaultBranch(ctx)
		if err != nil {
			return classify(ClassGitHub, err)
		}
	}

	req = &persistence.Request{
		ID:          requestID,
		Origin:      string(msg.Origin),
		RepoURL:     msg.Repo.URL,
		RepoOwner:   msg.Repo.Owner,
		RepoName:    msg.Repo.Name,
		BaseBranch:  baseBranch,
		ThreadID:    msg.ThreadID,
		AgentType:   string(agentType),
		Description: msg.Description,
		IssueNumber: msg.IssueNumber,
	}
	if err := c.store.CreateRequest(req); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID:    requestID,
		Kind:         persistence.MessageKindRequest,
		Body:         msg.Description,
		Author:       msg.Author,
		SourceMarker: msg.SourceMarker,
	}); err != nil {
		return classify(ClassCompute, err)
	}

	if err := c.ensureTrackingIssue(ctx, req); err != nil {
		return err
	}

	c.notifierFor(req).PostStatusReaction(ctx, req.IssueNumber, notify.StateQueued) //nolint:errcheck // Best-effort.

	return c.runTurn(ctx, req, req.Description)
}

// ensureTrackingIssue creates the tracking issue for requests that did not
// originate from one.
func (c *Consumer) ensureTrackingIssue(ctx context.Context, req *persistence.Request) error {
	if req.IssueNumber > 0 {
		if err := c.store.UpdateStatus(req.ID, persistence.StatusIssueCreated, persistence.TaskStatusQueued); err != nil {
			return classify(ClassCompute, err)
		}
		req.Status = persistence.StatusIssueCreated
		return nil
	}

	host := c.hostFor(req.RepoOwner, req.RepoName)
	issue, err := host.CreateIssue(ctx, github.IssueCreateOptions{
		Title:  utils.TruncateTitle(req.Description),
		Body:   req.Description,
		Labels: []string{"clarity-ai"},
	})
	if err != nil {
		return classify(ClassGitHub, err)
	}
	if err := c.store.SetIssueCreated(req.ID, issue.Number); err != nil {
		return classify(ClassCompute, err)
	}
	req.IssueNumber = issue.Number
	req.Status = persistence.StatusIssueCreated
	c.logger.Info("Created tracking issue #%d for request %s", issue.Number, utils.ShortID(req.ID))
	return nil
}

// handleMention resolves a chat mention: route to the active request on the
// thread if one exists, otherwise start a new request when the mention
// carries enough routing information.
func (c *Consumer) handleMention(ctx context.Context, msg *proto.TaskMessage) error {
	req, err := c.store.FindActiveRequestByThread(msg.ThreadID)
	if err == nil {
		msg.RequestID = req.ID
		if msg.Body == "" {
			msg.Body = msg.Description
		}
		kind := persistence.MessageKindFollowUp
		if req.Status == persistence.StatusAwaitingClarification {
			kind = persistence.MessageKindClarificationAnswer
		}
		return c.continueRequest(ctx, req, msg, kind)
	}
	if !errors.Is(err, persistence.ErrRequestNotFound) {
		return classify(ClassCompute, err)
	}

	if msg.Repo.URL == "" || msg.Description == "" {
		// Nothing to route to and not enough to start fresh; drop it.
		c.logger.Warn("Dropping unroutable mention on thread %s", msg.ThreadID)
		return nil
	}
	return c.handleNewRequest(ctx, msg)
}

// handleFollowUp routes a follow-up or clarification answer to its request.
// A follow-up on a dead (errored/cancelled) request starts a fresh one when
// the message carries repository routing.
func (c *Consumer) handleFollowUp(ctx context.Context, msg *proto.TaskMessage, kind persistence.MessageKind) error {
	var req *persistence.Request
	var err error
	if msg.RequestID != "" {
		req, err = c.store.GetRequest(msg.RequestID)
	} else {
		req, err = c.store.FindActiveRequestByThread(msg.ThreadID)
	}
	if errors.Is(err, persistence.ErrRequestNotFound) {
		if msg.Repo.URL != "" {
			c.logger.Info("Follow-up on thread %s has no active request, starting fresh", msg.ThreadID)
			msg.RequestID = ""
			msg.Description = msg.Body
			return c.handleNewRequest(ctx, msg)
		}
		c.logger.Warn("Dropping follow-up for unknown request (thread %s)", msg.ThreadID)
		return nil
	}
	if err != nil {
		return classify(ClassCompute, err)
	}

	// Follow-ups never resurrect dead requests addressed by explicit ID.
	if req.Status == persistence.StatusError || req.Status == persistence.StatusCancelled {
		if msg.Repo.URL != "" || req.RepoURL != "" {
			c.logger.Info("Follow-up on dead request %s, starting fresh", utils.ShortID(req.ID))
			fresh := *msg
			fresh.RequestID = ""
			fresh.Description = msg.Body
			if fresh.Repo.URL == "" {
				fresh.Repo = proto.RepoRef{
					URL: req.RepoURL, Owner: req.RepoOwner, Name: req.RepoName, DefaultBranch: req.BaseBranch,
				}
				fresh.AgentType = req.AgentType
			}
			return c.handleNewRequest(ctx, &fresh)
		}
		c.logger.Warn("Dropping follow-up for dead request %s", utils.ShortID(req.ID))
		return nil
	}

	return c.continueRequest(ctx, req, msg, kind)
}

// continueRequest appends the new instruction (deduplicating redeliveries
// by source marker) and runs a resumed turn.
func (c *Consumer) continueRequest(ctx context.Context, req *persistence.Request, msg *proto.TaskMessage, kind persistence.MessageKind) error {
	if msg.SourceMarker != "" {
		seen, err := c.store.HasFollowUpMarker(req.ID, msg.SourceMarker)
		if err != nil {
			return classify(ClassCompute, err)
		}
		if seen {
			c.logger.Info("Duplicate follow-up %s for request %s, ignoring", msg.SourceMarker, utils.ShortID(req.ID))
			return nil
		}
	}

	marker := msg.SourceMarker
	if kind != persistence.MessageKindFollowUp {
		// The unique marker index only guards followup rows.
		marker = ""
	}
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID:    req.ID,
		Kind:         kind,
		Body:         msg.Body,
		Author:       msg.Author,
		SourceMarker: marker,
	}); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.SetFollowUp(req.ID, msg.Body, msg.Author); err != nil {
		return classify(ClassCompute, err)
	}

	return c.runTurn(ctx, req, msg.Body)
}

// handleRetry re-runs the last turn of a failed or stuck request.
func (c *Consumer) handleRetry(ctx context.Context, msg *proto.TaskMessage) error {
	req, err := c.store.GetRequest(msg.RequestID)
	if err != nil {
		return classify(ClassCompute, err)
	}
	if req.Status == persistence.StatusCancelled {
		c.logger.Warn("Ignoring retry for cancelled request %s", utils.ShortID(req.ID))
		return nil
	}

	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: req.ID,
		Kind:      persistence.MessageKindRetry,
		Body:      "retry requested",
		Author:    msg.Author,
	}); err != nil {
		return classify(ClassCompute, err)
	}

	instruction := req.FollowUpText
	if instruction == "" {
		instruction = req.Description
	}
	return c.runTurn(ctx, req, instruction)
}

// handleCancel marks an active request cancelled. Terminal requests are
// left alone.
func (c *Consumer) handleCancel(ctx context.Context, msg *proto.TaskMessage) error {
	req, err := c.store.GetRequest(msg.RequestID)
	if errors.Is(err, persistence.ErrRequestNotFound) {
		c.logger.Warn("Cancel for unknown request %s, ignoring", msg.RequestID)
		return nil
	}
	if err != nil {
		return classify(ClassCompute, err)
	}
	if req.Status.IsTerminal() {
		c.logger.Info("Cancel for request %s in terminal status %s, ignoring", utils.ShortID(req.ID), req.Status)
		return nil
	}

	if err := c.store.SetCancelled(req.ID, msg.CancelReason, msg.CancelActor); err != nil {
		return classify(ClassCompute, err)
	}
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: req.ID,
		Kind:      persistence.MessageKindCancelled,
		Body:      msg.CancelReason,
		Author:    msg.CancelActor,
	}); err != nil {
		return classify(ClassCompute, err)
	}

	c.notifierFor(req).PostComment(ctx, req.IssueNumber, //nolint:errcheck // Best-effort.
		fmt.Sprintf("Cancelled by %s: %s", msg.CancelActor, msg.CancelReason))
	return nil
}

// failRequest records a terminal failure and tells the user. Called when
// retries are exhausted or the failure is non-retryable.
func (c *Consumer) failRequest(ctx context.Context, msg *proto.TaskMessage, cause error) {
	if msg.RequestID == "" {
		return
	}
	class := classOf(cause)
	if err := c.store.SetError(msg.RequestID, string(class), cause.Error(), errorTrace(cause)); err != nil {
		c.logger.Error("Failed to record failure for request %s: %v", msg.RequestID, err)
	}
	if err := c.store.AppendMessage(&persistence.Message{
		RequestID: msg.RequestID,
		Kind:      persistence.MessageKindError,
		Body:      cause.Error(),
	}); err != nil {
		c.logger.Warn("Failed to append error message for request %s: %v", msg.RequestID, err)
	}

	req, err := c.store.GetRequest(msg.RequestID)
	if err != nil {
		return
	}
	n := c.notifierFor(req)
	n.PostStatusReaction(ctx, req.IssueNumber, notify.StateFailed)                                           //nolint:errcheck // Best-effort.
	n.PostComment(ctx, req.IssueNumber, fmt.Sprintf("Request failed (%s). A maintainer can retry.", class)) //nolint:errcheck // Best-effort.
}

// notifierFor returns a best-effort notifier for the request's thread.
func (c *Consumer) notifierFor(req *persistence.Request) notify.Notifier {
	if req.IssueNumber <= 0 {
		return notify.Noop{}
	}
	onFailed := func() {}
	if c.recorder != nil {
		onFailed = c.recorder.RecordNotifyFailure
	}
	return notify.NewBestEffort(notify.NewIssueNotifier(c.hostFor(req.RepoOwner, req.RepoName)), onFailed)
}
