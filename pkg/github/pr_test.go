package github

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeExec routes gh invocations to canned handlers keyed by subcommand
// ("pr create", "pr list", ...).
type fakeExec struct {
	t        *testing.T
	handlers map[string]func(args []string) ([]byte, error)
	calls    []string
}

func (f *fakeExec) run(_ context.Context, args ...string) ([]byte, error) {
	key := strings.Join(args[:2], " ")
	f.calls = append(f.calls, key)
	handler, ok := f.handlers[key]
	if !ok {
		f.t.Fatalf("unexpected gh invocation: %v", args)
	}
	return handler(args)
}

func newFakeClient(t *testing.T, handlers map[string]func(args []string) ([]byte, error)) (*Client, *fakeExec) {
	t.Helper()
	fake := &fakeExec{t: t, handlers: handlers}
	client := NewClient("acme", "widgets")
	client.exec = fake.run
	return client, fake
}

func TestCreatePullRequestNew(t *testing.T) {
	client, fake := newFakeClient(t, map[string]func(args []string) ([]byte, error){
		"pr create": func(_ []string) ([]byte, error) {
			return []byte("https://github.com/acme/widgets/pull/12\n"), nil
		},
		"pr view": func(_ []string) ([]byte, error) {
			return []byte(`{"number":12,"url":"https://github.com/acme/widgets/pull/12","title":"Fix parser","state":"OPEN","headRefName":"clarity-ai/issue-req-1","baseRefName":"main","closed":false,"mergedAt":""}`), nil
		},
	})

	result, err := client.CreatePullRequest(context.Background(), PRCreateOptions{
		Title: "Fix parser",
		Head:  "clarity-ai/issue-req-1",
		Base:  "main",
		Body:  "Fixes the thing.",
	})
	if err != nil {
		t.Fatalf("CreatePullRequest failed: %v", err)
	}
	if !result.Created {
		t.Error("expected Created=true for a fresh PR")
	}
	if result.PR.Number != 12 {
		t.Errorf("PR number = %d, want 12", result.PR.Number)
	}
	if len(fake.calls) != 2 {
		t.Errorf("expected create+view, got calls: %v", fake.calls)
	}
}

func TestCreatePullRequestAlreadyExists(t *testing.T) {
	client, _ := newFakeClient(t, map[string]func(args []string) ([]byte, error){
		"pr create": func(_ []string) ([]byte, error) {
			return []byte(`a pull request for branch "clarity-ai/issue-req-1" into branch "main" already exists`),
				errors.New("exit status 1")
		},
		"pr list": func(_ []string) ([]byte, error) {
			return []byte(`[
				{"number":3,"url":"https://github.com/acme/widgets/pull/3","state":"CLOSED","headRefName":"clarity-ai/issue-req-1","baseRefName":"main","closed":true,"mergedAt":""},
				{"number":9,"url":"https://github.com/acme/widgets/pull/9","state":"OPEN","headRefName":"clarity-ai/issue-req-1","baseRefName":"main","closed":false,"mergedAt":""}
			]`), nil
		},
	})

	result, err := client.CreatePullRequest(context.Background(), PRCreateOptions{
		Title: "Fix parser",
		Head:  "clarity-ai/issue-req-1",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("CreatePullRequest failed: %v", err)
	}
	if result.Created {
		t.Error("expected Created=false when reusing an existing PR")
	}
	if result.PR.Number != 9 {
		t.Errorf("expected the open PR #9, got #%d", result.PR.Number)
	}
}

func TestCreatePullRequestValidation(t *testing.T) {
	client := NewClient("acme", "widgets")

	if _, err := client.CreatePullRequest(context.Background(), PRCreateOptions{Title: "t", Base: "main"}); err == nil {
		t.Error("expected error for missing head branch")
	}
	if _, err := client.CreatePullRequest(context.Background(), PRCreateOptions{Head: "b", Base: "main"}); err == nil {
		t.Error("expected error for missing title")
	}
	if _, err := client.CreatePullRequest(context.Background(), PRCreateOptions{Head: "b", Title: "t"}); err == nil {
		t.Error("expected error for missing base branch")
	}
}

func TestUpdatePullRequest(t *testing.T) {
	var gotArgs []string
	client, _ := newFakeClient(t, map[string]func(args []string) ([]byte, error){
		"pr edit": func(args []string) ([]byte, error) {
			gotArgs = args
			return nil, nil
		},
	})

	if err := client.UpdatePullRequest(context.Background(), 12, "", "updated summary"); err != nil {
		t.Fatalf("UpdatePullRequest failed: %v", err)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "--body updated summary") {
		t.Errorf("expected body flag in args: %v", gotArgs)
	}
	if strings.Contains(joined, "--title") {
		t.Errorf("empty title must not be sent: %v", gotArgs)
	}
}

func TestUpdatePullRequestNoop(t *testing.T) {
	// No fields to change: must not invoke gh at all.
	client, fake := newFakeClient(t, map[string]func(args []string) ([]byte, error){})
	if err := client.UpdatePullRequest(context.Background(), 12, "", ""); err != nil {
		t.Fatalf("UpdatePullRequest noop failed: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("expected no gh calls, got %v", fake.calls)
	}
}

func TestIssueNumberFromURL(t *testing.T) {
	number, err := issueNumberFromURL("https://github.com/acme/widgets/issues/42")
	if err != nil {
		t.Fatalf("issueNumberFromURL failed: %v", err)
	}
	if number != 42 {
		t.Errorf("number = %d, want 42", number)
	}

	if _, err := issueNumberFromURL("https://github.com/acme/widgets/issues/"); err == nil {
		t.Error("expected error for trailing slash URL")
	}
	if _, err := issueNumberFromURL("not-a-url"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestPullRequestStateHelpers(t *testing.T) {
	open := PullRequest{State: "OPEN"}
	if !open.IsOpen() || open.IsMerged() {
		t.Error("open PR misclassified")
	}

	merged := PullRequest{State: "MERGED", Closed: true, MergedAt: "2026-08-01T00:00:00Z"}
	if merged.IsOpen() || !merged.IsMerged() {
		t.Error("merged PR misclassified")
	}

	closed := PullRequest{State: "CLOSED", Closed: true}
	if closed.IsOpen() || closed.IsMerged() {
		t.Error("closed PR misclassified")
	}
}
