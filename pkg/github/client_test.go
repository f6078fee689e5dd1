package github

import (
	"context"
	"testing"
	"time"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{
			name:      "SSH format",
			url:       "git@github.com:owner/repo.git",
			wantOwner: "owner",
			wantRepo:  "repo",
			wantErr:   false,
		},
		{
			name:      "SSH format without .git",
			url:       "git@github.com:owner/repo",
			wantOwner: "owner",
			wantRepo:  "repo",
			wantErr:   false,
		},
		{
			name:      "HTTPS format",
			url:       "https://github.com/owner/repo.git",
			wantOwner: "owner",
			wantRepo:  "repo",
			wantErr:   false,
		},
		{
			name:      "HTTPS format without .git",
			url:       "https://github.com/owner/repo",
			wantOwner: "owner",
			wantRepo:  "repo",
			wantErr:   false,
		},
		{
			name:    "Invalid SSH format - missing parts",
			url:     "git@github.com:owner",
			wantErr: true,
		},
		{
			name:    "Invalid HTTPS format - missing parts",
			url:     "https://github.com/owner",
			wantErr: true,
		},
		{
			name:    "Unsupported format - GitLab",
			url:     "https://gitlab.com/owner/repo.git",
			wantErr: true,
		},
		{
			name:    "Empty string",
			url:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepoURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRepoURL(%q) expected error, got owner=%q repo=%q", tt.url, owner, repo)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepoURL(%q) unexpected error: %v", tt.url, err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("ParseRepoURL(%q) = %q/%q, want %q/%q", tt.url, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestNewClientFromRemote(t *testing.T) {
	client, err := NewClientFromRemote("https://github.com/acme/widgets.git")
	if err != nil {
		t.Fatalf("NewClientFromRemote failed: %v", err)
	}
	if client.RepoPath() != "acme/widgets" {
		t.Errorf("RepoPath() = %q, want %q", client.RepoPath(), "acme/widgets")
	}

	if _, err := NewClientFromRemote("ftp://example.com/repo"); err == nil {
		t.Error("NewClientFromRemote should reject non-GitHub URLs")
	}
}

func TestWithTimeoutReturnsNewClient(t *testing.T) {
	original := NewClient("acme", "widgets")
	modified := original.WithTimeout(5 * time.Minute)

	if original == modified {
		t.Error("WithTimeout should return a new client instance")
	}
	if original.timeout == modified.timeout {
		t.Error("WithTimeout should change the timeout")
	}
	if modified.RepoPath() != "acme/widgets" {
		t.Errorf("WithTimeout lost repo identity: %q", modified.RepoPath())
	}
}

func TestGetDefaultBranch(t *testing.T) {
	client := NewClient("acme", "widgets")
	client.exec = func(_ context.Context, args ...string) ([]byte, error) {
		if args[0] != "repo" || args[1] != "view" {
			t.Fatalf("unexpected gh args: %v", args)
		}
		return []byte(`{"defaultBranchRef":{"name":"develop"}}`), nil
	}

	branch, err := client.GetDefaultBranch(context.Background())
	if err != nil {
		t.Fatalf("GetDefaultBranch failed: %v", err)
	}
	if branch != "develop" {
		t.Errorf("GetDefaultBranch = %q, want %q", branch, "develop")
	}
}
