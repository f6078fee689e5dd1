package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clarity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, DefaultSessionTTL, cfg.Sessions.TTL)
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
queue:
  max_attempts: 5
workspace:
  root: /srv/clarity/work
  clone_timeout: 90s
agent:
  default_type: codex
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, DefaultWorkers, cfg.Queue.Workers, "omitted value keeps default")
	assert.Equal(t, "/srv/clarity/work", cfg.Workspace.Root)
	assert.Equal(t, 90*time.Second, cfg.Workspace.CloneTimeout)
	assert.Equal(t, "codex", cfg.Agent.DefaultType)
	assert.Equal(t, DefaultSweepSchedule, cfg.Sessions.SweepSchedule)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
workspace:
  clone_timeout: 1ms
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clone_timeout")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("CLARITY_BLOB_KEY", "k3y")

	cfg := Default()
	assert.Equal(t, "ghp_test", cfg.GitHubToken)
	assert.Equal(t, "k3y", cfg.BlobSignKey)
}
