package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory database with the full schema.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, initializeSchemaWithMigrations(db))
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func newTestRequest(id, threadID string) *Request {
	return &Request{
		ID:          id,
		Origin:      "issue",
		RepoURL:     "https://github.com/acme/widgets.git",
		RepoOwner:   "acme",
		RepoName:    "widgets",
		BaseBranch:  "main",
		ThreadID:    threadID,
		AgentType:   "claude",
		Description: "fix null pointer in parser",
	}
}

func TestCreateAndGetRequest(t *testing.T) {
	store := setupTestStore(t)

	req := newTestRequest("req-1", "issue-42")
	req.IssueNumber = 42
	require.NoError(t, store.CreateRequest(req))

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, TaskStatusQueued, got.TaskStatus)
	assert.Equal(t, "acme", got.RepoOwner)
	assert.Equal(t, 42, got.IssueNumber)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetRequestNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetRequest("missing")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestUpdateStatusIdempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.CreateRequest(newTestRequest("req-1", "t-1")))

	// Re-applying the same transition twice must be harmless (last-writer-wins).
	require.NoError(t, store.UpdateStatus("req-1", StatusProcessing, TaskStatusRunning))
	require.NoError(t, store.UpdateStatus("req-1", StatusProcessing, TaskStatusRunning))

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, TaskStatusRunning, got.TaskStatus)
}

func TestUpdateStatusMissingRequest(t *testing.T) {
	store := setupTestStore(t)
	err := store.UpdateStatus("missing", StatusProcessing, TaskStatusRunning)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestSetPROutcomePinsExistingPR(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.CreateRequest(newTestRequest("req-1", "t-1")))

	require.NoError(t, store.SetPROutcome("req-1", 7, "https://github.com/acme/widgets/pull/7", "clarity-ai/issue-req-1"))

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPRCreated, got.Status)
	assert.Equal(t, TaskStatusDone, got.TaskStatus)
	assert.Equal(t, 7, got.PRNumber)
	assert.Equal(t, 7, got.ExistingPRNumber, "follow-ups must route to the same PR")
	assert.Equal(t, "clarity-ai/issue-req-1", got.PRBranch)
}

func TestSetErrorAndCancelled(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.CreateRequest(newTestRequest("req-1", "t-1")))
	require.NoError(t, store.CreateRequest(newTestRequest("req-2", "t-2")))

	require.NoError(t, store.SetError("req-1", "AGENT", "agent crashed", "goroutine 1 [running]..."))
	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, TaskStatusFailed, got.TaskStatus)
	assert.Equal(t, "AGENT", got.ErrorCode)

	require.NoError(t, store.SetCancelled("req-2", "superseded", "alice"))
	got, err = store.GetRequest("req-2")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "superseded", got.CancelReason)
	assert.Equal(t, "alice", got.CancelActor)
}

func TestFindActiveRequestByThread(t *testing.T) {
	store := setupTestStore(t)

	// Errored request on the thread must never be picked up.
	errored := newTestRequest("req-old", "thread-9")
	require.NoError(t, store.CreateRequest(errored))
	require.NoError(t, store.SetError("req-old", "AGENT", "boom", ""))

	_, err := store.FindActiveRequestByThread("thread-9")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	// A completed request still accepts follow-ups.
	completed := newTestRequest("req-new", "thread-9")
	require.NoError(t, store.CreateRequest(completed))
	require.NoError(t, store.SetCompleted("req-new"))

	got, err := store.FindActiveRequestByThread("thread-9")
	require.NoError(t, err)
	assert.Equal(t, "req-new", got.ID)
}

func TestAddTurnCostAccumulates(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.CreateRequest(newTestRequest("req-1", "t-1")))

	require.NoError(t, store.AddTurnCost("req-1", 0.25, 60_000))
	require.NoError(t, store.AddTurnCost("req-1", 0.50, 30_000))

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.CostUSD, 1e-9)
	assert.Equal(t, int64(90_000), got.DurationMS)
}

func TestIncrementRetryCount(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.CreateRequest(newTestRequest("req-1", "t-1")))

	require.NoError(t, store.IncrementRetryCount("req-1"))
	require.NoError(t, store.IncrementRetryCount("req-1"))

	got, err := store.GetRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
}

func TestOpenCreatesSchemaOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clarity.db")

	store, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	version, err := GetSchemaVersion(store.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}
