package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/types"
)

func sampleRecord(id, status string) *RunRecord {
	return &RunRecord{
		RunID:    id,
		Topology: "sequential",
		Status:   status,
		Transcript: []types.Message{
			types.NewUserMessage("my invoice was charged twice"),
			types.NewAssistantMessage("classifier", "Category: Billing"),
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// exerciseRunStore runs the shared contract every backend must satisfy.
func exerciseRunStore(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := sampleRecord("run-1", "running")
	require.NoError(t, store.SaveRun(ctx, rec))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, rec.Topology, got.Topology)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "classifier", got.Transcript[1].Agent)

	// Update in place.
	rec.Status = "paused_awaiting_input"
	rec.Pending = &PendingRequest{
		ID:        "req-1",
		Step:      "analyst",
		Prompt:    "Please review the expense analysis above and provide your decision.",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.SaveRun(ctx, rec))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "paused_awaiting_input", got.Status)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "req-1", got.Pending.ID)

	// Mutating the returned record must not leak into the store.
	got.Status = "mangled"
	again, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "paused_awaiting_input", again.Status)

	other := sampleRecord("run-2", "completed")
	other.CreatedAt = other.CreatedAt.Add(time.Second)
	require.NoError(t, store.SaveRun(ctx, other))

	all, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].RunID, "newest first")

	paused, err := store.ListRuns(ctx, RunFilter{Status: "paused_awaiting_input"})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, "run-1", paused[0].RunID)

	limited, err := store.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	assert.ErrorIs(t, store.DeleteRun(ctx, "run-1"), ErrNotFound)
	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryRunStore(t *testing.T) {
	store := NewMemoryRunStore()
	defer store.Close()
	exerciseRunStore(t, store)
}

func TestMemoryRunStoreClosed(t *testing.T) {
	store := NewMemoryRunStore()
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.SaveRun(context.Background(), sampleRecord("x", "running")), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestMemoryRunStoreInvalidInput(t *testing.T) {
	store := NewMemoryRunStore()
	defer store.Close()
	assert.ErrorIs(t, store.SaveRun(context.Background(), nil), ErrInvalidInput)
	assert.ErrorIs(t, store.SaveRun(context.Background(), &RunRecord{}), ErrInvalidInput)
}

func TestFileRunStore(t *testing.T) {
	store, err := NewFileRunStore(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	defer store.Close()
	exerciseRunStore(t, store)
}

func TestFileRunStoreSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	store, err := NewFileRunStore(dir)
	require.NoError(t, err)
	rec := sampleRecord("run-persist", "paused_awaiting_input")
	rec.Pending = &PendingRequest{ID: "req-9", Prompt: "decide", CreatedAt: time.Now()}
	require.NoError(t, store.SaveRun(context.Background(), rec))
	require.NoError(t, store.Close())

	reopened, err := NewFileRunStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetRun(context.Background(), "run-persist")
	require.NoError(t, err)
	assert.Equal(t, "paused_awaiting_input", got.Status)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "req-9", got.Pending.ID)
}

func TestSQLiteRunStore(t *testing.T) {
	store, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "loom.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	exerciseRunStore(t, store)
}

func TestFactory(t *testing.T) {
	store, err := NewRunStore(Options{Type: StoreTypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRunStore{}, store)
	store.Close()

	store, err = NewRunStore(Options{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRunStore{}, store, "defaults to memory")
	store.Close()

	store, err = NewRunStore(Options{Type: StoreTypeFile, BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileRunStore{}, store)
	store.Close()

	_, err = NewRunStore(Options{Type: "etcd"}, nil)
	assert.Error(t, err)
}
