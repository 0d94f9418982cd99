package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/models"
)

func testState(docID, configID string, ordinal int64) *models.DocumentState {
	return &models.DocumentState{
		DocID:      docID,
		ConfigID:   configID,
		SourcePath: "/data/a.txt",
		Ordinal:    ordinal,
	}
}

func TestStateStorageSaveAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	modified := time.Now().Add(-time.Hour).Truncate(time.Microsecond)
	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.SourceID = "file-123"
	state.ContentHash = "abc123"
	state.ModifiedTimestamp = &modified
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ds_1", got.ConfigID)
	assert.Equal(t, "file-123", got.SourceID)
	assert.Equal(t, int64(1000), got.Ordinal)
	assert.Equal(t, "abc123", got.ContentHash)
	require.NotNil(t, got.ModifiedTimestamp)
	assert.True(t, got.ModifiedTimestamp.Equal(modified))

	missing, err := store.Get(ctx, "ds_1:/missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStateStorageGetBySourceID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	state := testState("ds_1:alfresco://node-9", "ds_1", 1000)
	state.SourceID = "node-9"
	require.NoError(t, store.Save(ctx, state))

	got, err := store.GetBySourceID(ctx, "ds_1", "node-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ds_1:alfresco://node-9", got.DocID)

	// Wrong config id does not match
	got, err = store.GetBySourceID(ctx, "ds_2", "node-9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStateStorageSaveRetainsSourceID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.SourceID = "file-123"
	require.NoError(t, store.Save(ctx, state))

	// Re-save with empty source id; the stored value survives
	update := testState("ds_1:/data/a.txt", "ds_1", 2000)
	require.NoError(t, store.Save(ctx, update))

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "file-123", got.SourceID)
	assert.Equal(t, int64(2000), got.Ordinal)
}

func TestStateStorageOrdinalNeverDecreases(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	require.NoError(t, store.Save(ctx, testState("ds_1:/data/a.txt", "ds_1", 5000)))
	require.NoError(t, store.Save(ctx, testState("ds_1:/data/a.txt", "ds_1", 3000)))

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Ordinal)

	require.NoError(t, store.UpdateOrdinal(ctx, "ds_1:/data/a.txt", 1000))
	got, err = store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Ordinal)
}

func TestShouldProcessNewDocument(t *testing.T) {
	m := newTestManager(t)

	process, reason, err := m.StateStorage().ShouldProcess(context.Background(), "ds_1:/new", 100, "hash")
	require.NoError(t, err)
	assert.True(t, process)
	assert.Equal(t, "new document", reason)
}

func TestShouldProcessStaleAndDuplicateOrdinals(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	state := testState("ds_1:/data/a.txt", "ds_1", 2000)
	state.ContentHash = "h1"
	require.NoError(t, store.Save(ctx, state))

	// Out-of-order event with an older ordinal
	process, reason, err := store.ShouldProcess(ctx, "ds_1:/data/a.txt", 1000, "h2")
	require.NoError(t, err)
	assert.False(t, process)
	assert.Equal(t, "file already processed", reason)

	// Duplicate delivery with the same ordinal
	process, reason, err = store.ShouldProcess(ctx, "ds_1:/data/a.txt", 2000, "h2")
	require.NoError(t, err)
	assert.False(t, process)
	assert.Equal(t, "file already processed", reason)
}

func TestShouldProcessHashBackfillForRecentlySynced(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	recent := time.Now().Add(-time.Minute)
	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.VectorSyncedAt = &recent
	require.NoError(t, store.Save(ctx, state))

	process, reason, err := store.ShouldProcess(ctx, "ds_1:/data/a.txt", 2000, "newhash")
	require.NoError(t, err)
	assert.False(t, process)
	assert.Equal(t, "hash backfilled for recently synced document", reason)

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.ContentHash)
}

func TestShouldProcessMissingHashNotRecentlySynced(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	old := time.Now().Add(-time.Hour)
	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.VectorSyncedAt = &old
	require.NoError(t, store.Save(ctx, state))

	process, reason, err := store.ShouldProcess(ctx, "ds_1:/data/a.txt", 2000, "h")
	require.NoError(t, err)
	assert.True(t, process)
	assert.Equal(t, "no stored content hash", reason)
}

func TestShouldProcessUnchangedContentBumpsOrdinal(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.ContentHash = "same"
	require.NoError(t, store.Save(ctx, state))

	process, reason, err := store.ShouldProcess(ctx, "ds_1:/data/a.txt", 2000, "same")
	require.NoError(t, err)
	assert.False(t, process)
	assert.Equal(t, "content unchanged", reason)

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Ordinal)
}

func TestShouldProcessChangedContent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	state := testState("ds_1:/data/a.txt", "ds_1", 1000)
	state.ContentHash = "old"
	require.NoError(t, store.Save(ctx, state))

	process, reason, err := store.ShouldProcess(ctx, "ds_1:/data/a.txt", 2000, "new")
	require.NoError(t, err)
	assert.True(t, process)
	assert.Equal(t, "content changed", reason)
}

func TestMarkTargetSyncedIndependently(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	require.NoError(t, store.Save(ctx, testState("ds_1:/data/a.txt", "ds_1", 1000)))

	require.NoError(t, store.MarkTargetSynced(ctx, "ds_1:/data/a.txt", models.TargetVector))
	require.NoError(t, store.MarkTargetSynced(ctx, "ds_1:/data/a.txt", models.TargetSearch))

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.NotNil(t, got.VectorSyncedAt)
	assert.NotNil(t, got.SearchSyncedAt)
	assert.Nil(t, got.GraphSyncedAt)
}

func TestMarkDeleted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	require.NoError(t, store.Save(ctx, testState("ds_1:/data/a.txt", "ds_1", 1000)))
	require.NoError(t, store.MarkDeleted(ctx, "ds_1:/data/a.txt"))

	got, err := store.Get(ctx, "ds_1:/data/a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an untracked document is not an error
	assert.NoError(t, store.MarkDeleted(ctx, "ds_1:/data/a.txt"))
}

func TestGetAllForConfig(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	store := m.StateStorage()

	require.NoError(t, store.Save(ctx, testState("ds_1:/a", "ds_1", 1)))
	require.NoError(t, store.Save(ctx, testState("ds_1:/b", "ds_1", 2)))
	require.NoError(t, store.Save(ctx, testState("ds_2:/c", "ds_2", 3)))

	states, err := store.GetAllForConfig(ctx, "ds_1")
	require.NoError(t, err)
	assert.Len(t, states, 2)
}
