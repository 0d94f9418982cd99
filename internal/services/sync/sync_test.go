package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/ternarybob/concordia/internal/services/engine"
	"github.com/ternarybob/concordia/internal/storage/sqlite"
)

// memoryTarget is a minimal in-memory index target
type memoryTarget struct {
	name models.SyncTarget

	mu   sync.Mutex
	docs map[string]string
}

func newMemoryTarget(name models.SyncTarget) *memoryTarget {
	return &memoryTarget{name: name, docs: make(map[string]string)}
}

func (t *memoryTarget) Name() models.SyncTarget { return t.name }

func (t *memoryTarget) Upsert(ctx context.Context, doc *models.ParsedDocument) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docs[doc.Meta.DocID] = doc.Text
	return nil
}

func (t *memoryTarget) Delete(ctx context.Context, docID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.docs, docID)
	return nil
}

func (t *memoryTarget) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.docs)
}

// stubDetector has no files and an optional listing failure
type stubDetector struct {
	listErr error
	signals chan models.DetectorSignal
}

func newStubDetector() *stubDetector {
	return &stubDetector{signals: make(chan models.DetectorSignal, 8)}
}

func (d *stubDetector) Start(ctx context.Context) error { return nil }
func (d *stubDetector) Stop() error {
	close(d.signals)
	return nil
}
func (d *stubDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	return nil, d.listErr
}
func (d *stubDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	return nil, fmt.Errorf("no files")
}
func (d *stubDetector) HasChangeStream() bool                 { return false }
func (d *stubDetector) Changes() <-chan models.DetectorSignal { return d.signals }
func (d *stubDetector) SourceType() string                    { return models.SourceTypeFilesystem }

// passthroughProcessor emits one parsed document per input
type passthroughProcessor struct{}

func (passthroughProcessor) Process(ctx context.Context, content []byte, meta models.ParsedDocumentMeta) ([]*models.ParsedDocument, error) {
	return []*models.ParsedDocument{{ID: meta.DocID, Text: string(content), Meta: meta}}, nil
}

func newTestStorage(t *testing.T) *sqlite.Manager {
	t.Helper()

	cfg := &common.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "sync.db"),
		WALMode: true,
	}
	m, err := sqlite.NewManager(common.GetLogger(), cfg, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal(msg)
}

func fsConfig(id, path string) *models.DataSourceConfig {
	return &models.DataSourceConfig{
		ID:                     id,
		ProjectID:              "proj",
		Type:                   models.SourceTypeFilesystem,
		Name:                   "local docs",
		ConnectionParams:       map[string]interface{}{"path": path},
		RefreshIntervalSeconds: 3600,
		IsActive:               true,
	}
}

func TestWorkerRefreshSetsIdleStatus(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	config := fsConfig("ds_w1", t.TempDir())
	require.NoError(t, storage.ConfigStorage().SaveConfig(ctx, config))

	eng := engine.New(common.GetLogger(), storage.StateStorage(), passthroughProcessor{}, config.ID,
		newMemoryTarget(models.TargetVector))
	w := NewWorker(common.GetLogger(), config, storage.ConfigStorage(), eng, newStubDetector(), 10*time.Millisecond)

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	waitFor(t, 3*time.Second, func() bool {
		stored, err := storage.ConfigStorage().GetConfig(ctx, config.ID)
		return err == nil && stored.SyncStatus == models.SyncStatusIdle && stored.LastSyncCompletedAt != nil
	}, "expected worker to reach idle status")
}

func TestWorkerRefreshFailureSetsErrorStatus(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	config := fsConfig("ds_w2", t.TempDir())
	require.NoError(t, storage.ConfigStorage().SaveConfig(ctx, config))

	detector := newStubDetector()
	detector.listErr = fmt.Errorf("bucket gone")

	eng := engine.New(common.GetLogger(), storage.StateStorage(), passthroughProcessor{}, config.ID,
		newMemoryTarget(models.TargetVector))
	w := NewWorker(common.GetLogger(), config, storage.ConfigStorage(), eng, detector, 10*time.Millisecond)

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	waitFor(t, 3*time.Second, func() bool {
		stored, err := storage.ConfigStorage().GetConfig(ctx, config.ID)
		return err == nil && stored.SyncStatus == models.SyncStatusError && stored.LastError != ""
	}, "expected worker to record the refresh error")
}

func TestOrchestratorLifecycle(t *testing.T) {
	storage := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	config := fsConfig("ds_orch", root)
	require.NoError(t, storage.ConfigStorage().SaveConfig(ctx, config))

	vector := newMemoryTarget(models.TargetVector)
	search := newMemoryTarget(models.TargetSearch)

	settings := &common.SyncConfig{
		WatchInterval: 100 * time.Millisecond,
		InitialGrace:  10 * time.Millisecond,
		MailboxSize:   64,
	}
	o := NewOrchestrator(common.GetLogger(), settings, storage, passthroughProcessor{},
		vector, search, nil)

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	assert.True(t, o.IsRunning(config.ID))
	waitFor(t, 5*time.Second, func() bool {
		return vector.count() == 1 && search.count() == 1
	}, "expected initial refresh to index the file")

	// Deactivation flows through the watch feed and stops the worker
	require.NoError(t, storage.ConfigStorage().SetActive(ctx, config.ID, false))
	waitFor(t, 5*time.Second, func() bool {
		return !o.IsRunning(config.ID)
	}, "expected worker to stop after deactivation")
}

func TestTriggerManualSyncForUnknownConfig(t *testing.T) {
	storage := newTestStorage(t)

	settings := &common.SyncConfig{
		WatchInterval: time.Second,
		InitialGrace:  time.Second,
		MailboxSize:   64,
	}
	o := NewOrchestrator(common.GetLogger(), settings, storage, passthroughProcessor{},
		newMemoryTarget(models.TargetVector), nil, nil)

	err := o.TriggerManualSync(context.Background(), "ds_missing")
	assert.Error(t, err)

	var _ interfaces.StorageManager = storage
}
