package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/ternarybob/concordia/internal/services/detectors"
	"github.com/ternarybob/concordia/internal/services/engine"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSyncs bounds how many workers a full reconciliation refreshes at once
const maxConcurrentSyncs = 4

// Orchestrator owns the worker set. It starts one worker per active
// config, follows the config store's watch feed to keep the set current,
// and optionally runs a cron-scheduled full reconciliation.
type Orchestrator struct {
	logger    arbor.ILogger
	settings  *common.SyncConfig
	storage   interfaces.StorageManager
	processor interfaces.DocumentProcessor

	vector interfaces.IndexTarget
	search interfaces.IndexTarget
	graph  interfaces.IndexTarget

	workersMu sync.Mutex
	workers   map[string]*Worker

	scheduler *cron.Cron
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. Globally disabled targets are
// passed as nil; skip_graph additionally drops the graph target per config.
func NewOrchestrator(logger arbor.ILogger, settings *common.SyncConfig, storage interfaces.StorageManager, processor interfaces.DocumentProcessor, vector, search, graph interfaces.IndexTarget) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		settings:  settings,
		storage:   storage,
		processor: processor,
		vector:    vector,
		search:    search,
		graph:     graph,
		workers:   make(map[string]*Worker),
	}
}

// Start launches workers for every active config and begins following the
// config watch feed. A store failure here is fatal; nothing can run
// without the stores.
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	configs, err := o.storage.ConfigStorage().ListActiveConfigs(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to list active configs: %w", err)
	}

	for _, config := range configs {
		if err := o.startWorker(runCtx, config); err != nil {
			o.logger.Warn().
				Err(err).
				Str("config_id", config.ID).
				Msg("Worker failed to start, source stays inactive until its config changes")
		}
	}

	watch, err := o.storage.ConfigStorage().Watch(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch config store: %w", err)
	}

	o.wg.Add(1)
	common.SafeGoWithContext(runCtx, o.logger, "configWatchLoop", func(ctx context.Context) {
		defer o.wg.Done()
		o.watchLoop(ctx, watch)
	})

	if o.settings.ReconcileSchedule != "" {
		o.scheduler = cron.New()
		_, err := o.scheduler.AddFunc(o.settings.ReconcileSchedule, func() {
			reconcileCtx, reconcileCancel := context.WithTimeout(runCtx, 10*time.Minute)
			defer reconcileCancel()
			o.TriggerAllSyncs(reconcileCtx)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("invalid reconcile schedule %q: %w", o.settings.ReconcileSchedule, err)
		}
		o.scheduler.Start()
		o.logger.Info().
			Str("schedule", o.settings.ReconcileSchedule).
			Msg("Scheduled reconciliation enabled")
	}

	o.logger.Info().
		Int("workers", o.WorkerCount()).
		Msg("Orchestrator started")

	return nil
}

// Stop halts the scheduler, the watch loop, and every worker
func (o *Orchestrator) Stop() {
	if o.scheduler != nil {
		o.scheduler.Stop()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	o.workersMu.Lock()
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.workers = make(map[string]*Worker)
	o.workersMu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	o.logger.Info().Msg("Orchestrator stopped")
}

// TriggerManualSync runs one refresh for a config right now
func (o *Orchestrator) TriggerManualSync(ctx context.Context, configID string) error {
	o.workersMu.Lock()
	w, ok := o.workers[configID]
	o.workersMu.Unlock()
	if !ok {
		return fmt.Errorf("no running worker for config %s", configID)
	}
	return w.TriggerManualSync(ctx)
}

// TriggerAllSyncs refreshes every running worker, collecting failures
func (o *Orchestrator) TriggerAllSyncs(ctx context.Context) map[string]error {
	o.workersMu.Lock()
	workers := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.workersMu.Unlock()

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSyncs)
	for _, w := range workers {
		g.Go(func() error {
			if err := w.TriggerManualSync(gctx); err != nil {
				o.logger.Warn().
					Err(err).
					Str("config_id", w.ConfigID()).
					Msg("Manual sync failed")
				mu.Lock()
				failures[w.ConfigID()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return failures
}

// IsRunning reports whether a worker exists for the config
func (o *Orchestrator) IsRunning(configID string) bool {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	_, ok := o.workers[configID]
	return ok
}

// WorkerCount returns the number of running workers
func (o *Orchestrator) WorkerCount() int {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	return len(o.workers)
}

func (o *Orchestrator) watchLoop(ctx context.Context, watch <-chan interfaces.ConfigWatchEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watch:
			if !ok {
				return
			}
			o.handleWatchEvent(ctx, event)
		}
	}
}

func (o *Orchestrator) handleWatchEvent(ctx context.Context, event interfaces.ConfigWatchEvent) {
	switch event.Op {
	case interfaces.WatchInsert:
		if err := o.startWorker(ctx, event.Config); err != nil {
			o.logger.Warn().Err(err).Str("config_id", event.Config.ID).Msg("Worker failed to start")
		}
	case interfaces.WatchUpdate:
		// Restart so new connection params take effect; an inactive config
		// just stops
		o.stopWorker(event.Config.ID)
		if event.Config.IsActive {
			if err := o.startWorker(ctx, event.Config); err != nil {
				o.logger.Warn().Err(err).Str("config_id", event.Config.ID).Msg("Worker failed to restart")
			}
		}
	case interfaces.WatchDelete:
		o.stopWorker(event.Config.ID)
	}
}

func (o *Orchestrator) startWorker(ctx context.Context, config *models.DataSourceConfig) error {
	o.workersMu.Lock()
	if _, exists := o.workers[config.ID]; exists {
		o.workersMu.Unlock()
		return nil
	}
	o.workersMu.Unlock()

	graph := o.graph
	if config.SkipGraph {
		graph = nil
	}

	eng := engine.New(o.logger, o.storage.StateStorage(), o.processor, config.ID,
		o.vector, o.search, graph)

	// The reingest closure captures the detector variable assigned below,
	// breaking the detector-engine cycle
	var detector interfaces.ChangeDetector
	reingest := func(ctx context.Context, meta models.FileMetadata) error {
		return eng.IngestFile(ctx, detector, meta)
	}

	detector, err := detectors.NewDetector(o.logger, config, reingest)
	if err != nil {
		return fmt.Errorf("failed to create detector for %s: %w", config.ID, err)
	}

	worker := NewWorker(o.logger, config, o.storage.ConfigStorage(), eng, detector, o.settings.InitialGrace)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	o.workersMu.Lock()
	o.workers[config.ID] = worker
	o.workersMu.Unlock()
	return nil
}

func (o *Orchestrator) stopWorker(configID string) {
	o.workersMu.Lock()
	worker, ok := o.workers[configID]
	delete(o.workers, configID)
	o.workersMu.Unlock()

	if ok {
		worker.Stop()
	}
}
