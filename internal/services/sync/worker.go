package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/ternarybob/concordia/internal/services/engine"
)

const eventErrorPause = 1 * time.Second

// Worker drives synchronization for one active config: a periodic refresh
// loop and, when the detector has a change feed, an event loop consuming
// it. Both funnel into one engine, so events for a doc id are applied
// sequentially.
type Worker struct {
	logger       arbor.ILogger
	config       *models.DataSourceConfig
	configStore  interfaces.ConfigStorage
	engine       *engine.Engine
	detector     interfaces.ChangeDetector
	initialGrace time.Duration

	refreshMu sync.Mutex // serializes scheduled and manual refreshes

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires one worker; Start launches its loops
func NewWorker(logger arbor.ILogger, config *models.DataSourceConfig, configStore interfaces.ConfigStorage, eng *engine.Engine, detector interfaces.ChangeDetector, initialGrace time.Duration) *Worker {
	return &Worker{
		logger:       logger,
		config:       config,
		configStore:  configStore,
		engine:       eng,
		detector:     detector,
		initialGrace: initialGrace,
	}
}

// ConfigID identifies the config this worker serves
func (w *Worker) ConfigID() string {
	return w.config.ID
}

// Start brings up the detector and launches the loops
func (w *Worker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if err := w.detector.Start(runCtx); err != nil {
		cancel()
		statusErr := w.configStore.UpdateSyncStatus(context.Background(), w.config.ID,
			models.SyncStatusError, nil, err.Error())
		if statusErr != nil {
			w.logger.Warn().Err(statusErr).Str("config_id", w.config.ID).Msg("Failed to record startup error")
		}
		return fmt.Errorf("detector start failed for %s: %w", w.config.ID, err)
	}

	w.wg.Add(1)
	common.SafeGoWithContext(runCtx, w.logger, "refreshLoop:"+w.config.ID, w.refreshLoop)

	if w.detector.HasChangeStream() {
		w.wg.Add(1)
		common.SafeGoWithContext(runCtx, w.logger, "eventLoop:"+w.config.ID, w.eventLoop)
	}

	w.logger.Info().
		Str("config_id", w.config.ID).
		Str("source_type", w.config.Type).
		Bool("change_stream", w.detector.HasChangeStream()).
		Msg("Source worker started")

	return nil
}

// Stop cancels both loops and releases the detector
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if err := w.detector.Stop(); err != nil {
		w.logger.Warn().Err(err).Str("config_id", w.config.ID).Msg("Detector stop failed")
	}
	w.wg.Wait()

	w.logger.Info().Str("config_id", w.config.ID).Msg("Source worker stopped")
}

// TriggerManualSync runs one refresh synchronously and surfaces its result
func (w *Worker) TriggerManualSync(ctx context.Context) error {
	return w.runRefresh(ctx)
}

func (w *Worker) refreshLoop(ctx context.Context) {
	defer w.wg.Done()

	// Let in-flight ingest settle before the first full listing
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.initialGrace):
	}

	for {
		if err := w.runRefresh(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().
				Err(err).
				Str("config_id", w.config.ID).
				Msg("Periodic refresh failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.RefreshInterval()):
		}
	}
}

func (w *Worker) runRefresh(ctx context.Context) error {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	if err := w.configStore.UpdateSyncStatus(ctx, w.config.ID, models.SyncStatusSyncing, nil, ""); err != nil {
		return fmt.Errorf("failed to mark %s syncing: %w", w.config.ID, err)
	}

	maxOrdinal, err := w.engine.PeriodicRefresh(ctx, w.detector)
	if err != nil {
		if statusErr := w.configStore.UpdateSyncStatus(ctx, w.config.ID, models.SyncStatusError, nil, err.Error()); statusErr != nil {
			w.logger.Warn().Err(statusErr).Str("config_id", w.config.ID).Msg("Failed to record refresh error")
		}
		return err
	}

	var ordinal *int64
	if maxOrdinal > 0 {
		ordinal = &maxOrdinal
	}
	if err := w.configStore.UpdateSyncStatus(ctx, w.config.ID, models.SyncStatusIdle, ordinal, ""); err != nil {
		return fmt.Errorf("failed to mark %s idle: %w", w.config.ID, err)
	}

	return nil
}

func (w *Worker) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	changes := w.detector.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-changes:
			if !ok {
				return
			}
			switch sig.Kind {
			case models.SignalIdle:
				continue
			case models.SignalEnd:
				w.logger.Info().Str("config_id", w.config.ID).Msg("Change stream ended")
				return
			case models.SignalChange:
				if err := w.engine.ProcessEvent(ctx, w.detector, sig.Event, false); err != nil {
					w.logger.Warn().
						Err(err).
						Str("config_id", w.config.ID).
						Msg("Event processing failed")
					select {
					case <-ctx.Done():
						return
					case <-time.After(eventErrorPause):
					}
				}
			}
		}
	}
}
