package detectors

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// defaultMailboxSize bounds a detector's signal channel when the caller
// does not configure one
const defaultMailboxSize = 256

// base carries the state and behavior shared by every detector variant:
// the known-ids set seeded at start, the bounded signal channel, the
// per-source debounce window, and the event-to-action mapping.
type base struct {
	logger   arbor.ILogger
	config   *models.DataSourceConfig
	reingest interfaces.ReingestFunc

	signals  chan models.DetectorSignal
	debounce *debouncer

	knownMu sync.Mutex
	known   map[string]struct{}

	// startTime fences change-feed events when no durable cursor exists,
	// otherwise a restart would replay all history
	startTime time.Time

	stopOnce sync.Once
	done     chan struct{}
}

func newBase(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc, debounceWindow time.Duration) *base {
	return &base{
		logger:   logger,
		config:   config,
		reingest: reingest,
		signals:  make(chan models.DetectorSignal, defaultMailboxSize),
		debounce: newDebouncer(debounceWindow),
		known:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// markStarted records the fence point and must be called before the
// detector subscribes to its event source
func (b *base) markStarted() {
	b.startTime = time.Now()
}

// fresh reports whether an event timestamp is at or after detector start
func (b *base) fresh(eventTime time.Time) bool {
	return !eventTime.Before(b.startTime)
}

// seedKnown replaces the known-ids set from a full listing
func (b *base) seedKnown(metas []models.FileMetadata) {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()

	b.known = make(map[string]struct{}, len(metas))
	for i := range metas {
		b.known[knownKey(&metas[i])] = struct{}{}
	}
}

func (b *base) isKnown(id string) bool {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()
	_, ok := b.known[id]
	return ok
}

func (b *base) addKnown(id string) {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()
	b.known[id] = struct{}{}
}

func (b *base) removeKnown(id string) {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()
	delete(b.known, id)
}

// knownIDs snapshots the known-ids set for listing diffs
func (b *base) knownIDs() []string {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()

	ids := make([]string, 0, len(b.known))
	for id := range b.known {
		ids = append(ids, id)
	}
	return ids
}

func (b *base) knownCount() int {
	b.knownMu.Lock()
	defer b.knownMu.Unlock()
	return len(b.known)
}

// knownKey prefers the source-native id over the stable path
func knownKey(meta *models.FileMetadata) string {
	if id := meta.SourceID(); id != "" {
		return id
	}
	return meta.Path
}

// Changes returns the detector's signal channel
func (b *base) Changes() <-chan models.DetectorSignal {
	return b.signals
}

// closeSignals closes the signal channel exactly once
func (b *base) closeSignals() {
	b.stopOnce.Do(func() {
		close(b.done)
		close(b.signals)
	})
}

// stopped reports whether Stop has been requested
func (b *base) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// publish delivers a signal without blocking; a full mailbox drops the
// signal and logs it
func (b *base) publish(sig models.DetectorSignal) {
	if b.stopped() {
		return
	}
	select {
	case b.signals <- sig:
	default:
		b.logger.Warn().
			Str("config_id", b.config.ID).
			Str("source_type", b.config.Type).
			Msg("Detector mailbox full, dropping event")
	}
}

// publishIdle emits the no-event-this-tick sentinel so the consumer can
// check cancellation between source polls
func (b *base) publishIdle() {
	b.publish(models.DetectorSignal{Kind: models.SignalIdle})
}

// dispatch applies the shared event-to-action mapping:
//   - DELETE passes through to the consumer;
//   - CREATE of an unknown id ingests the document through the backend;
//   - CREATE/UPDATE of a known id synthesizes the DELETE half of a MODIFY
//     pair whose Reingest callback re-ingests the document;
//   - UPDATE of an unknown id is treated as CREATE.
func (b *base) dispatch(ctx context.Context, changeType models.ChangeType, meta models.FileMetadata) {
	id := knownKey(&meta)

	if changeType == models.ChangeDelete {
		b.removeKnown(id)
		b.debounce.forget(id)
		b.publish(models.DetectorSignal{
			Kind: models.SignalChange,
			Event: &models.ChangeEvent{
				Type:      models.ChangeDelete,
				Metadata:  meta,
				Timestamp: time.Now(),
			},
		})
		return
	}

	// Sources emit several events per logical change; only the first within
	// the window is processed
	if !b.debounce.allow(id) {
		b.logger.Debug().
			Str("config_id", b.config.ID).
			Str("id", id).
			Msg("Event dropped by debounce window")
		return
	}

	if !b.isKnown(id) {
		// True CREATE: ingest through the full parse+index pipeline
		b.addKnown(id)
		if err := b.reingest(ctx, meta); err != nil {
			b.logger.Warn().
				Err(err).
				Str("config_id", b.config.ID).
				Str("path", meta.Path).
				Msg("Failed to ingest new document")
		}
		return
	}

	// MODIFY masquerading as CREATE/UPDATE: delete-then-reinsert
	reingestMeta := meta
	b.publish(models.DetectorSignal{
		Kind: models.SignalChange,
		Event: &models.ChangeEvent{
			Type:           models.ChangeDelete,
			Metadata:       meta,
			Timestamp:      time.Now(),
			IsModifyDelete: true,
			Reingest: func(ctx context.Context) error {
				return b.reingest(ctx, reingestMeta)
			},
		},
	})
}
