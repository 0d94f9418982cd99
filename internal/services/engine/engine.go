package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// Engine reconciles one config's documents across the index targets and
// the state store. It holds no background task; the owning worker invokes
// it synchronously for events and refreshes.
type Engine struct {
	logger    arbor.ILogger
	state     interfaces.StateStorage
	processor interfaces.DocumentProcessor
	targets   []interfaces.IndexTarget
	configID  string
}

// New creates an engine for one config. Disabled targets (globally or via
// skip_graph) are passed as nil and filtered out here.
func New(logger arbor.ILogger, state interfaces.StateStorage, processor interfaces.DocumentProcessor, configID string, targets ...interfaces.IndexTarget) *Engine {
	enabled := make([]interfaces.IndexTarget, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			enabled = append(enabled, t)
		}
	}
	return &Engine{
		logger:    logger,
		state:     state,
		processor: processor,
		targets:   enabled,
		configID:  configID,
	}
}

// ProcessEvent applies one change event. fromRefresh marks events
// synthesized by the periodic refresh, which defer to the event stream
// for brand-new documents. Per-document target failures are logged, not
// returned; only state-store failures propagate.
func (e *Engine) ProcessEvent(ctx context.Context, detector interfaces.ChangeDetector, event *models.ChangeEvent, fromRefresh bool) error {
	if event == nil {
		return nil
	}

	switch event.Type {
	case models.ChangeDelete:
		return e.processDelete(ctx, detector, event)
	case models.ChangeCreate, models.ChangeUpdate:
		return e.processUpsert(ctx, detector, event, fromRefresh)
	default:
		return fmt.Errorf("unknown change type: %s", event.Type)
	}
}

// IngestFile runs the full load-parse-index pipeline for one document.
// Detectors reach this through their injected ReingestFunc.
func (e *Engine) IngestFile(ctx context.Context, detector interfaces.ChangeDetector, meta models.FileMetadata) error {
	prior, err := e.lookupState(ctx, meta)
	if err != nil {
		return err
	}
	return e.ingest(ctx, detector, meta, prior)
}

func (e *Engine) processDelete(ctx context.Context, detector interfaces.ChangeDetector, event *models.ChangeEvent) error {
	st, err := e.lookupState(ctx, event.Metadata)
	if err != nil {
		return err
	}
	if st == nil {
		e.logger.Debug().
			Str("config_id", e.configID).
			Str("path", event.Metadata.Path).
			Msg("Delete for untracked document, nothing to do")
		return e.finishModify(ctx, event)
	}

	key := e.deleteKey(detector, st)
	for _, target := range e.targets {
		if err := target.Delete(ctx, key); err != nil {
			e.logger.Warn().
				Err(err).
				Str("config_id", e.configID).
				Str("target", string(target.Name())).
				Str("doc_id", st.DocID).
				Msg("Target delete failed")
		}
	}

	if err := e.state.MarkDeleted(ctx, st.DocID); err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", st.DocID, err)
	}

	e.logger.Info().
		Str("config_id", e.configID).
		Str("doc_id", st.DocID).
		Bool("modify", event.IsModifyDelete).
		Msg("Document removed from targets")

	return e.finishModify(ctx, event)
}

// finishModify runs the deferred insert half of a MODIFY pair
func (e *Engine) finishModify(ctx context.Context, event *models.ChangeEvent) error {
	if !event.IsModifyDelete || event.Reingest == nil {
		return nil
	}
	if err := event.Reingest(ctx); err != nil {
		e.logger.Warn().
			Err(err).
			Str("config_id", e.configID).
			Str("path", event.Metadata.Path).
			Msg("Re-ingest after modify-delete failed")
	}
	return nil
}

func (e *Engine) processUpsert(ctx context.Context, detector interfaces.ChangeDetector, event *models.ChangeEvent, fromRefresh bool) error {
	meta := event.Metadata

	prior, err := e.lookupState(ctx, meta)
	if err != nil {
		return err
	}

	// Identical source timestamp means identical bytes; a rename or
	// permission change surfaces this way. Only the ordinal moves.
	// The store truncates to microseconds, compare at that precision
	if prior != nil && prior.ModifiedTimestamp != nil && meta.ModifiedTimestamp != nil &&
		prior.ModifiedTimestamp.UnixMicro() == meta.ModifiedTimestamp.UnixMicro() {
		if err := e.state.UpdateOrdinal(ctx, prior.DocID, meta.Ordinal); err != nil {
			return err
		}
		return e.repairTargets(ctx, detector, meta, prior)
	}

	// A refresh racing the event stream over a brand-new document yields
	// to the stream, which ingests inline. The filesystem watcher is too
	// lossy to be trusted with that.
	if fromRefresh && prior == nil && detector.HasChangeStream() &&
		detector.SourceType() != models.SourceTypeFilesystem {
		e.logger.Debug().
			Str("config_id", e.configID).
			Str("path", meta.Path).
			Msg("Skipping refresh event for new document, event stream owns it")
		return nil
	}

	return e.ingest(ctx, detector, meta, prior)
}

func (e *Engine) ingest(ctx context.Context, detector interfaces.ChangeDetector, meta models.FileMetadata, prior *models.DocumentState) error {
	docID := e.docID(meta)

	content, err := detector.LoadFile(ctx, meta)
	if err != nil {
		// The document may have vanished between event and load; the next
		// refresh reconciles
		e.logger.Warn().
			Err(err).
			Str("config_id", e.configID).
			Str("path", meta.Path).
			Msg("Failed to load document, skipping")
		return nil
	}

	text := strings.ToValidUTF8(string(content), "�")
	hash := contentHash(text)

	process, reason, err := e.state.ShouldProcess(ctx, docID, meta.Ordinal, hash)
	if err != nil {
		return err
	}
	if !process {
		e.logger.Debug().
			Str("config_id", e.configID).
			Str("doc_id", docID).
			Str("reason", reason).
			Msg("Skipping document")
		return e.repairTargets(ctx, detector, meta, prior)
	}

	docs, err := e.processor.Process(ctx, []byte(text), models.ParsedDocumentMeta{
		DocID:      docID,
		Path:       meta.Path,
		SourceType: meta.SourceType,
		Ordinal:    meta.Ordinal,
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("config_id", e.configID).
			Str("doc_id", docID).
			Msg("Failed to parse document, skipping")
		return nil
	}

	// Old content must be gone from every target before the new content
	// lands anywhere, so no target ever serves both
	if e.targetsMayHold(ctx, docID, prior) {
		for _, target := range e.targets {
			if err := target.Delete(ctx, docID); err != nil {
				e.logger.Warn().
					Err(err).
					Str("target", string(target.Name())).
					Str("doc_id", docID).
					Msg("Pre-insert delete failed")
			}
		}
	}

	st := &models.DocumentState{
		DocID:             docID,
		ConfigID:          e.configID,
		SourcePath:        meta.Path,
		SourceID:          meta.SourceID(),
		Ordinal:           meta.Ordinal,
		ContentHash:       hash,
		ModifiedTimestamp: meta.ModifiedTimestamp,
	}
	if err := e.state.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to save state for %s: %w", docID, err)
	}

	e.upsertTargets(ctx, docID, docs, e.targets)

	e.logger.Info().
		Str("config_id", e.configID).
		Str("doc_id", docID).
		Int("parts", len(docs)).
		Msg("Document ingested")

	return nil
}

// repairTargets upserts a document into targets whose synced-at column is
// still empty, recovering from an earlier partial failure without
// touching the targets that already succeeded
func (e *Engine) repairTargets(ctx context.Context, detector interfaces.ChangeDetector, meta models.FileMetadata, prior *models.DocumentState) error {
	docID := e.docID(meta)

	st := prior
	if st == nil || st.DocID != docID {
		var err error
		st, err = e.state.Get(ctx, docID)
		if err != nil {
			return err
		}
	}
	if st == nil {
		return nil
	}

	var missing []interfaces.IndexTarget
	for _, target := range e.targets {
		if st.SyncedAt(target.Name()) == nil {
			missing = append(missing, target)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	content, err := detector.LoadFile(ctx, meta)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("config_id", e.configID).
			Str("doc_id", docID).
			Msg("Failed to load document for target repair")
		return nil
	}
	text := strings.ToValidUTF8(string(content), "�")

	docs, err := e.processor.Process(ctx, []byte(text), models.ParsedDocumentMeta{
		DocID:      docID,
		Path:       meta.Path,
		SourceType: meta.SourceType,
		Ordinal:    st.Ordinal,
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("config_id", e.configID).
			Str("doc_id", docID).
			Msg("Failed to parse document for target repair")
		return nil
	}

	e.upsertTargets(ctx, docID, docs, missing)
	return nil
}

// upsertTargets writes the parsed parts into each target, marking each
// synced independently so partial success leaves a truthful record
func (e *Engine) upsertTargets(ctx context.Context, docID string, docs []*models.ParsedDocument, targets []interfaces.IndexTarget) {
	for _, target := range targets {
		failed := false
		for _, doc := range docs {
			if err := target.Upsert(ctx, doc); err != nil {
				failed = true
				e.logger.Warn().
					Err(err).
					Str("config_id", e.configID).
					Str("target", string(target.Name())).
					Str("doc_id", docID).
					Msg("Target upsert failed")
				break
			}
		}
		if failed {
			continue
		}
		if err := e.state.MarkTargetSynced(ctx, docID, target.Name()); err != nil {
			e.logger.Warn().
				Err(err).
				Str("target", string(target.Name())).
				Str("doc_id", docID).
				Msg("Failed to record target sync")
		}
	}
}

// lookupState resolves prior state by source-native id first, then by
// the computed doc id
func (e *Engine) lookupState(ctx context.Context, meta models.FileMetadata) (*models.DocumentState, error) {
	if sourceID := meta.SourceID(); sourceID != "" {
		st, err := e.state.GetBySourceID(ctx, e.configID, sourceID)
		if err != nil {
			return nil, err
		}
		if st != nil {
			return st, nil
		}
	}
	return e.state.Get(ctx, e.docID(meta))
}

// deleteKey picks the identifier handed to targets on delete. Stable-form
// doc ids win; legacy rows keyed on a bare source id fall back to that.
// Filesystem rows are always stable.
func (e *Engine) deleteKey(detector interfaces.ChangeDetector, st *models.DocumentState) string {
	if detector != nil && detector.SourceType() == models.SourceTypeFilesystem {
		return st.DocID
	}
	if common.IsStableDocID(st.DocID, e.configID) {
		return st.DocID
	}
	if st.SourceID != "" {
		return st.SourceID
	}
	return st.DocID
}

// targetsMayHold reports whether any target might already store this doc,
// from the state row's per-target timestamps or a vector-side probe when
// one is available
func (e *Engine) targetsMayHold(ctx context.Context, docID string, prior *models.DocumentState) bool {
	if prior != nil {
		for _, target := range e.targets {
			if prior.SyncedAt(target.Name()) != nil {
				return true
			}
		}
	}
	for _, target := range e.targets {
		prober, ok := target.(interfaces.ContainsProber)
		if !ok {
			continue
		}
		held, err := prober.Contains(ctx, docID)
		if err == nil && held {
			return true
		}
	}
	return false
}

func (e *Engine) docID(meta models.FileMetadata) string {
	return common.MakeDocID(e.configID, meta.Path)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
