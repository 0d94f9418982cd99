package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

// PeriodicRefresh reconciles the full source inventory against the state
// store: present items become synthesized UPDATE events, tracked items
// missing from the inventory become DELETE events. Returns the maximum
// ordinal observed. Per-document failures are logged and the batch
// continues.
func (e *Engine) PeriodicRefresh(ctx context.Context, detector interfaces.ChangeDetector) (int64, error) {
	listing, err := detector.ListAllFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source inventory: %w", err)
	}

	states, err := e.state.GetAllForConfig(ctx, e.configID)
	if err != nil {
		return 0, fmt.Errorf("failed to load state for %s: %w", e.configID, err)
	}

	sourceIDs := make(map[string]struct{}, len(listing))
	docIDs := make(map[string]struct{}, len(listing))
	var maxOrdinal int64

	for i := range listing {
		meta := listing[i]
		if id := meta.SourceID(); id != "" {
			sourceIDs[id] = struct{}{}
		}
		docIDs[e.docID(meta)] = struct{}{}
		if meta.Ordinal > maxOrdinal {
			maxOrdinal = meta.Ordinal
		}

		event := &models.ChangeEvent{
			Type:      models.ChangeUpdate,
			Metadata:  meta,
			Timestamp: time.Now(),
		}
		if err := e.ProcessEvent(ctx, detector, event, true); err != nil {
			e.logger.Warn().
				Err(err).
				Str("config_id", e.configID).
				Str("path", meta.Path).
				Msg("Refresh failed for document")
		}

		if ctx.Err() != nil {
			return maxOrdinal, ctx.Err()
		}
	}

	for _, st := range states {
		if _, ok := docIDs[st.DocID]; ok {
			continue
		}
		if st.SourceID != "" {
			if _, ok := sourceIDs[st.SourceID]; ok {
				continue
			}
		}

		meta := models.FileMetadata{
			SourceType: detector.SourceType(),
			Path:       st.SourcePath,
			Ordinal:    models.OrdinalNow(),
		}
		if st.SourceID != "" {
			meta.SetSourceID(st.SourceID)
		}

		event := &models.ChangeEvent{
			Type:      models.ChangeDelete,
			Metadata:  meta,
			Timestamp: time.Now(),
		}
		if err := e.ProcessEvent(ctx, detector, event, true); err != nil {
			e.logger.Warn().
				Err(err).
				Str("config_id", e.configID).
				Str("doc_id", st.DocID).
				Msg("Refresh delete failed for document")
		}

		if ctx.Err() != nil {
			return maxOrdinal, ctx.Err()
		}
	}

	return maxOrdinal, nil
}
