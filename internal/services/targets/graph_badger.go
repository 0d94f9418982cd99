package targets

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// GraphNode is one extracted entity. DocID is indexed so every node from
// a document can be co-deleted with it.
type GraphNode struct {
	Key        string `badgerhold:"key"` // <doc_id>#<entity_name>
	DocID      string `badgerhold:"index"`
	Name       string
	Type       string
	Properties map[string]string
	UpdatedAt  time.Time
}

// GraphEdge is one extracted relation, scoped to its source document
type GraphEdge struct {
	Key       string `badgerhold:"key"` // <doc_id>#<from>-><to>#<type>
	DocID     string `badgerhold:"index"`
	From      string
	To        string
	Type      string
	UpdatedAt time.Time
}

// GraphTarget is the knowledge-graph index target backed by Badger. The
// extractor runs on upsert; its entities and relations replace whatever
// the document previously contributed.
type GraphTarget struct {
	db        *BadgerDB
	extractor interfaces.EntityExtractor
	logger    arbor.ILogger
}

// NewGraphTarget creates the graph target on an open Badger store
func NewGraphTarget(db *BadgerDB, extractor interfaces.EntityExtractor, logger arbor.ILogger) *GraphTarget {
	return &GraphTarget{db: db, extractor: extractor, logger: logger}
}

// Name identifies this target in state-store timestamp columns
func (t *GraphTarget) Name() models.SyncTarget {
	return models.TargetGraph
}

// Upsert extracts entities and relations from the document text and
// replaces the document's previous graph contribution
func (t *GraphTarget) Upsert(ctx context.Context, doc *models.ParsedDocument) error {
	docID := doc.Meta.DocID

	entities, relations, err := t.extractor.Extract(ctx, docID, doc.Text)
	if err != nil {
		return fmt.Errorf("entity extraction failed for %s: %w", docID, err)
	}

	if err := t.Delete(ctx, docID); err != nil {
		return err
	}

	now := time.Now()
	for _, entity := range entities {
		properties := make(map[string]string, len(entity.Properties)+1)
		for k, v := range entity.Properties {
			properties[k] = v
		}
		// The doc id rides on every node so co-deletion never needs the
		// extractor again
		properties["doc_id"] = docID

		node := &GraphNode{
			Key:        docID + "#" + entity.Name,
			DocID:      docID,
			Name:       entity.Name,
			Type:       entity.Type,
			Properties: properties,
			UpdatedAt:  now,
		}
		if err := t.db.Store().Upsert(node.Key, node); err != nil {
			return fmt.Errorf("failed to store graph node %s: %w", node.Key, err)
		}
	}

	for _, relation := range relations {
		edge := &GraphEdge{
			Key:       fmt.Sprintf("%s#%s->%s#%s", docID, relation.From, relation.To, relation.Type),
			DocID:     docID,
			From:      relation.From,
			To:        relation.To,
			Type:      relation.Type,
			UpdatedAt: now,
		}
		if err := t.db.Store().Upsert(edge.Key, edge); err != nil {
			return fmt.Errorf("failed to store graph edge %s: %w", edge.Key, err)
		}
	}

	t.logger.Debug().
		Str("doc_id", docID).
		Int("entities", len(entities)).
		Int("relations", len(relations)).
		Msg("Graph contribution updated")

	return nil
}

// Delete removes everything a document contributed to the graph
func (t *GraphTarget) Delete(ctx context.Context, docID string) error {
	if err := t.db.Store().DeleteMatching(&GraphNode{}, badgerhold.Where("DocID").Eq(docID)); err != nil {
		return fmt.Errorf("failed to delete graph nodes for %s: %w", docID, err)
	}
	if err := t.db.Store().DeleteMatching(&GraphEdge{}, badgerhold.Where("DocID").Eq(docID)); err != nil {
		return fmt.Errorf("failed to delete graph edges for %s: %w", docID, err)
	}
	return nil
}

// Contains reports whether a document contributed any graph nodes
func (t *GraphTarget) Contains(ctx context.Context, docID string) (bool, error) {
	count, err := t.db.Store().Count(&GraphNode{}, badgerhold.Where("DocID").Eq(docID))
	if err != nil {
		return false, fmt.Errorf("failed to probe graph nodes for %s: %w", docID, err)
	}
	return count > 0, nil
}

// NodesForDocument lists a document's graph nodes
func (t *GraphTarget) NodesForDocument(ctx context.Context, docID string) ([]GraphNode, error) {
	var nodes []GraphNode
	if err := t.db.Store().Find(&nodes, badgerhold.Where("DocID").Eq(docID)); err != nil {
		return nil, fmt.Errorf("failed to list graph nodes for %s: %w", docID, err)
	}
	return nodes, nil
}
