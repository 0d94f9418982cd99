package targets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/models"
	"github.com/ternarybob/concordia/internal/storage/sqlite"
)

func parsedDoc(docID, text string) *models.ParsedDocument {
	return &models.ParsedDocument{
		ID:   docID,
		Text: text,
		Meta: models.ParsedDocumentMeta{
			DocID:      docID,
			Path:       "/data/" + docID,
			SourceType: models.SourceTypeFilesystem,
			Ordinal:    models.OrdinalNow(),
		},
	}
}

func newTestSearchTarget(t *testing.T) *SearchTarget {
	t.Helper()

	cfg := &common.SQLiteConfig{
		Path:    filepath.Join(t.TempDir(), "search.db"),
		WALMode: true,
	}
	m, err := sqlite.NewManager(common.GetLogger(), cfg, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return NewSearchTarget(m.DB().DB(), common.GetLogger())
}

func newTestBadgerDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSearchTargetUpsertAndMatch(t *testing.T) {
	target := newTestSearchTarget(t)
	ctx := context.Background()

	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "the quarterly revenue report")))
	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc2", "meeting notes about staffing")))

	held, err := target.Contains(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.True(t, held)

	results, err := target.Search(ctx, "revenue", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cfg:doc1", results[0].DocID)

	// Upsert replaces content; the old text must stop matching
	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "annual projections")))
	results, err = target.Search(ctx, "revenue", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = target.Search(ctx, "projections", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchTargetDeleteIsIdempotent(t *testing.T) {
	target := newTestSearchTarget(t)
	ctx := context.Background()

	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "transient content")))
	require.NoError(t, target.Delete(ctx, "cfg:doc1"))
	require.NoError(t, target.Delete(ctx, "cfg:doc1"))
	require.NoError(t, target.Delete(ctx, "cfg:never-existed"))

	held, err := target.Contains(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.False(t, held)

	results, err := target.Search(ctx, "transient", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorTargetRoundTrip(t *testing.T) {
	db := newTestBadgerDB(t)
	target := NewVectorTarget(db, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "first version")))
	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "second version")))

	doc, err := target.Get(ctx, "cfg:doc1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "second version", doc.Text)

	count, err := target.CountBySourceType(ctx, models.SourceTypeFilesystem)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, target.Delete(ctx, "cfg:doc1"))
	require.NoError(t, target.Delete(ctx, "cfg:doc1"))

	doc, err = target.Get(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	held, err := target.Contains(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.False(t, held)
}

// staticExtractor returns fixed triples for any input
type staticExtractor struct {
	entities  []models.GraphEntity
	relations []models.GraphRelation
}

func (e staticExtractor) Extract(ctx context.Context, docID, text string) ([]models.GraphEntity, []models.GraphRelation, error) {
	return e.entities, e.relations, nil
}

func TestGraphTargetCoDeletesByDocID(t *testing.T) {
	db := newTestBadgerDB(t)
	extractor := staticExtractor{
		entities: []models.GraphEntity{
			{Name: "Acme Corp", Type: "organization"},
			{Name: "Jordan Li", Type: "person", Properties: map[string]string{"role": "cfo"}},
		},
		relations: []models.GraphRelation{
			{From: "Jordan Li", To: "Acme Corp", Type: "works_for"},
		},
	}
	target := NewGraphTarget(db, extractor, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "ignored by the static extractor")))

	nodes, err := target.NodesForDocument(ctx, "cfg:doc1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, node := range nodes {
		assert.Equal(t, "cfg:doc1", node.Properties["doc_id"])
	}

	held, err := target.Contains(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, target.Delete(ctx, "cfg:doc1"))
	require.NoError(t, target.Delete(ctx, "cfg:doc1"))

	nodes, err = target.NodesForDocument(ctx, "cfg:doc1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestGraphTargetUpsertReplacesContribution(t *testing.T) {
	db := newTestBadgerDB(t)
	target := NewGraphTarget(db, staticExtractor{
		entities: []models.GraphEntity{{Name: "Old Entity", Type: "concept"}},
	}, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, target.Upsert(ctx, parsedDoc("cfg:doc1", "v1")))

	replacement := NewGraphTarget(db, staticExtractor{
		entities: []models.GraphEntity{{Name: "New Entity", Type: "concept"}},
	}, common.GetLogger())
	require.NoError(t, replacement.Upsert(ctx, parsedDoc("cfg:doc1", "v2")))

	nodes, err := target.NodesForDocument(ctx, "cfg:doc1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "New Entity", nodes[0].Name)
}
