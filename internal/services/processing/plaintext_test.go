package processing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/models"
)

func testMeta() models.ParsedDocumentMeta {
	return models.ParsedDocumentMeta{
		DocID:      "cfg:/data/a.txt",
		Path:       "/data/a.txt",
		SourceType: models.SourceTypeFilesystem,
		Ordinal:    models.OrdinalNow(),
	}
}

func TestProcessPassesTextThrough(t *testing.T) {
	p := NewPlaintextProcessor(common.GetLogger())

	docs, err := p.Process(context.Background(), []byte("  hello world\n"), testMeta())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hello world", docs[0].Text)
	assert.Equal(t, "cfg:/data/a.txt", docs[0].ID)
}

func TestProcessRepairsInvalidUTF8(t *testing.T) {
	p := NewPlaintextProcessor(common.GetLogger())

	docs, err := p.Process(context.Background(), []byte{'o', 'k', 0xff, 0xfe, '!'}, testMeta())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.True(t, strings.HasPrefix(docs[0].Text, "ok"))
	assert.Contains(t, docs[0].Text, "�")
}

func TestProcessRequiresDocID(t *testing.T) {
	p := NewPlaintextProcessor(common.GetLogger())

	meta := testMeta()
	meta.DocID = ""
	_, err := p.Process(context.Background(), []byte("text"), meta)
	assert.Error(t, err)
}

func TestTruncateAtRune(t *testing.T) {
	// "héllo" — the é is two bytes; cutting mid-rune must back off
	content := []byte("h\xc3\xa9llo")
	assert.Equal(t, []byte("h"), truncateAtRune(content, 2))
	assert.Equal(t, []byte("h\xc3\xa9"), truncateAtRune(content, 3))
}
