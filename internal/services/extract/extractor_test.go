package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/concordia/internal/common"
)

func TestDecodeExtraction(t *testing.T) {
	raw := `{"entities": [{"name": "Acme", "type": "organization", "properties": {"sector": "widgets"}}],
		"relations": [{"from": "Acme", "to": "Widgetville", "type": "located_in"}]}`

	entities, relations, err := decodeExtraction(raw)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme", entities[0].Name)
	assert.Equal(t, "widgets", entities[0].Properties["sector"])
	require.Len(t, relations, 1)
	assert.Equal(t, "located_in", relations[0].Type)
}

func TestDecodeExtractionStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"entities\": [{\"name\": \"X\", \"type\": \"concept\"}], \"relations\": []}\n```"

	entities, relations, err := decodeExtraction(raw)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Empty(t, relations)
}

func TestDecodeExtractionDropsUnnamedTriples(t *testing.T) {
	raw := `{"entities": [{"name": "", "type": "concept"}, {"name": "Kept", "type": "concept"}],
		"relations": [{"from": "", "to": "Kept", "type": "refers_to"}]}`

	entities, relations, err := decodeExtraction(raw)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Kept", entities[0].Name)
	assert.Empty(t, relations)
}

func TestDecodeExtractionRejectsProse(t *testing.T) {
	_, _, err := decodeExtraction("Here are the entities I found:")
	assert.Error(t, err)
}

func TestNewClaudeExtractorRequiresAPIKey(t *testing.T) {
	_, err := NewClaudeExtractor(&common.ExtractorConfig{}, common.GetLogger())
	assert.Error(t, err)

	e, err := NewClaudeExtractor(&common.ExtractorConfig{APIKey: "sk-test"}, common.GetLogger())
	require.NoError(t, err)
	assert.Equal(t, defaultModel, e.model)
}
