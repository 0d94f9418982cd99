package processing

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/models"
)

// maxDocumentBytes bounds what a single document may feed into the
// targets; oversized inputs are truncated at a rune boundary, not rejected
const maxDocumentBytes = 4 << 20

// PlaintextProcessor is the default DocumentProcessor: it treats every
// input as UTF-8 text, repairing invalid sequences with the replacement
// rune. Binary formats come through as replacement-heavy text rather than
// failing the pipeline.
type PlaintextProcessor struct {
	logger arbor.ILogger
}

// NewPlaintextProcessor creates the plaintext processor
func NewPlaintextProcessor(logger arbor.ILogger) *PlaintextProcessor {
	return &PlaintextProcessor{logger: logger}
}

// Process emits one parsed document carrying the repaired text
func (p *PlaintextProcessor) Process(ctx context.Context, content []byte, meta models.ParsedDocumentMeta) ([]*models.ParsedDocument, error) {
	if meta.DocID == "" {
		return nil, fmt.Errorf("document metadata is missing a doc id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(content) > maxDocumentBytes {
		p.logger.Warn().
			Str("doc_id", meta.DocID).
			Int("size", len(content)).
			Msg("Document truncated to size limit")
		content = truncateAtRune(content, maxDocumentBytes)
	}

	text := strings.ToValidUTF8(string(content), "�")
	text = strings.TrimSpace(text)

	return []*models.ParsedDocument{{
		ID:   meta.DocID,
		Text: text,
		Meta: meta,
	}}, nil
}

// truncateAtRune cuts at the last complete rune at or before limit
func truncateAtRune(content []byte, limit int) []byte {
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
