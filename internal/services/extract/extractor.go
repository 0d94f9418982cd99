package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/models"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
	requestTimeout   = 60 * time.Second

	// Extraction works on a bounded prefix; graph quality degrades little
	// past this and token cost grows linearly
	maxTextChars = 24000
)

const systemPrompt = `You extract a knowledge graph from document text.
Return ONLY a JSON object with two arrays:
{"entities": [{"name": "...", "type": "...", "properties": {"...": "..."}}],
 "relations": [{"from": "...", "to": "...", "type": "..."}]}
Entity types: person, organization, location, product, concept, event.
Relation "from" and "to" must be entity names from the entities array.
No prose, no markdown fences.`

// ClaudeExtractor produces knowledge-graph triples with the Anthropic API
type ClaudeExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    arbor.ILogger
}

// NewClaudeExtractor creates an extractor from config. An empty API key is
// an error; callers wanting no graph extraction pass a nil extractor and
// disable the graph target instead.
func NewClaudeExtractor(config *common.ExtractorConfig, logger arbor.ILogger) (*ClaudeExtractor, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("entity extractor requires an API key (set ANTHROPIC_API_KEY or extractor.api_key)")
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}

	return &ClaudeExtractor{
		client:    anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    logger,
	}, nil
}

type extractionPayload struct {
	Entities []struct {
		Name       string            `json:"name"`
		Type       string            `json:"type"`
		Properties map[string]string `json:"properties"`
	} `json:"entities"`
	Relations []struct {
		From string `json:"from"`
		To   string `json:"to"`
		Type string `json:"type"`
	} `json:"relations"`
}

// Extract runs one extraction call and decodes the structured result
func (e *ClaudeExtractor) Extract(ctx context.Context, docID, text string) ([]models.GraphEntity, []models.GraphRelation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, nil
	}
	if len(text) > maxTextChars {
		text = text[:maxTextChars]
	}

	callCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: int64(e.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extraction call failed for %s: %w", docID, err)
	}

	var raw strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}

	entities, relations, err := decodeExtraction(raw.String())
	if err != nil {
		return nil, nil, fmt.Errorf("undecodable extraction for %s: %w", docID, err)
	}

	e.logger.Debug().
		Str("doc_id", docID).
		Int("entities", len(entities)).
		Int("relations", len(relations)).
		Dur("duration", time.Since(start)).
		Msg("Entity extraction completed")

	return entities, relations, nil
}

// decodeExtraction parses the model output, tolerating stray markdown
// fences despite the prompt
func decodeExtraction(raw string) ([]models.GraphEntity, []models.GraphRelation, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, nil, err
	}

	entities := make([]models.GraphEntity, 0, len(payload.Entities))
	for _, raw := range payload.Entities {
		if raw.Name == "" {
			continue
		}
		entities = append(entities, models.GraphEntity{
			Name:       raw.Name,
			Type:       raw.Type,
			Properties: raw.Properties,
		})
	}

	relations := make([]models.GraphRelation, 0, len(payload.Relations))
	for _, raw := range payload.Relations {
		if raw.From == "" || raw.To == "" {
			continue
		}
		relations = append(relations, models.GraphRelation{
			From: raw.From,
			To:   raw.To,
			Type: raw.Type,
		})
	}

	return entities, relations, nil
}
