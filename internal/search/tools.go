package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/llm"
	"pkdindustries/voicerag/internal/tools"
)

// keyPattern matches the chunk identifiers the index issues. Anything else the
// model reports as a source is dropped before it reaches a query.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_=\-]+$`)

// Fields names the index fields the tools read.
type Fields struct {
	Identifier string
	Content    string
	Embedding  string
	Title      string
}

// DefaultFields matches the layout produced by the ingestion pipeline.
func DefaultFields() Fields {
	return Fields{
		Identifier: "chunk_id",
		Content:    "chunk",
		Embedding:  "text_vector",
		Title:      "title",
	}
}

// Searcher runs a query body and returns its hits.
type Searcher interface {
	Search(ctx context.Context, body map[string]any) ([]Hit, error)
}

// KnowledgeBase backs the search and report_grounding tools.
type KnowledgeBase struct {
	searcher       Searcher
	fields         Fields
	topK           int
	embedder       llm.Embedder
	embeddingModel string
	logger         *zap.SugaredLogger
}

type Option func(*KnowledgeBase)

// WithVectorQuery adds a k-NN clause on the embedding field, embedding each
// query with model.
func WithVectorQuery(embedder llm.Embedder, model string) Option {
	return func(kb *KnowledgeBase) {
		kb.embedder = embedder
		kb.embeddingModel = model
	}
}

func WithTopK(k int) Option {
	return func(kb *KnowledgeBase) {
		if k > 0 {
			kb.topK = k
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(kb *KnowledgeBase) { kb.logger = logger }
}

func NewKnowledgeBase(searcher Searcher, fields Fields, opts ...Option) *KnowledgeBase {
	kb := &KnowledgeBase{
		searcher: searcher,
		fields:   fields,
		topK:     5,
	}
	for _, opt := range opts {
		opt(kb)
	}
	if kb.logger == nil {
		kb.logger = core.GetLogger()
	}
	return kb
}

// Register adds the search and report_grounding tools to reg.
func (kb *KnowledgeBase) Register(reg *tools.Registry) error {
	if err := reg.Register("search", SearchTool(), kb.search); err != nil {
		return err
	}
	return reg.Register("report_grounding", GroundingTool(), kb.reportGrounding)
}

// SearchTool is the schema of the search tool.
func SearchTool() ai.Tool {
	return ai.Tool{
		Type: ai.ToolTypeFunction,
		Function: &ai.FunctionDefinition{
			Name: "search",
			Description: "Search the knowledge base. The knowledge base is in English, translate to and from English if needed. " +
				"Results are formatted as a source name first in square brackets, followed by the text content, and a line with '-----' at the end of each result.",
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query"},
				},
				Required:             []string{"query"},
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		},
	}
}

// GroundingTool is the schema of the report_grounding tool.
func GroundingTool() ai.Tool {
	return ai.Tool{
		Type: ai.ToolTypeFunction,
		Function: &ai.FunctionDefinition{
			Name: "report_grounding",
			Description: "Report use of a source from the knowledge base as part of an answer (effectively, cite the source). " +
				"Sources appear in square brackets before each knowledge base passage. " +
				"Always use this tool to cite sources when responding with information from the knowledge base.",
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"sources": {
						Type:        "array",
						Items:       &jsonschema.Schema{Type: "string"},
						Description: "List of source names from last statement actually used, do not include the ones not used to formulate a response",
					},
				},
				Required:             []string{"sources"},
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		},
	}
}

func (kb *KnowledgeBase) search(ctx context.Context, args map[string]any) (tools.Result, error) {
	query, _ := args["query"].(string)
	kb.logger.Infof("Searching for '%s' in the knowledge base.", query)

	body, err := kb.searchQuery(ctx, query)
	if err != nil {
		return tools.Result{}, err
	}
	hits, err := kb.searcher.Search(ctx, body)
	if err != nil {
		return tools.Result{}, err
	}

	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "[%s]: %s\n-----\n", kb.identifier(hit), stringField(hit.Source, kb.fields.Content))
	}
	return tools.Text(b.String(), tools.ToServer), nil
}

func (kb *KnowledgeBase) searchQuery(ctx context.Context, query string) (map[string]any, error) {
	match := map[string]any{
		"match": map[string]any{kb.fields.Content: query},
	}
	body := map[string]any{
		"size":    kb.topK,
		"_source": []string{kb.fields.Identifier, kb.fields.Content},
		"query":   match,
	}
	if kb.embedder == nil {
		return body, nil
	}

	resp, err := kb.embedder.CreateEmbeddings(ctx, ai.EmbeddingRequest{
		Input: []string{query},
		Model: ai.EmbeddingModel(kb.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed query: no embedding returned")
	}
	body["query"] = map[string]any{
		"bool": map[string]any{
			"should": []any{
				match,
				map[string]any{
					"knn": map[string]any{
						kb.fields.Embedding: map[string]any{
							"vector": resp.Data[0].Embedding,
							"k":      kb.topK,
						},
					},
				},
			},
		},
	}
	return body, nil
}

func (kb *KnowledgeBase) reportGrounding(ctx context.Context, args map[string]any) (tools.Result, error) {
	raw, _ := args["sources"].([]any)
	var sources []string
	for _, s := range raw {
		if id, ok := s.(string); ok && keyPattern.MatchString(id) {
			sources = append(sources, id)
		}
	}
	kb.logger.Infof("Grounding source: %s", strings.Join(sources, " OR "))

	found := []map[string]any{}
	if len(sources) == 0 {
		return tools.Structured(map[string]any{"sources": found}, tools.ToClient), nil
	}

	should := make([]any, 0, len(sources))
	for _, id := range sources {
		should = append(should, map[string]any{
			"match_phrase": map[string]any{kb.fields.Identifier: id},
		})
	}
	hits, err := kb.searcher.Search(ctx, map[string]any{
		"size":    len(sources),
		"_source": []string{kb.fields.Identifier, kb.fields.Title, kb.fields.Content},
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	})
	if err != nil {
		return tools.Result{}, err
	}

	for _, hit := range hits {
		found = append(found, map[string]any{
			"chunk_id": kb.identifier(hit),
			"title":    stringField(hit.Source, kb.fields.Title),
			"chunk":    stringField(hit.Source, kb.fields.Content),
		})
	}
	return tools.Structured(map[string]any{"sources": found}, tools.ToClient), nil
}

// identifier prefers the identifier field and falls back to the document id.
func (kb *KnowledgeBase) identifier(hit Hit) string {
	if id := stringField(hit.Source, kb.fields.Identifier); id != "" {
		return id
	}
	return hit.ID
}

func stringField(source map[string]any, field string) string {
	switch v := source[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
