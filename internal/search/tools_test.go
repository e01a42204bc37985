package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	mocktest "pkdindustries/voicerag/internal/testing"
	"pkdindustries/voicerag/internal/tools"
)

type fakeSearcher struct {
	hits   []Hit
	err    error
	bodies []map[string]any
}

func (f *fakeSearcher) Search(ctx context.Context, body map[string]any) ([]Hit, error) {
	f.bodies = append(f.bodies, body)
	return f.hits, f.err
}

func newRegistry(t *testing.T, kb *KnowledgeBase) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(zap.NewNop().Sugar())
	require.NoError(t, kb.Register(reg))
	return reg
}

func TestRegisterTools(t *testing.T) {
	kb := NewKnowledgeBase(&fakeSearcher{}, DefaultFields(), WithLogger(zap.NewNop().Sugar()))
	reg := newRegistry(t, kb)

	assert.Equal(t, []string{"search", "report_grounding"}, reg.Names())
}

func TestSearchToolDescription(t *testing.T) {
	desc := SearchTool().Function.Description
	assert.Contains(t, desc, "The knowledge base is in English, translate to and from English if needed.")
	assert.Contains(t, desc, "'-----'")
}

func TestSearchTool(t *testing.T) {
	searcher := &fakeSearcher{hits: []Hit{
		{ID: "x1", Source: map[string]any{"chunk_id": "doc1", "chunk": "Refunds within 30 days."}},
		{ID: "x2", Source: map[string]any{"chunk": "Shipping is free."}},
	}}
	kb := NewKnowledgeBase(searcher, DefaultFields(), WithTopK(3), WithLogger(zap.NewNop().Sugar()))
	reg := newRegistry(t, kb)

	res, err := reg.Dispatch(context.Background(), "search", `{"query":"refund policy"}`)
	require.NoError(t, err)

	assert.Equal(t, tools.ToServer, res.Direction)
	assert.Equal(t, "[doc1]: Refunds within 30 days.\n-----\n[x2]: Shipping is free.\n-----\n", res.String())

	require.Len(t, searcher.bodies, 1)
	body := searcher.bodies[0]
	assert.Equal(t, 3, body["size"])
	assert.Equal(t, map[string]any{"match": map[string]any{"chunk": "refund policy"}}, body["query"])
}

func TestSearchToolNoHits(t *testing.T) {
	kb := NewKnowledgeBase(&fakeSearcher{}, DefaultFields(), WithLogger(zap.NewNop().Sugar()))
	res, err := newRegistry(t, kb).Dispatch(context.Background(), "search", `{"query":"nothing"}`)
	require.NoError(t, err)
	assert.Equal(t, "", res.String())
}

func TestSearchToolVectorQuery(t *testing.T) {
	searcher := &fakeSearcher{}
	embedder := &mocktest.MockEmbedder{Vector: []float32{0.1, 0.2}}
	kb := NewKnowledgeBase(searcher, DefaultFields(),
		WithVectorQuery(embedder, "text-embedding-3-small"),
		WithLogger(zap.NewNop().Sugar()),
	)

	_, err := newRegistry(t, kb).Dispatch(context.Background(), "search", `{"query":"refund"}`)
	require.NoError(t, err)

	require.Len(t, embedder.Inputs, 1)
	assert.Equal(t, []string{"refund"}, embedder.Inputs[0])

	query := searcher.bodies[0]["query"].(map[string]any)
	should := query["bool"].(map[string]any)["should"].([]any)
	require.Len(t, should, 2)
	knn := should[1].(map[string]any)["knn"].(map[string]any)["text_vector"].(map[string]any)
	assert.Equal(t, []float32{0.1, 0.2}, knn["vector"])
	assert.Equal(t, 5, knn["k"])
}

func TestSearchToolFailures(t *testing.T) {
	kb := NewKnowledgeBase(&fakeSearcher{err: errors.New("cluster unavailable")}, DefaultFields(), WithLogger(zap.NewNop().Sugar()))
	reg := newRegistry(t, kb)

	_, err := reg.Dispatch(context.Background(), "search", `{"query":"x"}`)
	assert.True(t, core.IsKind(err, core.KindToolExecution))

	_, err = reg.Dispatch(context.Background(), "search", `{"q":"x"}`)
	assert.True(t, core.IsKind(err, core.KindToolArgumentParse))
}

func TestReportGrounding(t *testing.T) {
	searcher := &fakeSearcher{hits: []Hit{
		{ID: "x1", Source: map[string]any{"chunk_id": "doc1", "title": "Refunds.pdf", "chunk": "Refunds within 30 days."}},
	}}
	kb := NewKnowledgeBase(searcher, DefaultFields(), WithLogger(zap.NewNop().Sugar()))

	res, err := newRegistry(t, kb).Dispatch(context.Background(), "report_grounding",
		`{"sources":["doc1","bad id; drop","doc_2=="]}`)
	require.NoError(t, err)

	assert.Equal(t, tools.ToClient, res.Direction)
	assert.Equal(t, map[string]any{"sources": []map[string]any{
		{"chunk_id": "doc1", "title": "Refunds.pdf", "chunk": "Refunds within 30 days."},
	}}, res.ClientPayload())

	require.Len(t, searcher.bodies, 1)
	body := searcher.bodies[0]
	assert.Equal(t, 2, body["size"])
	should := body["query"].(map[string]any)["bool"].(map[string]any)["should"].([]any)
	require.Len(t, should, 2)
	assert.Equal(t, map[string]any{"match_phrase": map[string]any{"chunk_id": "doc1"}}, should[0])
	assert.Equal(t, map[string]any{"match_phrase": map[string]any{"chunk_id": "doc_2=="}}, should[1])
}

func TestReportGroundingNoValidSources(t *testing.T) {
	searcher := &fakeSearcher{}
	kb := NewKnowledgeBase(searcher, DefaultFields(), WithLogger(zap.NewNop().Sugar()))

	res, err := newRegistry(t, kb).Dispatch(context.Background(), "report_grounding", `{"sources":["../etc"]}`)
	require.NoError(t, err)
	assert.Equal(t, `{"sources":[]}`, res.String())
	assert.Empty(t, searcher.bodies, "nothing to look up")
}
