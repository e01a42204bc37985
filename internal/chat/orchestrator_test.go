package chat

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	ai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/session"
	mocktest "pkdindustries/voicerag/internal/testing"
	"pkdindustries/voicerag/internal/tools"
)

const testPrompt = "Answer from the knowledge base."

func queryTool(name string) ai.Tool {
	return ai.Tool{
		Type: ai.ToolTypeFunction,
		Function: &ai.FunctionDefinition{
			Name:        name,
			Description: "test tool " + name,
			Parameters: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string"},
				},
				Required:             []string{"query"},
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		},
	}
}

// newSession builds a session whose tools append their name to calls.
func newSession(t *testing.T, calls *[]string) *session.Session {
	t.Helper()
	reg := tools.NewRegistry(zap.NewNop().Sugar())
	require.NoError(t, reg.Register("search", queryTool("search"), func(ctx context.Context, args map[string]any) (tools.Result, error) {
		*calls = append(*calls, "search:"+args["query"].(string))
		return tools.Text("[doc1]: Refunds within 30 days.\n-----\n", tools.ToServer), nil
	}))
	require.NoError(t, reg.Register("report_grounding", queryTool("report_grounding"), func(ctx context.Context, args map[string]any) (tools.Result, error) {
		*calls = append(*calls, "report_grounding:"+args["query"].(string))
		return tools.Structured(map[string]any{"sources": []any{"doc1"}}, tools.ToClient), nil
	}))
	return session.New("test", testPrompt, reg)
}

func newOrchestrator(model *mocktest.MockChatModel, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(zap.NewNop().Sugar())}, opts...)
	return New(model, "test-chat", opts...)
}

func TestTurnWithoutTools(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{{Content: "Hello!"}}}

	reply, err := newOrchestrator(model).Turn(context.Background(), s, "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", reply.Text)
	assert.NotNil(t, reply.ToolResults)
	assert.Empty(t, reply.ToolResults)
	assert.Equal(t, 1, model.Calls())
	assert.Empty(t, calls)

	req := model.Request(0)
	assert.Equal(t, "test-chat", req.Model)
	assert.Len(t, req.Tools, 2)
	assert.Equal(t, "auto", req.ToolChoice)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, testPrompt, req.Messages[0].Content)

	history := s.History.Messages()
	require.Len(t, history, 2)
	assert.Equal(t, ai.ChatMessageRoleUser, history[0].Role)
	assert.Equal(t, ai.ChatMessageRoleAssistant, history[1].Role)
	assert.Equal(t, "Hello!", history[1].Content)
}

func TestTurnRefundPolicy(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{ToolCalls: []ai.ToolCall{mocktest.ToolCall("call_1", "search", `{"query": "refund policy"}`)}},
		{Content: "You can get a refund within 30 days."},
	}}

	reply, err := newOrchestrator(model).Turn(context.Background(), s, "What is the refund policy?")
	require.NoError(t, err)

	assert.Equal(t, Reply{
		Text: "You can get a refund within 30 days.",
		ToolResults: []ToolResult{
			{Name: "search", Result: "[doc1]: Refunds within 30 days.\n-----\n"},
		},
	}, reply)
	assert.Equal(t, []string{"search:refund policy"}, calls)
	assert.Equal(t, 2, model.Calls())

	// the final call sees the tool result and is offered no tools
	final := model.Request(1)
	assert.Empty(t, final.Tools)
	assert.Nil(t, final.ToolChoice)
	require.Len(t, final.Messages, 4)
	assert.Equal(t, ai.ChatMessageRoleSystem, final.Messages[0].Role)
	assert.Equal(t, ai.ChatMessageRoleTool, final.Messages[3].Role)
	assert.Equal(t, "call_1", final.Messages[3].ToolCallID)
	assert.Equal(t, "[doc1]: Refunds within 30 days.\n-----\n", final.Messages[3].Content)

	history := s.History.Messages()
	require.Len(t, history, 4)
	assert.Equal(t, "You can get a refund within 30 days.", history[3].Content)
}

func TestTurnDispatchesToolsInOrder(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{
			Content: "Let me check.",
			ToolCalls: []ai.ToolCall{
				mocktest.ToolCall("call_1", "search", `{"query":"a"}`),
				mocktest.ToolCall("call_2", "report_grounding", `{"query":"b"}`),
				mocktest.ToolCall("call_3", "search", `{"query":"c"}`),
			},
		},
		{Content: "Done."},
	}}

	reply, err := newOrchestrator(model).Turn(context.Background(), s, "question")
	require.NoError(t, err)

	assert.Equal(t, []string{"search:a", "report_grounding:b", "search:c"}, calls)
	assert.Equal(t, 2, model.Calls())

	require.Len(t, reply.ToolResults, 3)
	assert.Equal(t, "search", reply.ToolResults[0].Name)
	assert.Equal(t, "report_grounding", reply.ToolResults[1].Name)
	assert.Equal(t, map[string]any{"sources": []any{"doc1"}}, reply.ToolResults[1].Result)

	// user, assistant with calls, three tool messages, final answer
	history := s.History.Messages()
	require.Len(t, history, 6)
	assert.Equal(t, "Let me check.", history[1].Content)
	assert.Len(t, history[1].ToolCalls, 3)
	for i, id := range []string{"call_1", "call_2", "call_3"} {
		assert.Equal(t, ai.ChatMessageRoleTool, history[2+i].Role)
		assert.Equal(t, id, history[2+i].ToolCallID)
	}
	assert.Equal(t, `{"sources":["doc1"]}`, history[3].Content)
	assert.Len(t, model.Request(1).Messages, 6)
}

func TestTurnMalformedArgumentsAbortsRound(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{ToolCalls: []ai.ToolCall{
			mocktest.ToolCall("call_1", "search", `{"query":"ok"}`),
			mocktest.ToolCall("call_2", "search", `{"query":`),
			mocktest.ToolCall("call_3", "report_grounding", `{"query":"never"}`),
		}},
	}}

	_, err := newOrchestrator(model).Turn(context.Background(), s, "question")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindToolArgumentParse))

	assert.Equal(t, []string{"search:ok"}, calls)
	assert.Equal(t, 1, model.Calls())

	// the earlier tool message is kept
	history := s.History.Messages()
	require.Len(t, history, 3)
	assert.Equal(t, ai.ChatMessageRoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
}

func TestTurnToolFailureAbortsRound(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	require.NoError(t, s.Tools.Register("lookup", queryTool("lookup"), func(ctx context.Context, args map[string]any) (tools.Result, error) {
		calls = append(calls, "lookup:"+args["query"].(string))
		return tools.Result{}, errors.New("index unavailable")
	}))
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{ToolCalls: []ai.ToolCall{
			mocktest.ToolCall("call_1", "search", `{"query":"refunds"}`),
			mocktest.ToolCall("call_2", "lookup", `{"query":"orders"}`),
			mocktest.ToolCall("call_3", "report_grounding", `{"query":"never"}`),
		}},
		{Content: "unreachable"},
	}}

	reply, err := newOrchestrator(model).Turn(context.Background(), s, "question")
	require.Error(t, err)
	assert.Empty(t, reply.Text)
	assert.True(t, core.IsKind(err, core.KindToolExecution))
	assert.Contains(t, err.Error(), "index unavailable")

	// later calls and the final completion are skipped
	assert.Equal(t, []string{"search:refunds", "lookup:orders"}, calls)
	assert.Equal(t, 1, model.Calls())

	// user, assistant with tool calls, and the first tool reply survive
	history := s.History.Messages()
	require.Len(t, history, 3)
	assert.Equal(t, ai.ChatMessageRoleUser, history[0].Role)
	require.Len(t, history[1].ToolCalls, 3)
	assert.Equal(t, ai.ChatMessageRoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Contains(t, history[2].Content, "Refunds within 30 days.")
}

func TestTurnUnknownTool(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{ToolCalls: []ai.ToolCall{mocktest.ToolCall("call_1", "weather", `{}`)}},
	}}

	_, err := newOrchestrator(model).Turn(context.Background(), s, "question")
	assert.True(t, core.IsKind(err, core.KindToolExecution))
}

func TestTurnAfterClear(t *testing.T) {
	var calls []string
	s := newSession(t, &calls)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{
		{ToolCalls: []ai.ToolCall{mocktest.ToolCall("call_1", "search", `{"query":"x"}`)}},
		{Content: "first"},
		{Content: "second"},
	}}
	o := newOrchestrator(model)

	_, err := o.Turn(context.Background(), s, "one")
	require.NoError(t, err)

	s.Clear()
	assert.Equal(t, 0, s.History.Len())

	reply, err := o.Turn(context.Background(), s, "two")
	require.NoError(t, err)
	assert.Equal(t, "second", reply.Text)

	req := model.Request(2)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "two", req.Messages[1].Content)
	for _, m := range req.Messages {
		assert.Empty(t, m.ToolCalls)
		assert.Empty(t, m.ToolCallID)
	}
}

func TestTurnWithoutPromptOrTools(t *testing.T) {
	s := session.New("bare", "", nil)
	model := &mocktest.MockChatModel{Responses: []ai.ChatCompletionMessage{{Content: "ok"}}}

	_, err := newOrchestrator(model, WithSampling(64, 0.2)).Turn(context.Background(), s, "hi")
	require.NoError(t, err)

	req := model.Request(0)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ai.ChatMessageRoleUser, req.Messages[0].Role)
	assert.Nil(t, req.Tools)
	assert.Nil(t, req.ToolChoice)
	assert.Equal(t, 64, req.MaxCompletionTokens)
	assert.Equal(t, float32(0.2), req.Temperature)
}

func TestTurnClassifiesModelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind core.Kind
	}{
		{"missing deployment", &ai.APIError{HTTPStatusCode: http.StatusNotFound, Message: "not found"}, core.KindDeploymentNotFound},
		{"bad key", &ai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "invalid key"}, core.KindAuthentication},
		{"server error", &ai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "oops"}, core.KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session.New("err", testPrompt, nil)
			model := &mocktest.MockChatModel{Errors: []error{tt.err}}

			_, err := newOrchestrator(model).Turn(context.Background(), s, "hi")
			require.Error(t, err)

			var e *core.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, "test-chat", e.Deployment)
			assert.Equal(t, 1, s.History.Len(), "user message stays in history")
		})
	}
}

func TestTurnModelTimeout(t *testing.T) {
	s := session.New("slow", testPrompt, nil)
	model := &mocktest.MockChatModel{
		Responses: []ai.ChatCompletionMessage{{Content: "late"}},
		Delay:     time.Second,
	}

	_, err := newOrchestrator(model, WithTimeout(10*time.Millisecond)).Turn(context.Background(), s, "hi")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindUpstream))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type emptyModel struct{}

func (emptyModel) CreateChatCompletion(ctx context.Context, req ai.ChatCompletionRequest) (ai.ChatCompletionResponse, error) {
	return ai.ChatCompletionResponse{}, nil
}

func TestTurnNoChoices(t *testing.T) {
	s := session.New("empty", testPrompt, nil)
	o := New(emptyModel{}, "test-chat", WithLogger(zap.NewNop().Sugar()))

	_, err := o.Turn(context.Background(), s, "hi")
	assert.True(t, core.IsKind(err, core.KindUpstream))
}
