package chat

import (
	"context"
	"time"

	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/llm"
	"pkdindustries/voicerag/internal/metrics"
	"pkdindustries/voicerag/internal/session"
)

// ToolResult is one dispatched tool as reported to the caller.
type ToolResult struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// Reply is the outcome of one user turn.
type Reply struct {
	Text        string       `json:"text"`
	ToolResults []ToolResult `json:"tool_results"`
}

// Orchestrator runs user turns against a chat model. It allows at most one
// round of tool calls per turn: tools are advertised on the first call only.
type Orchestrator struct {
	model       llm.ChatModel
	deployment  string
	timeout     time.Duration
	maxTokens   int
	temperature float32
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
}

type Option func(*Orchestrator)

// WithTimeout bounds each model call. Zero leaves calls bounded only by the turn context.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithSampling(maxTokens int, temperature float32) Option {
	return func(o *Orchestrator) {
		o.maxTokens = maxTokens
		o.temperature = temperature
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator calling deployment on model.
func New(model llm.ChatModel, deployment string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:      model,
		deployment: deployment,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = core.GetLogger()
	}
	return o
}

// Turn appends text as a user message to the session, lets the model answer,
// dispatching one round of tool calls if it asks for them, and records every
// step in the session history.
//
// A failing tool aborts the rest of the round. Messages already appended stay
// in the history.
func (o *Orchestrator) Turn(ctx context.Context, s *session.Session, text string) (Reply, error) {
	logger := core.WithSession(o.logger, s.ID)
	defer core.LogDuration(logger, "chat_turn", time.Now())

	logger.Infof("Processing user message: %q", core.Truncate(text, 100))
	s.History.Append(ai.ChatCompletionMessage{
		Role:    ai.ChatMessageRoleUser,
		Content: text,
	})
	s.Touch()

	var advertised []ai.Tool
	if s.Tools.Len() > 0 {
		advertised = s.Tools.List()
	}

	first, err := o.complete(ctx, "chat_first", o.messages(s), advertised)
	if err != nil {
		logger.Errorw("chat_failed", "stage", "first", "error", err)
		return Reply{}, err
	}

	if len(first.ToolCalls) == 0 {
		s.History.Append(ai.ChatCompletionMessage{
			Role:    ai.ChatMessageRoleAssistant,
			Content: first.Content,
		})
		return Reply{Text: first.Content, ToolResults: []ToolResult{}}, nil
	}

	s.History.Append(ai.ChatCompletionMessage{
		Role:      ai.ChatMessageRoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	results := make([]ToolResult, 0, len(first.ToolCalls))
	for _, call := range first.ToolCalls {
		name := call.Function.Name
		toolLogger := core.WithTool(logger, name, call.ID)
		toolLogger.Debugw("tool_dispatch", "args", core.Truncate(call.Function.Arguments, 200))

		result, err := s.Tools.Dispatch(ctx, name, call.Function.Arguments)
		o.metrics.RecordToolDispatch(name, err)
		if err != nil {
			toolLogger.Warnw("tool_failed", "kind", core.KindOf(err), "error", err)
			return Reply{}, err
		}

		s.History.Append(ai.ChatCompletionMessage{
			Role:       ai.ChatMessageRoleTool,
			Content:    result.String(),
			Name:       name,
			ToolCallID: call.ID,
		})
		results = append(results, ToolResult{Name: name, Result: result.ClientPayload()})
		toolLogger.Debugw("tool_done", "direction", result.Direction)
	}

	final, err := o.complete(ctx, "chat_final", o.messages(s), nil)
	if err != nil {
		logger.Errorw("chat_failed", "stage", "final", "error", err)
		return Reply{}, err
	}

	s.History.Append(ai.ChatCompletionMessage{
		Role:    ai.ChatMessageRoleAssistant,
		Content: final.Content,
	})
	return Reply{Text: final.Content, ToolResults: results}, nil
}

// messages prepends a fresh system message to the session history.
func (o *Orchestrator) messages(s *session.Session) []ai.ChatCompletionMessage {
	history := s.History.Messages()
	if s.SystemPrompt == "" {
		return history
	}
	msgs := make([]ai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, ai.ChatCompletionMessage{
		Role:    ai.ChatMessageRoleSystem,
		Content: s.SystemPrompt,
	})
	return append(msgs, history...)
}

func (o *Orchestrator) complete(ctx context.Context, stage string, msgs []ai.ChatCompletionMessage, tools []ai.Tool) (ai.ChatCompletionMessage, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := ai.ChatCompletionRequest{
		Model:               o.deployment,
		Messages:            msgs,
		MaxCompletionTokens: o.maxTokens,
		Temperature:         o.temperature,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	start := time.Now()
	resp, err := o.model.CreateChatCompletion(ctx, req)
	o.metrics.RecordModelCall(stage, start, err)
	if err != nil {
		return ai.ChatCompletionMessage{}, core.ClassifyUpstream("chat", o.deployment, err)
	}
	if len(resp.Choices) == 0 {
		e := core.NewError(core.KindUpstream, "chat", nil, "chat API error: deployment %s returned no choices", o.deployment)
		e.Deployment = o.deployment
		return ai.ChatCompletionMessage{}, e
	}
	return resp.Choices[0].Message, nil
}
