package testing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	ai "github.com/sashabaranov/go-openai"
)

// MockChatModel replays scripted completions in call order and records every request.
type MockChatModel struct {
	Responses []ai.ChatCompletionMessage // one per call
	Errors    []error                    // per call; nil entries succeed
	Delay     time.Duration              // delay before answering (0 = immediate)

	mu       sync.Mutex
	requests []ai.ChatCompletionRequest
}

// CreateChatCompletion implements llm.ChatModel
func (m *MockChatModel) CreateChatCompletion(ctx context.Context, req ai.ChatCompletionRequest) (ai.ChatCompletionResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	req.Messages = append([]ai.ChatCompletionMessage(nil), req.Messages...)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return ai.ChatCompletionResponse{}, m.Errors[idx]
	}
	if idx >= len(m.Responses) {
		return ai.ChatCompletionResponse{}, fmt.Errorf("unexpected chat completion call %d", idx+1)
	}

	msg := m.Responses[idx]
	if msg.Role == "" {
		msg.Role = ai.ChatMessageRoleAssistant
	}
	finish := ai.FinishReasonStop
	if len(msg.ToolCalls) > 0 {
		finish = ai.FinishReasonToolCalls
	}
	return ai.ChatCompletionResponse{
		Model:   req.Model,
		Choices: []ai.ChatCompletionChoice{{Message: msg, FinishReason: finish}},
	}, nil
}

// Calls returns how many completions were requested.
func (m *MockChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the i-th recorded request.
func (m *MockChatModel) Request(i int) ai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// AudioUpload records one transcription request.
type AudioUpload struct {
	Model    string
	FilePath string
	Data     []byte
}

// MockTranscriber returns Text or Err and records the uploaded audio.
type MockTranscriber struct {
	Text string
	Err  error

	mu      sync.Mutex
	Uploads []AudioUpload
}

// CreateTranscription implements llm.Transcriber
func (m *MockTranscriber) CreateTranscription(ctx context.Context, req ai.AudioRequest) (ai.AudioResponse, error) {
	upload := AudioUpload{Model: req.Model, FilePath: req.FilePath}
	if req.Reader != nil {
		data, err := io.ReadAll(req.Reader)
		if err != nil {
			return ai.AudioResponse{}, err
		}
		upload.Data = data
	}
	m.mu.Lock()
	m.Uploads = append(m.Uploads, upload)
	m.mu.Unlock()

	if m.Err != nil {
		return ai.AudioResponse{}, m.Err
	}
	return ai.AudioResponse{Text: m.Text}, nil
}

// MockSpeech renders every input as Audio, or fails with Err.
type MockSpeech struct {
	Audio []byte
	Err   error

	mu       sync.Mutex
	Requests []ai.CreateSpeechRequest
}

// CreateSpeech implements llm.SpeechCreator
func (m *MockSpeech) CreateSpeech(ctx context.Context, req ai.CreateSpeechRequest) (ai.RawResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return ai.RawResponse{}, m.Err
	}
	return ai.RawResponse{ReadCloser: io.NopCloser(bytes.NewReader(m.Audio))}, nil
}

// MockEmbedder returns Vector for every input.
type MockEmbedder struct {
	Vector []float32
	Err    error

	mu     sync.Mutex
	Inputs []any
}

// CreateEmbeddings implements llm.Embedder
func (m *MockEmbedder) CreateEmbeddings(ctx context.Context, conv ai.EmbeddingRequestConverter) (ai.EmbeddingResponse, error) {
	req := conv.Convert()
	m.mu.Lock()
	m.Inputs = append(m.Inputs, req.Input)
	m.mu.Unlock()

	if m.Err != nil {
		return ai.EmbeddingResponse{}, m.Err
	}
	return ai.EmbeddingResponse{Data: []ai.Embedding{{Embedding: m.Vector}}}, nil
}
