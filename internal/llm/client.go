package llm

import (
	"context"
	"strings"

	ai "github.com/sashabaranov/go-openai"

	"pkdindustries/voicerag/internal/config"
)

// ChatModel produces chat completions, optionally with tool calls.
type ChatModel interface {
	CreateChatCompletion(ctx context.Context, req ai.ChatCompletionRequest) (ai.ChatCompletionResponse, error)
}

// Transcriber turns an uploaded audio file into text.
type Transcriber interface {
	CreateTranscription(ctx context.Context, req ai.AudioRequest) (ai.AudioResponse, error)
}

// SpeechCreator renders text to encoded audio.
type SpeechCreator interface {
	CreateSpeech(ctx context.Context, req ai.CreateSpeechRequest) (ai.RawResponse, error)
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, conv ai.EmbeddingRequestConverter) (ai.EmbeddingResponse, error)
}

var (
	_ ChatModel     = (*ai.Client)(nil)
	_ Transcriber   = (*ai.Client)(nil)
	_ SpeechCreator = (*ai.Client)(nil)
	_ Embedder      = (*ai.Client)(nil)
)

// NewClientConfig builds the go-openai configuration for either the OpenAI API
// or an Azure OpenAI resource. On Azure the configured model names are used
// as deployment names unchanged.
func NewClientConfig(api *config.APIConfig) ai.ClientConfig {
	if api.Azure {
		cfg := ai.DefaultAzureConfig(api.Key, strings.TrimRight(api.URL, "/"))
		if api.APIVersion != "" {
			cfg.APIVersion = api.APIVersion
		}
		cfg.AzureModelMapperFunc = func(model string) string {
			return model
		}
		return cfg
	}

	cfg := ai.DefaultConfig(api.Key)
	if api.URL != "" {
		cfg.BaseURL = api.URL
	}
	return cfg
}

// NewClient returns a client that satisfies every model interface in this package.
func NewClient(api *config.APIConfig) *ai.Client {
	return ai.NewClientWithConfig(NewClientConfig(api))
}
