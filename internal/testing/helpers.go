package testing

import (
	"time"

	ai "github.com/sashabaranov/go-openai"

	"pkdindustries/voicerag/internal/config"
)

// DefaultTestConfig returns a minimal configuration for testing
func DefaultTestConfig() *config.Configuration {
	return &config.Configuration{
		Server: &config.ServerConfig{
			Listen:       "127.0.0.1:0",
			RateLimit:    0,
			RateBurst:    1,
			MaxBodyBytes: 1 << 20,
		},
		Bot: &config.BotConfig{
			Verbose: false,
			Prompt:  "You are a test assistant.",
		},
		Model: &config.ModelConfig{
			ChatDeployment:          "test-chat",
			TranscriptionDeployment: "test-transcribe",
			MaxTokens:               100,
			Temperature:             0.7,
		},
		Audio: &config.AudioConfig{
			SampleRate:  24000,
			Channels:    1,
			SampleWidth: 2,
		},
		Speech: &config.SpeechConfig{
			Provider: "openai",
			Model:    "test-tts",
			Voice:    "alloy",
			Format:   "mp3",
			Timeout:  time.Second * 5,
		},
		Search: &config.SearchConfig{
			IdentifierField: "chunk_id",
			ContentField:    "chunk",
			EmbeddingField:  "text_vector",
			TitleField:      "title",
			TopK:            5,
		},
		Session: &config.SessionConfig{
			TTL: time.Minute * 10,
		},
		API: &config.APIConfig{
			Timeout: time.Second * 30,
		},
	}
}

// ToolCall builds a function tool call as the model would return it.
func ToolCall(id, name, args string) ai.ToolCall {
	return ai.ToolCall{
		ID:       id,
		Type:     ai.ToolTypeFunction,
		Function: ai.FunctionCall{Name: name, Arguments: args},
	}
}
