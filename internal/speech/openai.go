package speech

import (
	"context"
	"io"

	ai "github.com/sashabaranov/go-openai"

	"pkdindustries/voicerag/internal/llm"
)

const DefaultVoice = "alloy"

// openAIMaxInput is the most text one speech request accepts.
const openAIMaxInput = 4096

// OpenAIStreamer synthesizes speech with an OpenAI or Azure OpenAI deployment.
type OpenAIStreamer struct {
	client llm.SpeechCreator
	model  string
	voice  string
	format string
}

func NewOpenAIStreamer(client llm.SpeechCreator, model, voice, format string) *OpenAIStreamer {
	if voice == "" {
		voice = DefaultVoice
	}
	if format == "" {
		format = string(ai.SpeechResponseFormatMp3)
	}
	return &OpenAIStreamer{client: client, model: model, voice: voice, format: format}
}

func (s *OpenAIStreamer) Stream(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	if voice == "" {
		voice = s.voice
	}
	resp, err := s.client.CreateSpeech(ctx, ai.CreateSpeechRequest{
		Model:          ai.SpeechModel(s.model),
		Input:          text,
		Voice:          ai.SpeechVoice(voice),
		ResponseFormat: ai.SpeechResponseFormat(s.format),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *OpenAIStreamer) MaxInput() int {
	return openAIMaxInput
}
