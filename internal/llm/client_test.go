package llm

import (
	"testing"

	ai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"pkdindustries/voicerag/internal/config"
)

func TestNewClientConfigOpenAI(t *testing.T) {
	cfg := NewClientConfig(&config.APIConfig{Key: "sk-test"})
	assert.Equal(t, ai.APITypeOpenAI, cfg.APIType)
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)

	cfg = NewClientConfig(&config.APIConfig{Key: "sk-test", URL: "http://localhost:11434/v1"})
	assert.Equal(t, "http://localhost:11434/v1", cfg.BaseURL)
}

func TestNewClientConfigAzure(t *testing.T) {
	cfg := NewClientConfig(&config.APIConfig{
		Key:        "azure-key",
		URL:        "https://example.openai.azure.com/",
		Azure:      true,
		APIVersion: "2024-06-01",
	})

	assert.Equal(t, ai.APITypeAzure, cfg.APIType)
	assert.Equal(t, "https://example.openai.azure.com", cfg.BaseURL)
	assert.Equal(t, "2024-06-01", cfg.APIVersion)
	// deployment names with dots must survive the mapper
	assert.Equal(t, "gpt-4.1-mini", cfg.AzureModelMapperFunc("gpt-4.1-mini"))
}
