package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultPrompt = `You are a helpful assistant. Only answer questions based on information you searched in the knowledge base, accessible with the 'search' tool.
The user is listening to answers with audio, so it's *super* important that answers are as short as possible, a single sentence if at all possible.
Never read file names or source names or keys out loud.
Always use the following step-by-step instructions to respond:
1. Always use the 'search' tool to check the knowledge base before answering a question.
2. Always use the 'report_grounding' tool to report the source of information from the knowledge base.
3. Produce an answer that's as short as possible. If the answer isn't in the knowledge base, say you don't know.`

type Configuration struct {
	Server  *ServerConfig
	Bot     *BotConfig
	Model   *ModelConfig
	Audio   *AudioConfig
	Speech  *SpeechConfig
	Search  *SearchConfig
	Session *SessionConfig
	API     *APIConfig
}

type ServerConfig struct {
	Listen       string
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
}

type BotConfig struct {
	Verbose bool
	Prompt  string
}

type ModelConfig struct {
	ChatDeployment          string
	TranscriptionDeployment string
	MaxTokens               int
	Temperature             float32
}

type AudioConfig struct {
	SampleRate  int
	Channels    int
	SampleWidth int
}

type SpeechConfig struct {
	Provider    string
	Model       string
	Voice       string
	Format      string
	PollyRegion string
	PollyVoice  string
	PollyEngine string
	Timeout     time.Duration
}

type SearchConfig struct {
	Endpoint        string
	Index           string
	Username        string
	Password        string
	SigV4           bool
	Region          string
	IdentifierField string
	ContentField    string
	EmbeddingField  string
	TitleField      string
	UseVectorQuery  bool
	EmbeddingModel  string
	TopK            int
}

type SessionConfig struct {
	TTL time.Duration
}

type APIConfig struct {
	Timeout    time.Duration
	Key        string
	URL        string
	Azure      bool
	APIVersion string
}

// YamlSource implements cli.ValueSource for a map loaded from YAML
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	if v, ok := y.data[y.key]; ok {
		// Handle slices by joining with comma
		if slice, ok := v.([]any); ok {
			var strs []string
			for _, item := range slice {
				strs = append(strs, fmt.Sprintf("%v", item))
			}
			return strings.Join(strs, ","), true
		}
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

// loadYaml reads the flat key/value config file at path.
func loadYaml(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var configData map[string]any
	if err := yaml.Unmarshal(data, &configData); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return configData, nil
}

func GetFlags() []cli.Flag {
	var configData map[string]any
	if configPath := getConfigPath(os.Args); configPath != "" {
		data, err := loadYaml(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", configPath, err)
		} else {
			configData = data
		}
	}
	return flags(configData)
}

func flags(configData map[string]any) []cli.Flag {
	// Helper to create sources: EnvVar > YAML > Default
	src := func(key string, env ...string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		for _, e := range env {
			chain.Chain = append(chain.Chain, cli.EnvVar(e))
		}
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	return []cli.Flag{
		// Config file
		&cli.StringFlag{Name: "config", Aliases: []string{"b"}, Usage: "use the named configuration file", Sources: cli.EnvVars("VOICERAG_CONFIG")},

		// HTTP Server
		&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: "localhost:8765", Usage: "address the HTTP API listens on", Sources: src("listen", "VOICERAG_LISTEN")},
		&cli.FloatFlag{Name: "ratelimit", Value: 10, Usage: "requests per second accepted by the HTTP API (0 disables limiting)", Sources: src("ratelimit", "VOICERAG_RATELIMIT")},
		&cli.IntFlag{Name: "rateburst", Value: 20, Usage: "burst size for the HTTP API rate limiter", Sources: src("rateburst", "VOICERAG_RATEBURST")},
		&cli.IntFlag{Name: "maxbody", Value: 25 << 20, Usage: "maximum request body size in bytes", Sources: src("maxbody", "VOICERAG_MAXBODY")},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable verbose logging of sessions and configuration", Sources: src("verbose", "VOICERAG_VERBOSE")},

		// API Configuration
		&cli.StringFlag{Name: "openaikey", Usage: "OpenAI or Azure OpenAI API key", Sources: src("openaikey", "VOICERAG_OPENAIKEY", "AZURE_OPENAI_API_KEY")},
		&cli.StringFlag{Name: "openaiurl", Usage: "OpenAI API URL, or the Azure OpenAI endpoint", Sources: src("openaiurl", "VOICERAG_OPENAIURL", "AZURE_OPENAI_ENDPOINT")},
		&cli.BoolFlag{Name: "azure", Usage: "talk to Azure OpenAI deployments instead of the OpenAI API", Sources: src("azure", "VOICERAG_AZURE")},
		&cli.StringFlag{Name: "apiversion", Value: "2024-02-15-preview", Usage: "Azure OpenAI API version", Sources: src("apiversion", "VOICERAG_APIVERSION")},
		&cli.DurationFlag{Name: "apitimeout", Aliases: []string{"t"}, Value: time.Minute, Usage: "timeout for each model call", Sources: src("apitimeout", "VOICERAG_APITIMEOUT")},

		// Models
		&cli.StringFlag{Name: "chatmodel", Value: "gpt-4o-mini", Usage: "model or deployment used for chat completions", Sources: src("chatmodel", "VOICERAG_CHATMODEL", "AZURE_OPENAI_CHAT_DEPLOYMENT")},
		&cli.StringFlag{Name: "transcriptionmodel", Value: "gpt-4o-mini-transcribe", Usage: "model or deployment used for transcription", Sources: src("transcriptionmodel", "VOICERAG_TRANSCRIPTIONMODEL", "AZURE_OPENAI_REALTIME_DEPLOYMENT")},
		&cli.IntFlag{Name: "maxtokens", Value: 1024, Usage: "maximum number of tokens to generate", Sources: src("maxtokens", "VOICERAG_MAXTOKENS")},
		&cli.FloatFlag{Name: "temperature", Value: 0.7, Usage: "temperature for the completion", Sources: src("temperature", "VOICERAG_TEMPERATURE")},

		// Audio
		&cli.IntFlag{Name: "samplerate", Value: 24000, Usage: "sample rate of incoming PCM audio", Sources: src("samplerate", "VOICERAG_SAMPLERATE")},
		&cli.IntFlag{Name: "channels", Value: 1, Usage: "channel count of incoming PCM audio", Sources: src("channels", "VOICERAG_CHANNELS")},
		&cli.IntFlag{Name: "samplewidth", Value: 2, Usage: "bytes per sample of incoming PCM audio", Sources: src("samplewidth", "VOICERAG_SAMPLEWIDTH")},

		// Speech synthesis
		&cli.StringFlag{Name: "ttsprovider", Value: "openai", Usage: "speech synthesis backend: openai or polly", Sources: src("ttsprovider", "VOICERAG_TTSPROVIDER")},
		&cli.StringFlag{Name: "ttsmodel", Value: "gpt-4o-mini-tts", Usage: "model or deployment used for speech synthesis", Sources: src("ttsmodel", "VOICERAG_TTSMODEL")},
		&cli.StringFlag{Name: "voice", Value: "alloy", Usage: "voice used for speech synthesis", Sources: src("voice", "VOICERAG_VOICE", "AZURE_OPENAI_REALTIME_VOICE_CHOICE")},
		&cli.StringFlag{Name: "ttsformat", Value: "mp3", Usage: "audio format returned by speech synthesis", Sources: src("ttsformat", "VOICERAG_TTSFORMAT")},
		&cli.StringFlag{Name: "pollyregion", Value: "us-east-1", Usage: "AWS region for Amazon Polly", Sources: src("pollyregion", "VOICERAG_POLLYREGION", "AWS_REGION")},
		&cli.StringFlag{Name: "pollyvoice", Value: "Joanna", Usage: "Amazon Polly voice id", Sources: src("pollyvoice", "VOICERAG_POLLYVOICE")},
		&cli.StringFlag{Name: "pollyengine", Value: "neural", Usage: "Amazon Polly engine: standard or neural", Sources: src("pollyengine", "VOICERAG_POLLYENGINE")},
		&cli.DurationFlag{Name: "ttstimeout", Value: 30 * time.Second, Usage: "timeout for one speech synthesis request", Sources: src("ttstimeout", "VOICERAG_TTSTIMEOUT")},

		// Knowledge base
		&cli.StringFlag{Name: "searchurl", Usage: "OpenSearch endpoint holding the knowledge base", Sources: src("searchurl", "VOICERAG_SEARCHURL", "AZURE_SEARCH_ENDPOINT")},
		&cli.StringFlag{Name: "searchindex", Usage: "OpenSearch index name", Sources: src("searchindex", "VOICERAG_SEARCHINDEX", "AZURE_SEARCH_INDEX")},
		&cli.StringFlag{Name: "searchuser", Usage: "OpenSearch basic auth user", Sources: src("searchuser", "VOICERAG_SEARCHUSER")},
		&cli.StringFlag{Name: "searchpass", Usage: "OpenSearch basic auth password", Sources: src("searchpass", "VOICERAG_SEARCHPASS")},
		&cli.BoolFlag{Name: "searchsigv4", Usage: "sign OpenSearch requests with AWS SigV4", Sources: src("searchsigv4", "VOICERAG_SEARCHSIGV4")},
		&cli.StringFlag{Name: "searchregion", Value: "us-east-1", Usage: "AWS region used when signing OpenSearch requests", Sources: src("searchregion", "VOICERAG_SEARCHREGION", "AWS_REGION")},
		&cli.StringFlag{Name: "identifierfield", Value: "chunk_id", Usage: "index field holding the chunk identifier", Sources: src("identifierfield", "VOICERAG_IDENTIFIERFIELD", "AZURE_SEARCH_IDENTIFIER_FIELD")},
		&cli.StringFlag{Name: "contentfield", Value: "chunk", Usage: "index field holding the chunk text", Sources: src("contentfield", "VOICERAG_CONTENTFIELD", "AZURE_SEARCH_CONTENT_FIELD")},
		&cli.StringFlag{Name: "embeddingfield", Value: "text_vector", Usage: "index field holding the chunk embedding", Sources: src("embeddingfield", "VOICERAG_EMBEDDINGFIELD", "AZURE_SEARCH_EMBEDDING_FIELD")},
		&cli.StringFlag{Name: "titlefield", Value: "title", Usage: "index field holding the document title", Sources: src("titlefield", "VOICERAG_TITLEFIELD", "AZURE_SEARCH_TITLE_FIELD")},
		&cli.BoolFlag{Name: "vectorquery", Value: true, Usage: "use a k-NN vector query instead of a text match", Sources: src("vectorquery", "VOICERAG_VECTORQUERY", "AZURE_SEARCH_USE_VECTOR_QUERY")},
		&cli.StringFlag{Name: "embeddingmodel", Value: "text-embedding-3-small", Usage: "model or deployment used to embed search queries", Sources: src("embeddingmodel", "VOICERAG_EMBEDDINGMODEL")},
		&cli.IntFlag{Name: "topk", Value: 5, Usage: "number of knowledge base hits returned by the search tool", Sources: src("topk", "VOICERAG_TOPK")},

		// Sessions
		&cli.DurationFlag{Name: "sessionduration", Aliases: []string{"S"}, Value: time.Minute * 30, Usage: "conversation is dropped after it is unused for this duration", Sources: src("sessionduration", "VOICERAG_SESSIONDURATION")},

		// Personality / Prompting
		&cli.StringFlag{Name: "prompt", Value: DefaultPrompt, Usage: "system prompt", Sources: src("prompt", "VOICERAG_PROMPT")},
	}
}

func getConfigPath(args []string) string {
	// Check env first
	if v := os.Getenv("VOICERAG_CONFIG"); v != "" {
		return v
	}
	for i, arg := range args {
		if arg == "--config" || arg == "-b" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func mask(secret string) string {
	if len(secret) > 3 {
		return strings.Repeat("*", len(secret)-3) + secret[len(secret)-3:]
	}
	return secret
}

func (c *Configuration) PrintConfig() {
	fmt.Printf("listen: %s\n", c.Server.Listen)
	fmt.Printf("ratelimit: %g\n", c.Server.RateLimit)
	fmt.Printf("rateburst: %d\n", c.Server.RateBurst)
	fmt.Printf("maxbody: %d\n", c.Server.MaxBodyBytes)
	fmt.Printf("verbose: %t\n", c.Bot.Verbose)
	fmt.Printf("openaikey: %s\n", mask(c.API.Key))
	fmt.Printf("openaiurl: %s\n", c.API.URL)
	fmt.Printf("azure: %t\n", c.API.Azure)
	fmt.Printf("apiversion: %s\n", c.API.APIVersion)
	fmt.Printf("apitimeout: %s\n", c.API.Timeout)
	fmt.Printf("chatmodel: %s\n", c.Model.ChatDeployment)
	fmt.Printf("transcriptionmodel: %s\n", c.Model.TranscriptionDeployment)
	fmt.Printf("maxtokens: %d\n", c.Model.MaxTokens)
	fmt.Printf("temperature: %f\n", c.Model.Temperature)
	fmt.Printf("samplerate: %d\n", c.Audio.SampleRate)
	fmt.Printf("channels: %d\n", c.Audio.Channels)
	fmt.Printf("samplewidth: %d\n", c.Audio.SampleWidth)
	fmt.Printf("ttsprovider: %s\n", c.Speech.Provider)
	fmt.Printf("ttsmodel: %s\n", c.Speech.Model)
	fmt.Printf("voice: %s\n", c.Speech.Voice)
	fmt.Printf("ttsformat: %s\n", c.Speech.Format)
	fmt.Printf("pollyregion: %s\n", c.Speech.PollyRegion)
	fmt.Printf("pollyvoice: %s\n", c.Speech.PollyVoice)
	fmt.Printf("pollyengine: %s\n", c.Speech.PollyEngine)
	fmt.Printf("searchurl: %s\n", c.Search.Endpoint)
	fmt.Printf("searchindex: %s\n", c.Search.Index)
	fmt.Printf("searchuser: %s\n", c.Search.Username)
	fmt.Printf("searchpass: %s\n", mask(c.Search.Password))
	fmt.Printf("searchsigv4: %t\n", c.Search.SigV4)
	fmt.Printf("vectorquery: %t\n", c.Search.UseVectorQuery)
	fmt.Printf("embeddingmodel: %s\n", c.Search.EmbeddingModel)
	fmt.Printf("topk: %d\n", c.Search.TopK)
	fmt.Printf("sessionduration: %s\n", c.Session.TTL)
	fmt.Printf("prompt: %s\n", c.Bot.Prompt)
}

// Validate rejects configurations the service cannot start with.
func (c *Configuration) Validate() error {
	if c.Model.ChatDeployment == "" {
		return fmt.Errorf("chatmodel is required")
	}
	if c.Model.TranscriptionDeployment == "" {
		return fmt.Errorf("transcriptionmodel is required")
	}
	if c.API.Azure && c.API.URL == "" {
		return fmt.Errorf("openaiurl is required when azure is enabled")
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.SampleWidth <= 0 {
		return fmt.Errorf("audio format must be positive, got rate=%d channels=%d width=%d",
			c.Audio.SampleRate, c.Audio.Channels, c.Audio.SampleWidth)
	}
	switch c.Speech.Provider {
	case "openai", "polly":
	default:
		return fmt.Errorf("unknown ttsprovider %q", c.Speech.Provider)
	}
	if c.Search.Endpoint != "" && c.Search.Index == "" {
		return fmt.Errorf("searchindex is required when searchurl is set")
	}
	return nil
}

func NewConfiguration(c *cli.Command) *Configuration {
	if c.IsSet("config") {
		zap.S().Infow("Using config file", "path", c.String("config"))
	}

	config := &Configuration{
		Server: &ServerConfig{
			Listen:       c.String("listen"),
			RateLimit:    c.Float("ratelimit"),
			RateBurst:    c.Int("rateburst"),
			MaxBodyBytes: int64(c.Int("maxbody")),
		},
		Bot: &BotConfig{
			Verbose: c.Bool("verbose"),
			Prompt:  c.String("prompt"),
		},
		Model: &ModelConfig{
			ChatDeployment:          c.String("chatmodel"),
			TranscriptionDeployment: c.String("transcriptionmodel"),
			MaxTokens:               c.Int("maxtokens"),
			Temperature:             float32(c.Float("temperature")),
		},
		Audio: &AudioConfig{
			SampleRate:  c.Int("samplerate"),
			Channels:    c.Int("channels"),
			SampleWidth: c.Int("samplewidth"),
		},
		Speech: &SpeechConfig{
			Provider:    strings.ToLower(c.String("ttsprovider")),
			Model:       c.String("ttsmodel"),
			Voice:       c.String("voice"),
			Format:      c.String("ttsformat"),
			PollyRegion: c.String("pollyregion"),
			PollyVoice:  c.String("pollyvoice"),
			PollyEngine: c.String("pollyengine"),
			Timeout:     c.Duration("ttstimeout"),
		},
		Search: &SearchConfig{
			Endpoint:        c.String("searchurl"),
			Index:           c.String("searchindex"),
			Username:        c.String("searchuser"),
			Password:        c.String("searchpass"),
			SigV4:           c.Bool("searchsigv4"),
			Region:          c.String("searchregion"),
			IdentifierField: c.String("identifierfield"),
			ContentField:    c.String("contentfield"),
			EmbeddingField:  c.String("embeddingfield"),
			TitleField:      c.String("titlefield"),
			UseVectorQuery:  c.Bool("vectorquery"),
			EmbeddingModel:  c.String("embeddingmodel"),
			TopK:            c.Int("topk"),
		},
		Session: &SessionConfig{
			TTL: c.Duration("sessionduration"),
		},
		API: &APIConfig{
			Timeout:    c.Duration("apitimeout"),
			Key:        c.String("openaikey"),
			URL:        c.String("openaiurl"),
			Azure:      c.Bool("azure"),
			APIVersion: c.String("apiversion"),
		},
	}

	return config
}
