package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pkdindustries/voicerag/internal/audio"
	"pkdindustries/voicerag/internal/chat"
	"pkdindustries/voicerag/internal/config"
	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/llm"
	"pkdindustries/voicerag/internal/metrics"
	"pkdindustries/voicerag/internal/search"
	"pkdindustries/voicerag/internal/server"
	"pkdindustries/voicerag/internal/session"
	"pkdindustries/voicerag/internal/speech"
	"pkdindustries/voicerag/internal/tools"
	"pkdindustries/voicerag/internal/transcription"
)

const version = "0.3"

func main() {
	fmt.Printf("%s\n", getBanner(version))

	cmd := &cli.Command{
		Name:    "voicerag",
		Usage:   "spoken questions, grounded answers",
		Version: version,
		Flags:   config.GetFlags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		// Print to stderr first in case logger isn't initialized
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg := config.NewConfiguration(c)
	core.InitLogger(cfg.Bot.Verbose)
	defer zap.L().Sync()

	if cfg.Bot.Verbose {
		cfg.PrintConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := core.GetLogger()
	m := metrics.NewMetrics()
	client := llm.NewClient(cfg.API)

	registry, err := buildTools(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Session.TTL, func(id string) *session.Session {
		return session.New(id, cfg.Bot.Prompt, registry.Clone())
	}, logger)

	orchestrator := chat.New(client, cfg.Model.ChatDeployment,
		chat.WithTimeout(cfg.API.Timeout),
		chat.WithSampling(cfg.Model.MaxTokens, cfg.Model.Temperature),
		chat.WithLogger(logger),
		chat.WithMetrics(m),
	)

	pipeline := transcription.NewPipeline(client, transcription.Config{
		Deployment: cfg.Model.TranscriptionDeployment,
		Format: audio.Format{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			SampleWidth: cfg.Audio.SampleWidth,
		},
		Timeout: cfg.API.Timeout,
		Logger:  logger,
		Metrics: m,
	})

	var streamer speech.Streamer
	switch cfg.Speech.Provider {
	case "polly":
		streamer = speech.NewPollyStreamer(speech.PollyConfig{
			Region: cfg.Speech.PollyRegion,
			Voice:  cfg.Speech.PollyVoice,
			Engine: cfg.Speech.PollyEngine,
			Format: cfg.Speech.Format,
		})
	default:
		streamer = speech.NewOpenAIStreamer(client, cfg.Speech.Model, cfg.Speech.Voice, cfg.Speech.Format)
	}
	synthesizer := speech.NewAggregator(streamer, cfg.Speech.Timeout, logger, m)

	srv := server.New(cfg.Server, server.Deps{
		Sessions:    store,
		Transcriber: pipeline,
		Chat:        orchestrator,
		Speech:      synthesizer,
		Metrics:     m,
		Logger:      logger,
	})

	logger.Infow("voicerag ready",
		"listen", cfg.Server.Listen,
		"chat", cfg.Model.ChatDeployment,
		"transcription", cfg.Model.TranscriptionDeployment,
		"tts", cfg.Speech.Provider,
		"tools", registry.Names(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		store.Run(gctx)
		return nil
	})
	return g.Wait()
}

// buildTools registers the knowledge base tools when a search backend is configured.
func buildTools(ctx context.Context, cfg *config.Configuration, embedder llm.Embedder, logger *zap.SugaredLogger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)
	if cfg.Search.Endpoint == "" {
		logger.Warn("No search endpoint configured, answering without knowledge base tools")
		return registry, nil
	}

	client, err := search.NewClient(ctx, search.ClientConfig{
		Endpoint: cfg.Search.Endpoint,
		Index:    cfg.Search.Index,
		Username: cfg.Search.Username,
		Password: cfg.Search.Password,
		SigV4:    cfg.Search.SigV4,
		Region:   cfg.Search.Region,
		Timeout:  cfg.API.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("search client: %w", err)
	}

	opts := []search.Option{
		search.WithTopK(cfg.Search.TopK),
		search.WithLogger(logger),
	}
	if cfg.Search.UseVectorQuery {
		opts = append(opts, search.WithVectorQuery(embedder, cfg.Search.EmbeddingModel))
	}

	kb := search.NewKnowledgeBase(client, search.Fields{
		Identifier: cfg.Search.IdentifierField,
		Content:    cfg.Search.ContentField,
		Embedding:  cfg.Search.EmbeddingField,
		Title:      cfg.Search.TitleField,
	}, opts...)
	if err := kb.Register(registry); err != nil {
		return nil, fmt.Errorf("register knowledge base tools: %w", err)
	}
	return registry, nil
}
