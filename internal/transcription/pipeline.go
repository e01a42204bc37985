package transcription

import (
	"bytes"
	"context"
	"strings"
	"time"

	ai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/audio"
	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/llm"
	"pkdindustries/voicerag/internal/metrics"
)

// uploadName is the file name the container is submitted under; backends pick
// the decoder from its extension.
const uploadName = "audio.wav"

// Pipeline frames raw PCM as WAV and transcribes it with one deployment.
type Pipeline struct {
	client     llm.Transcriber
	deployment string
	format     audio.Format
	timeout    time.Duration
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
}

// Config carries the knobs of a Pipeline.
type Config struct {
	Deployment string
	Format     audio.Format
	Timeout    time.Duration
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Metrics
}

func NewPipeline(client llm.Transcriber, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat()
	}
	return &Pipeline{
		client:     client,
		deployment: cfg.Deployment,
		format:     cfg.Format,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Format is the PCM layout the pipeline expects.
func (p *Pipeline) Format() audio.Format {
	return p.format
}

// Transcribe returns the text recognized in pcm, or "" when the backend
// recognized nothing. Container failures are reported as audio conversion
// errors; everything else is classified as an upstream failure.
func (p *Pipeline) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	defer core.LogDuration(p.logger, "transcribe", time.Now())

	wav, err := audio.BuildWAV(pcm, p.format)
	if err != nil {
		e := core.NewError(core.KindAudioConversion, "transcribe", err, "audio conversion failed: %v", err)
		e.UpstreamType = "audio"
		p.logger.Warnw("audio_conversion_failed", "bytes", len(pcm), "error", err)
		return "", e
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.client.CreateTranscription(ctx, ai.AudioRequest{
		Model:    p.deployment,
		FilePath: uploadName,
		Reader:   bytes.NewReader(wav),
	})
	p.metrics.RecordModelCall("transcribe", start, err)
	if err != nil {
		e := core.ClassifyUpstream("transcription", p.deployment, err)
		p.logger.Errorw("transcription_failed",
			"deployment", p.deployment,
			"kind", e.Kind,
			"error_type", e.UpstreamType,
			"error", err,
		)
		return "", e
	}

	text := strings.TrimSpace(resp.Text)
	p.logger.Debugw("transcribed",
		"audio", p.format.Duration(len(pcm)),
		"text", core.Truncate(text, 100),
	)
	return text, nil
}
