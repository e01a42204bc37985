package speech

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
	"pkdindustries/voicerag/internal/metrics"
)

const chunkSize = 4096

// Streamer opens a streamed synthesis of text. An empty voice selects the
// streamer's default voice.
type Streamer interface {
	Stream(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// Aggregator collects a synthesis stream into one buffer. Synthesis is a soft
// capability: any failure yields empty audio instead of an error.
type Aggregator struct {
	streamer Streamer
	timeout  time.Duration
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func NewAggregator(streamer Streamer, timeout time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Aggregator {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Aggregator{
		streamer: streamer,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Synthesize renders text with voice and returns the audio chunks concatenated
// in arrival order. Text longer than the backend accepts is sent as several
// requests, in order. On failure it logs and returns an empty buffer.
func (a *Aggregator) Synthesize(ctx context.Context, text, voice string) []byte {
	defer core.LogDuration(a.logger, "synthesize", time.Now())

	audio, err := a.collect(ctx, text, voice)
	if err != nil {
		e := core.NewError(core.KindSynthesis, "synthesize", err, "synthesis failed: %v", err)
		a.logger.Warnw("synthesis_failed", "kind", e.Kind, "voice", voice, "error", err)
		a.metrics.RecordSynthesis(0, true)
		return []byte{}
	}
	a.metrics.RecordSynthesis(len(audio), false)
	return audio
}

func (a *Aggregator) collect(ctx context.Context, text, voice string) ([]byte, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	max := 0
	if l, ok := a.streamer.(inputLimiter); ok {
		max = l.MaxInput()
	}

	out := []byte{}
	chunks := 0
	for _, segment := range splitText(text, max) {
		n, err := a.read(ctx, segment, voice, &out)
		if err != nil {
			return nil, err
		}
		chunks += n
	}

	a.logger.Debugw("synthesized", "chunks", chunks, "bytes", len(out))
	return out, nil
}

// read streams one segment and appends its chunks to out.
func (a *Aggregator) read(ctx context.Context, segment, voice string, out *[]byte) (int, error) {
	stream, err := a.streamer.Stream(ctx, segment, voice)
	if err != nil {
		return 0, err
	}
	if stream == nil {
		return 0, errors.New("no audio stream")
	}
	defer stream.Close()

	buf := make([]byte, chunkSize)
	chunks := 0
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			*out = append(*out, buf[:n]...)
			chunks++
		}
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return chunks, ctxErr
		}
	}
}
