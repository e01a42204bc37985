package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

// pollyMaxInput is the billed-character limit of one SynthesizeSpeech call.
const pollyMaxInput = 3000

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type PollyConfig struct {
	Region string
	Voice  string
	Engine string
	Format string
}

// PollyStreamer synthesizes speech with Amazon Polly.
type PollyStreamer struct {
	mu     sync.Mutex
	client synthClient
	cfg    PollyConfig
}

// NewPollyStreamer creates a streamer that loads AWS credentials on first use.
func NewPollyStreamer(cfg PollyConfig) *PollyStreamer {
	return newPollyStreamer(cfg, nil)
}

func newPollyStreamer(cfg PollyConfig, client synthClient) *PollyStreamer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &PollyStreamer{client: client, cfg: cfg}
}

func (p *PollyStreamer) Stream(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}
	if voice == "" {
		voice = p.cfg.Voice
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: outputFormat(p.cfg.Format),
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("polly %s: %w", apiErr.ErrorCode(), err)
		}
		return nil, err
	}
	if output == nil || output.AudioStream == nil {
		return nil, errors.New("polly returned no audio stream")
	}
	return output.AudioStream, nil
}

func (p *PollyStreamer) MaxInput() int {
	return pollyMaxInput
}

// outputFormat maps a requested audio format onto what Polly can produce.
func outputFormat(format string) pollytypes.OutputFormat {
	switch strings.ToLower(format) {
	case "pcm":
		return pollytypes.OutputFormatPcm
	case "ogg", "ogg_vorbis", "opus":
		return pollytypes.OutputFormatOggVorbis
	default:
		return pollytypes.OutputFormatMp3
	}
}

func (p *PollyStreamer) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
