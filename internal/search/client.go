package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v4/signer"
	requestsigner "github.com/opensearch-project/opensearch-go/v4/signer/awsv2"
	"go.uber.org/zap"

	"pkdindustries/voicerag/internal/core"
)

// signingService is the SigV4 service name for Amazon OpenSearch Service domains.
const signingService = "es"

// Hit is one document returned by a query.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]any
}

// ClientConfig describes how to reach an OpenSearch index.
type ClientConfig struct {
	Endpoint string
	Index    string
	Username string
	Password string
	// SigV4 signs requests with the default AWS credential chain.
	SigV4   bool
	Region  string
	Timeout time.Duration
}

// Client runs queries against one OpenSearch index.
type Client struct {
	cfg    ClientConfig
	api    *opensearchapi.Client
	logger *zap.SugaredLogger
}

// NewClient creates a client for cfg. With SigV4 enabled the AWS configuration
// is loaded once here.
func NewClient(ctx context.Context, cfg ClientConfig, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Index == "" {
		return nil, fmt.Errorf("search endpoint and index are required")
	}

	var sig signer.Signer
	if cfg.SigV4 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if sig, err = requestsigner.NewSignerWithService(awsCfg, signingService); err != nil {
			return nil, fmt.Errorf("create request signer: %w", err)
		}
	}
	return newClient(cfg, sig, logger)
}

// newCredentialsClient signs requests with creds instead of the default chain.
func newCredentialsClient(cfg ClientConfig, creds aws.CredentialsProvider, logger *zap.SugaredLogger) (*Client, error) {
	sig, err := requestsigner.NewSignerWithService(aws.Config{Region: cfg.Region, Credentials: creds}, signingService)
	if err != nil {
		return nil, fmt.Errorf("create request signer: %w", err)
	}
	return newClient(cfg, sig, logger)
}

func newClient(cfg ClientConfig, sig signer.Signer, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Signer:    sig,
	}
	if sig == nil {
		osCfg.Username = cfg.Username
		osCfg.Password = cfg.Password
	}

	api, err := opensearchapi.NewClient(opensearchapi.Config{Client: osCfg})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &Client{cfg: cfg, api: api, logger: logger}, nil
}

// Search runs body against the index and returns the hits.
func (c *Client) Search(ctx context.Context, body map[string]any) ([]Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{c.cfg.Index},
		Body:    bytes.NewReader(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.cfg.Index, err)
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hit := Hit{ID: h.ID, Score: float64(h.Score)}
		if len(h.Source) > 0 {
			if err := json.Unmarshal(h.Source, &hit.Source); err != nil {
				return nil, fmt.Errorf("decode hit %s: %w", h.ID, err)
			}
		}
		hits = append(hits, hit)
	}

	c.logger.Debugw("search_done",
		"index", c.cfg.Index,
		"hits", len(hits),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return hits, nil
}
