// Package rerank provides a client for Cohere-style reranking endpoints.
//
// The client scores candidate documents against a query and returns them as
// (index, relevance score) pairs. It is the production implementation of the
// collate.Reranker contract; a zero-value disabled client is available for
// deployments that run without a reranking endpoint.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
)

// Errors returned by the client.
var (
	ErrMissingBaseURL = errors.New("rerank: base URL is required")
	ErrMissingModel   = errors.New("rerank: model is required")
	ErrStatus         = errors.New("rerank: unexpected response status")
)

// Default request limits.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxPerBatch = 1000
	defaultRateLimit   = rate.Limit(10)
	defaultRateBurst   = 10
)

// Config holds the rerank endpoint settings.
type Config struct {
	// BaseURL is the endpoint root, e.g. https://api.cohere.com/v2.
	BaseURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model names the rerank model, e.g. rerank-v3.5.
	Model string
	// Timeout bounds a single rerank request. Default: DefaultTimeout.
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls. Zero uses the default.
	RequestsPerSecond float64
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}

// Client calls a rerank HTTP endpoint. The zero value is a disabled client:
// Enabled reports false and callers are expected to bypass it.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// New creates a rerank client from cfg.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("rerank: logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := defaultRateLimit
	burst := defaultRateBurst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Disabled returns a client that reports Enabled() == false.
func Disabled() *Client {
	return &Client{}
}

// Enabled reports whether the client is configured to reach an endpoint.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.BaseURL != ""
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rerank scores documents against query. Scores come back attached to the
// input positions; ordering and filtering are left to the caller.
func (c *Client) Rerank(ctx context.Context, query string, documents []collate.Output) (*collate.RerankResponse, error) {
	if !c.Enabled() {
		return nil, errors.New("rerank: client is disabled")
	}
	if len(documents) == 0 {
		return &collate.RerankResponse{}, nil
	}
	if len(documents) > DefaultMaxPerBatch {
		documents = documents[:DefaultMaxPerBatch]
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rerank: waiting for rate limiter: %w", err)
	}

	texts := make([]string, len(documents))
	for i, doc := range documents {
		// Documents without a text field score as empty strings so result
		// indexes keep lining up with the input positions.
		texts[i], _ = doc.Text()
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rerank: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d: %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("rerank: decoding response: %w", err)
	}

	out := &collate.RerankResponse{Results: make([]collate.RankedEntry, 0, len(decoded.Results))}
	for _, r := range decoded.Results {
		out.Results = append(out.Results, collate.RankedEntry{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}

	c.logger.Debug("reranked documents",
		"model", c.cfg.Model,
		"documents", len(documents),
		"results", len(out.Results),
		"duration", time.Since(start))

	return out, nil
}
