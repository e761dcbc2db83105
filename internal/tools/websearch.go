package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
)

// WebSearchName is the tool identifier the model invokes for web search.
const WebSearchName = "web_search"

// Defaults for the web search tool.
const (
	DefaultSearchResults = 5
	defaultSearchTimeout = 15 * time.Second
)

// ErrMissingQuery is returned when a call carries no usable query parameter.
var ErrMissingQuery = errors.New("tools: query parameter is required")

// WebSearchConfig holds SearXNG endpoint settings.
type WebSearchConfig struct {
	// BaseURL is the SearXNG instance root, e.g. http://localhost:8888.
	BaseURL string
	// MaxResults caps results per query. Default: DefaultSearchResults.
	MaxResults int
	// Timeout bounds a single search request.
	Timeout time.Duration
}

// WebSearch queries a SearXNG instance and adapts its results into tool
// outputs.
type WebSearch struct {
	cfg    WebSearchConfig
	http   *http.Client
	logger log.Logger
}

// NewWebSearch creates the web search tool.
func NewWebSearch(cfg WebSearchConfig, logger log.Logger) (*WebSearch, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("tools: web search base URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("tools: logger is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultSearchResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSearchTimeout
	}

	return &WebSearch{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (t *WebSearch) Name() string { return WebSearchName }

func (t *WebSearch) Description() string {
	return "Search the web for current information. Takes a query and returns titles, URLs and snippets."
}

type searxngResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Call runs the search. It accepts the query under "query" or
// "search_query", matching the parameter names models emit.
func (t *WebSearch) Call(ctx context.Context, params map[string]any) ([]collate.Output, error) {
	query := stringParam(params, "query")
	if query == "" {
		query = stringParam(params, "search_query")
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrMissingQuery
	}

	endpoint, err := url.Parse(t.cfg.BaseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("tools: parsing search URL: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("count", strconv.Itoa(t.cfg.MaxResults))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tools: building search request: %w", err)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tools: search request failed with status %d", resp.StatusCode)
	}

	var decoded searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("tools: decoding search response: %w", err)
	}

	limit := min(len(decoded.Results), t.cfg.MaxResults)
	outputs := make([]collate.Output, 0, limit)
	for _, item := range decoded.Results[:limit] {
		outputs = append(outputs, collate.Output{
			"title": item.Title,
			"url":   item.URL,
			"text":  strings.TrimSpace(item.Content),
		})
	}

	t.logger.Debug("web search completed", "query", query, "results", len(outputs))
	return outputs, nil
}
