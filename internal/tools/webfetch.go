package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/parleyhq/parley/internal/collate"
	"github.com/parleyhq/parley/internal/log"
)

// WebFetchName is the tool identifier the model invokes to read a page.
const WebFetchName = "web_fetch"

// Defaults for the web fetch tool.
const (
	defaultFetchTimeout  = 30 * time.Second
	defaultMaxFetchBytes = 10 << 20
)

// ErrMissingURL is returned when a call carries no url parameter.
var ErrMissingURL = errors.New("tools: url parameter is required")

// URLValidator approves outbound fetch targets and supplies the client used
// to reach them. Defined here, by the consumer, so tests can substitute a
// permissive validator.
type URLValidator interface {
	Validate(raw string) error
	Client(timeout time.Duration) *http.Client
}

// WebFetchConfig holds page fetch settings.
type WebFetchConfig struct {
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// MaxBytes caps how much of the response body is read.
	MaxBytes int64
}

// WebFetch downloads a page and extracts its readable text. Every target,
// including redirect hops, passes through the validator first.
type WebFetch struct {
	cfg       WebFetchConfig
	validator URLValidator
	http      *http.Client
	logger    log.Logger
}

// NewWebFetch creates the web fetch tool.
func NewWebFetch(cfg WebFetchConfig, validator URLValidator, logger log.Logger) (*WebFetch, error) {
	if validator == nil {
		return nil, fmt.Errorf("tools: url validator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("tools: logger is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxFetchBytes
	}

	return &WebFetch{
		cfg:       cfg,
		validator: validator,
		http:      validator.Client(cfg.Timeout),
		logger:    logger,
	}, nil
}

func (t *WebFetch) Name() string { return WebFetchName }

func (t *WebFetch) Description() string {
	return "Fetch a web page by URL and return its readable article text."
}

// Call fetches the page named by the "url" parameter and strips it down to
// article content.
func (t *WebFetch) Call(ctx context.Context, params map[string]any) ([]collate.Output, error) {
	rawURL := stringParam(params, "url")
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrMissingURL
	}

	if err := t.validator.Validate(rawURL); err != nil {
		return nil, fmt.Errorf("tools: rejected url %q: %w", rawURL, err)
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tools: parsing url %q: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tools: building fetch request: %w", err)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: fetching %s: %w", pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tools: fetching %s: status %d", pageURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, t.cfg.MaxBytes)
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("tools: extracting article from %s: %w", pageURL, err)
	}

	t.logger.Debug("web fetch completed",
		"url", pageURL.String(),
		"title", article.Title,
		"length", len(article.TextContent))

	return []collate.Output{{
		"title": article.Title,
		"url":   pageURL.String(),
		"text":  strings.TrimSpace(article.TextContent),
	}}, nil
}
