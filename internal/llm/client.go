// Package llm talks to OpenAI-compatible chat completion endpoints (OpenAI,
// OpenRouter and self-hosted gateways).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/answer-eval/internal/config"
	"github.com/mind-engage/answer-eval/internal/logger"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"

	defaultOpenAIBase     = "https://api.openai.com/v1"
	defaultOpenRouterBase = "https://openrouter.ai/api/v1"
	defaultModel          = "gpt-4o-mini"
)

var ErrMissingAPIKey = errors.New("missing OPENAI_API_KEY; please configure your LLM credentials")

// Client is what the rubric generator and scorer call.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Metadata identifies the model behind a client; it is stored with every evaluation.
type Metadata struct {
	Provider     string `json:"provider"`
	ModelID      string `json:"model_id"`
	ModelVersion string `json:"model_version"`
}

type Options struct {
	Provider     string
	BaseURL      string
	APIKey       string
	Model        string
	ModelVersion string
	// OpenRouter attribution headers.
	Referer string
	Title   string

	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OptionsFromConfig maps the LLM section of the service config.
func OptionsFromConfig(c config.LLM) Options {
	return Options{
		Provider:     c.Provider,
		BaseURL:      c.BaseURL,
		APIKey:       c.APIKey,
		Model:        c.Model,
		ModelVersion: c.ModelVersion,
		Referer:      c.Referer,
		Title:        c.Title,
		MaxRetries:   c.MaxRetries,
		Timeout:      c.Timeout,
	}
}

// HTTPError is a non-2xx answer from the completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, body)
}

func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type OpenAI struct {
	log        *logger.Logger
	meta       Metadata
	baseURL    string
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

func New(opts Options, log *logger.Logger) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	provider := config.DetectProvider(opts.Provider, opts.BaseURL)
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	version := opts.ModelVersion
	if version == "" {
		version = provider + ":" + model
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	headers := map[string]string{}
	if provider == ProviderOpenRouter {
		if base == "" {
			base = defaultOpenRouterBase
		}
		if opts.Referer != "" {
			headers["HTTP-Referer"] = opts.Referer
		}
		if opts.Title != "" {
			headers["X-Title"] = opts.Title
		}
	}
	if base == "" {
		base = defaultOpenAIBase
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &OpenAI{
		log:        log.With("component", "llm", "provider", provider, "model", model),
		meta:       Metadata{Provider: provider, ModelID: model, ModelVersion: version},
		baseURL:    base,
		apiKey:     opts.APIKey,
		headers:    headers,
		httpClient: hc,
		maxRetries: retries,
		backoff:    backoff,
	}, nil
}

func (c *OpenAI) Metadata() Metadata { return c.meta }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message at temperature 0 and returns
// the trimmed text of the first choice.
func (c *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.meta.ModelID,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}
	var out chatResponse
	if err := c.do(ctx, "/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAI) do(ctx context.Context, path string, body, out any) error {
	backoff := c.backoff
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			c.log.Debug("llm request done", "path", path, "attempts", attempt+1, "elapsed", time.Since(start).String())
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("llm decode: %w", err)
			}
			return nil
		}
		if !retryable(err) || attempt >= c.maxRetries {
			return err
		}

		wait := backoff
		var he *HTTPError
		if errors.As(err, &he) && he.retryAfter > 0 {
			wait = he.retryAfter
		}
		c.log.Warn("llm request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", wait.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

func (c *OpenAI) doOnce(ctx context.Context, path string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return raw, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// transport failures without a response (connection reset, EOF)
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}
