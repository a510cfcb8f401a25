package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/reelpick/internal/config"
	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/pkg/logger"
)

var (
	ErrNotConfigured = errors.New("llm api key is not configured")
	ErrEmptyResponse = errors.New("llm response has no choices")
	ErrCircuitOpen   = errors.New("llm circuit breaker is open")
)

const maxErrorBody = 512

// Client calls an OpenAI-compatible chat completion endpoint. Calls are never
// retried; failures surface to the caller.
type Client struct {
	mu      sync.RWMutex
	client  *resty.Client
	model   string
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

func NewClient(cfg config.LLMConfig) *Client {
	c := &Client{}
	c.Reconfigure(cfg)
	return c
}

// Reconfigure swaps the provider settings; used on config hot-reload.
// The breaker is rebuilt so a new endpoint starts closed.
func (c *Client) Reconfigure(cfg config.LLMConfig) {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout()).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetRetryCount(0)

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "llm",
		Timeout: time.Duration(cfg.BreakerCooldown) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("⚡ Circuit breaker %s: %s → %s", name, from, to)
		},
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
	c.model = cfg.Model
	c.apiKey = cfg.APIKey
	c.limiter = rate.NewLimiter(limit, 1)
	c.breaker = breaker
}

// IsConfigured returns true if an api key is present.
func (c *Client) IsConfigured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// BreakerState reports the circuit breaker state for health output.
func (c *Client) BreakerState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.breaker.State().String()
}

// Complete sends one chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	c.mu.RLock()
	client, model, limiter, breaker := c.client, c.model, c.limiter, c.breaker
	configured := c.apiKey != ""
	c.mu.RUnlock()

	if !configured {
		return "", ErrNotConfigured
	}

	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	content, err := breaker.Execute(func() (string, error) {
		return c.do(ctx, client, model, req)
	})
	metrics.LLMRequestDuration.Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return content, err
}

func (c *Client) do(ctx context.Context, client *resty.Client, model string, req Request) (string, error) {
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    req.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var result chatResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/chat/completions")

	if err != nil {
		return "", fmt.Errorf("calling chat completions: %w", err)
	}

	if resp.IsError() {
		text := resp.String()
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return "", &APIError{StatusCode: resp.StatusCode(), Body: text}
	}

	if len(result.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	logger.Debugf("[llm] %s: %d prompt + %d completion tokens", result.Model,
		result.Usage.PromptTokens, result.Usage.CompletionTokens)

	return result.Choices[0].Message.Content, nil
}
