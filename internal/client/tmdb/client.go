package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/reelpick/internal/config"
	"github.com/reelpick/pkg/logger"
)

var (
	ErrNotConfigured    = errors.New("TMDB API key is not configured")
	ErrNotFound         = errors.New("TMDB item not found")
	ErrRateLimited      = errors.New("TMDB API rate limited")
	ErrInvalidMediaType = errors.New("media type must be movie or tv")
)

type Client struct {
	client   *resty.Client
	apiKey   string
	language string
}

func NewClient(cfg config.TMDBConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetQueryParam("api_key", cfg.APIKey).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	if cfg.Language != "" {
		client.SetQueryParam("language", cfg.Language)
	}

	return &Client{
		client:   client,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
	}
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Details returns the raw TMDB document for a movie or series.
func (c *Client) Details(ctx context.Context, mediaType string, id int) (json.RawMessage, error) {
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}
	return c.get(ctx, fmt.Sprintf("/%s/%d", mediaType, id), nil)
}

// Search runs /search/movie or /search/tv and returns the raw result page.
func (c *Client) Search(ctx context.Context, mediaType, query string, page int) (json.RawMessage, error) {
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	params := map[string]string{
		"query":         query,
		"page":          strconv.Itoa(page),
		"include_adult": "false",
	}
	return c.get(ctx, "/search/"+mediaType, params)
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var apiErr ErrorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetError(&apiErr).
		Get(path)

	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}

	if resp.IsError() {
		logger.Debugf("[tmdb] %s → %d %s", path, resp.StatusCode(), apiErr.StatusMessage)
		switch resp.StatusCode() {
		case http.StatusNotFound:
			return nil, ErrNotFound
		case http.StatusTooManyRequests:
			return nil, ErrRateLimited
		default:
			return nil, fmt.Errorf("API error: status=%d", resp.StatusCode())
		}
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON from %s", path)
	}
	return json.RawMessage(body), nil
}

func checkMediaType(mediaType string) error {
	if mediaType != MediaTypeMovie && mediaType != MediaTypeTV {
		return fmt.Errorf("%w: %q", ErrInvalidMediaType, mediaType)
	}
	return nil
}
