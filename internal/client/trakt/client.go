package trakt

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/reelpick/internal/config"
	"github.com/reelpick/pkg/logger"
)

// Client reads the authorized user's watch history.
type Client struct {
	client  *resty.Client
	auth    *authManager
	enabled bool
}

func NewClient(cfg config.TraktConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("trakt-api-version", "2").
		SetHeader("trakt-api-key", cfg.ClientID).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		client:  client,
		auth:    newAuthManager(client, cfg.ClientID, cfg.ClientSecret, cfg.TokenPath),
		enabled: cfg.Enabled && cfg.ClientID != "",
	}
}

func (c *Client) IsConfigured() bool {
	return c.enabled
}

// Authorize loads saved tokens or runs the device flow. It blocks until the
// user approves, the code expires, or ctx is cancelled.
func (c *Client) Authorize(ctx context.Context) error {
	if err := c.auth.authorize(ctx); err != nil {
		return fmt.Errorf("trakt auth: %w", err)
	}
	return nil
}

func (c *Client) IsAuthenticated() bool {
	return c.auth.authenticated()
}

// WatchedShows returns every show the user has watched with per-episode plays.
func (c *Client) WatchedShows(ctx context.Context) ([]WatchedShow, error) {
	var shows []WatchedShow
	if err := c.get(ctx, "/users/me/watched/shows", &shows); err != nil {
		return nil, fmt.Errorf("getting watched shows: %w", err)
	}
	logger.Debugf("[trakt] fetched %d watched shows", len(shows))
	return shows, nil
}

// WatchedMovies returns every movie the user has watched.
func (c *Client) WatchedMovies(ctx context.Context) ([]WatchedMovie, error) {
	var movies []WatchedMovie
	if err := c.get(ctx, "/users/me/watched/movies", &movies); err != nil {
		return nil, fmt.Errorf("getting watched movies: %w", err)
	}
	logger.Debugf("[trakt] fetched %d watched movies", len(movies))
	return movies, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	token, err := c.auth.token(ctx)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(result).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("API error: status=%d", resp.StatusCode())
	}
	return nil
}
