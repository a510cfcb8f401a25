package trakt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelpick/internal/config"
	"github.com/reelpick/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *tokenStore) (*Client, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trakt_tokens.json")
	if tokens != nil {
		data, err := json.Marshal(tokens)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0600))
	}

	c := NewClient(config.TraktConfig{
		Enabled:      true,
		BaseURL:      srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenPath:    path,
	})
	c.client.SetRetryCount(0)
	return c, path
}

func TestWatchedShows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/watched/shows", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("trakt-api-key"))
		assert.Equal(t, "2", r.Header.Get("trakt-api-version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"plays":3,"show":{"title":"Severance","year":2022,"ids":{"trakt":1,"tmdb":95396}},
			"seasons":[{"number":1,"episodes":[{"number":1,"plays":1},{"number":2,"plays":2}]}]}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &tokenStore{AccessToken: "tok", RefreshToken: "ref", ExpiresAt: time.Now().Add(90 * 24 * time.Hour)})
	require.NoError(t, c.Authorize(context.Background()))
	assert.True(t, c.IsAuthenticated())

	shows, err := c.WatchedShows(context.Background())
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.Equal(t, 95396, shows[0].Show.IDs.TMDB)
	require.Len(t, shows[0].Seasons, 1)
	assert.Len(t, shows[0].Seasons[0].Episodes, 2)
}

func TestWatched_NotAuthenticated(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, nil)
	_, err := c.WatchedMovies(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, calls)
}

func TestWatched_RefreshesExpiringToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/token":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "old-refresh", body["refresh_token"])
			assert.Equal(t, "refresh_token", body["grant_type"])
			_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"new-refresh","expires_in":7776000,"created_at":` +
				strconv.FormatInt(time.Now().Unix(), 10) + `}`))
		case "/users/me/watched/movies":
			assert.Equal(t, "Bearer new", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`[{"plays":1,"movie":{"title":"Heat","year":1995,"ids":{"tmdb":949}}}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, path := newTestClient(t, srv, &tokenStore{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(time.Hour)})

	movies, err := c.WatchedMovies(context.Background())
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, "Heat", movies[0].Movie.Title)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved tokenStore
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "new", saved.AccessToken)
	assert.Equal(t, "new-refresh", saved.RefreshToken)
}

func TestPoll(t *testing.T) {
	tests := []struct {
		status    int
		wantToken bool
		wantErr   error
	}{
		{status: http.StatusOK, wantToken: true},
		{status: http.StatusBadRequest},
		{status: http.StatusTooManyRequests},
		{status: http.StatusGone, wantErr: ErrAuthExpired},
		{status: http.StatusTeapot, wantErr: ErrAuthDenied},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/oauth/device/token", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_in":60,"created_at":1700000000}`))
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv, nil)
			token, err := c.auth.poll(context.Background(), "device")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token != nil)
		})
	}
}

func TestTokenResponseStore(t *testing.T) {
	s := tokenResponse{AccessToken: "a", ExpiresIn: 3600, CreatedAt: 1700000000}.store()
	assert.Equal(t, time.Unix(1700003600, 0), s.ExpiresAt)
}

func TestIsConfigured(t *testing.T) {
	assert.False(t, NewClient(config.TraktConfig{ClientID: "x"}).IsConfigured())
	assert.False(t, NewClient(config.TraktConfig{Enabled: true}).IsConfigured())
	assert.True(t, NewClient(config.TraktConfig{Enabled: true, ClientID: "x"}).IsConfigured())
}
