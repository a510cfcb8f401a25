package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelpick/internal/client/llm"
	"github.com/reelpick/internal/client/tmdb"
	"github.com/reelpick/internal/client/trakt"
	"github.com/reelpick/internal/scheduler"
	"github.com/reelpick/internal/service/history"
	"github.com/reelpick/internal/service/library"
	"github.com/reelpick/internal/service/metadata"
	"github.com/reelpick/internal/service/recommend"
	"github.com/reelpick/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeProvider struct {
	configured bool
	response   string
	err        error
	calls      int
}

func (f *fakeProvider) IsConfigured() bool   { return f.configured }
func (f *fakeProvider) BreakerState() string { return "closed" }

func (f *fakeProvider) Complete(_ context.Context, _ llm.Request) (string, error) {
	f.calls++
	return f.response, f.err
}

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) Details(_ context.Context, mediaType string, id int) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(fmt.Sprintf(`{"id":%d,"type":%q}`, id, mediaType)), nil
}

func (f fakeFetcher) Search(_ context.Context, _, query string, page int) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(fmt.Sprintf(`{"page":%d,"query":%q}`, page, query)), nil
}

type fixture struct {
	router   *gin.Engine
	provider *fakeProvider
	store    *library.Store
}

func newFixture(t *testing.T, provider *fakeProvider, fetcher fakeFetcher) *fixture {
	t.Helper()

	store, err := library.Open(filepath.Join(t.TempDir(), "library.json"))
	require.NoError(t, err)

	meta := metadata.NewService(fetcher, metadata.NewCache(time.Minute, 10))
	rec := recommend.NewService(provider, store, nil)

	router := gin.New()
	New(rec, meta, store, nil, provider, scheduler.New(store, meta)).RegisterRoutes(router)

	return &fixture{router: router, provider: provider, store: store}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &fakeProvider{configured: true}, fakeFetcher{})

	w := f.do(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"dev","scheduler":false,"llm_configured":true,"llm_breaker":"closed","library_dirty":false}`, w.Body.String())
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name       string
		provider   *fakeProvider
		body       string
		wantStatus int
		wantBody   string
		wantCalls  int
	}{
		{
			name:       "picks",
			provider:   &fakeProvider{configured: true, response: `{"picks":[{"id":5,"mediaType":"movie","reason":"You liked it"}]}`},
			body:       `{"favorites":[{"id":5,"mediaType":"movie","title":"A"}],"watched":[]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"picks":[{"id":5,"mediaType":"movie","title":"A","reason":"You liked it"}]}`,
			wantCalls:  1,
		},
		{
			name:       "empty lists",
			provider:   &fakeProvider{configured: true},
			body:       `{"favorites":[],"watched":[]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"picks":[],"message":"` + recommend.EmptyPoolMessage + `"}`,
		},
		{
			name:       "malformed body counts as empty",
			provider:   &fakeProvider{configured: true},
			body:       `[1,2`,
			wantStatus: http.StatusOK,
			wantBody:   `{"picks":[],"message":"` + recommend.EmptyPoolMessage + `"}`,
		},
		{
			name:       "not configured",
			provider:   &fakeProvider{configured: false},
			body:       `{"favorites":[{"id":5,"title":"A"}]}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to generate recommendations"}`,
		},
		{
			name:       "upstream failure hides detail",
			provider:   &fakeProvider{configured: true, err: errors.New("secret upstream detail")},
			body:       `{"favorites":[{"id":5,"title":"A"}]}`,
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"Failed to generate recommendations"}`,
			wantCalls:  1,
		},
		{
			name:       "provider rate limited",
			provider:   &fakeProvider{configured: true, err: &llm.APIError{StatusCode: http.StatusTooManyRequests, Body: "quota"}},
			body:       `{"favorites":[{"id":5,"title":"A"}]}`,
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `{"error":"Failed to generate recommendations"}`,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.provider, fakeFetcher{})

			w := f.do(http.MethodPost, "/api/v1/recommend", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Equal(t, tt.wantCalls, tt.provider.calls)
		})
	}
}

func TestRecommendFromLibrary(t *testing.T) {
	provider := &fakeProvider{configured: true, response: "no json here"}
	f := newFixture(t, provider, fakeFetcher{})

	w := f.do(http.MethodPut, "/api/v1/library/favorites", `[{"id":1,"title":"One"},{"id":2,"title":"Two"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/recommend/candidates", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = f.do(http.MethodPost, "/api/v1/recommend/library", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Picks []struct {
			Title  string `json:"title"`
			Reason string `json:"reason"`
		} `json:"picks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Picks, 2)
	assert.Equal(t, "One", resp.Picks[0].Title)
	assert.Equal(t, recommend.FallbackReason, resp.Picks[0].Reason)
}

func TestMetadata(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, fakeFetcher{})

	w := f.do(http.MethodGet, "/api/v1/metadata/tv/1399", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1399,"type":"tv"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/v1/metadata/search?q=matrix&page=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"page":2,"query":"matrix"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/v1/metadata/search", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/v1/metadata/movie/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetadataErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: tmdb.ErrInvalidMediaType, want: http.StatusBadRequest},
		{err: tmdb.ErrNotFound, want: http.StatusNotFound},
		{err: tmdb.ErrRateLimited, want: http.StatusTooManyRequests},
		{err: tmdb.ErrNotConfigured, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newFixture(t, &fakeProvider{}, fakeFetcher{err: tt.err})
			w := f.do(http.MethodGet, "/api/v1/metadata/movie/1", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestLibraryRoutes(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, fakeFetcher{})

	w := f.do(http.MethodGet, "/api/v1/library/queue", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPut, "/api/v1/library/watched", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/library/watched", `{"title":"no id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/library/watched", `{"id":1399,"name":"Thrones","first_air_date":"2011-04-17"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mediaType":"tv"`)
	assert.True(t, f.store.Dirty())

	w = f.do(http.MethodGet, "/api/v1/library/watched", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = f.do(http.MethodDelete, "/api/v1/library/watched/movie/1399", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/library/watched/tv/1399", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.store.Watched())
}

func TestRunMaintenance(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, fakeFetcher{})

	w := f.do(http.MethodPost, "/api/v1/library/favorites", `{"id":7,"title":"Heat"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, f.store.Dirty())

	w = f.do(http.MethodPost, "/api/v1/maintenance", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"message":"maintenance scheduled"}`, w.Body.String())
	assert.Eventually(t, func() bool { return !f.store.Dirty() }, time.Second, 10*time.Millisecond)
}

type fakeHistory struct{ err error }

func (f fakeHistory) WatchedShows(context.Context) ([]trakt.WatchedShow, error) {
	return []trakt.WatchedShow{{Show: trakt.Show{Title: "The Wire", IDs: trakt.IDs{TMDB: 1438}}}}, f.err
}

func (f fakeHistory) WatchedMovies(context.Context) ([]trakt.WatchedMovie, error) {
	return nil, nil
}

func TestImportHistory(t *testing.T) {
	f := newFixture(t, &fakeProvider{}, fakeFetcher{})

	w := f.do(http.MethodPost, "/api/v1/import/trakt", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "disabled")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "not authorized", err: trakt.ErrNotAuthenticated, want: http.StatusServiceUnavailable},
		{name: "upstream", err: errors.New("boom"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := library.Open(filepath.Join(t.TempDir(), "library.json"))
			require.NoError(t, err)
			provider := &fakeProvider{}
			meta := metadata.NewService(fakeFetcher{}, metadata.NewCache(time.Minute, 10))

			router := gin.New()
			New(recommend.NewService(provider, store, nil), meta, store, history.NewService(fakeHistory{err: tt.err}, store), provider, scheduler.New(store, meta)).
				RegisterRoutes(router)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/import/trakt", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)

			if tt.err == nil {
				assert.Contains(t, w.Body.String(), `"shows":1`)
				assert.Len(t, store.Watched(), 1)

				w = httptest.NewRecorder()
				router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/import/trakt", nil))
				assert.Equal(t, http.StatusOK, w.Code)
				assert.Contains(t, w.Body.String(), `"shows":1`)
			}
		})
	}
}
