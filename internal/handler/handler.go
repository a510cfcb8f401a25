package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/reelpick/internal/client/llm"
	"github.com/reelpick/internal/client/tmdb"
	"github.com/reelpick/internal/client/trakt"
	"github.com/reelpick/internal/scheduler"
	"github.com/reelpick/internal/service/history"
	"github.com/reelpick/internal/service/library"
	"github.com/reelpick/internal/service/metadata"
	"github.com/reelpick/internal/service/recommend"
	"github.com/reelpick/internal/version"
	"github.com/reelpick/pkg/logger"
)

// recommendFailure is the only error text clients see for recommendation failures.
const recommendFailure = "Failed to generate recommendations"

// ProviderStatus reports the generative-text provider's state.
type ProviderStatus interface {
	IsConfigured() bool
	BreakerState() string
}

type Handler struct {
	recommend *recommend.Service
	metadata  *metadata.Service
	library   *library.Store
	history   *history.Service // nil when the Trakt import is disabled
	provider  ProviderStatus
	scheduler *scheduler.Scheduler
}

func New(recommendService *recommend.Service, metadataService *metadata.Service, store *library.Store, historyService *history.Service, provider ProviderStatus, sched *scheduler.Scheduler) *Handler {
	return &Handler{
		recommend: recommendService,
		metadata:  metadataService,
		library:   store,
		history:   historyService,
		provider:  provider,
		scheduler: sched,
	}
}

// RegisterRoutes sets up the HTTP routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)

		// Recommendations
		api.POST("/recommend", h.Recommend)
		api.POST("/recommend/library", h.RecommendFromLibrary)
		api.GET("/recommend/candidates", h.Candidates)

		// Metadata proxy
		api.GET("/metadata/search", h.SearchMetadata)
		api.GET("/metadata/:mediaType/:id", h.MetadataDetails)

		// Library
		api.GET("/library/:list", h.GetList)
		api.PUT("/library/:list", h.ReplaceList)
		api.POST("/library/:list", h.UpsertEntry)
		api.DELETE("/library/:list/:mediaType/:id", h.RemoveEntry)

		// Maintenance
		api.POST("/maintenance", h.RunMaintenance)

		// Watch-history import
		api.POST("/import/trakt", h.ImportHistory)
		api.GET("/import/trakt", h.LastImport)
	}
}

// Health returns service health status
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"version":        version.String(),
		"scheduler":      h.scheduler.IsRunning(),
		"llm_configured": h.provider.IsConfigured(),
		"llm_breaker":    h.provider.BreakerState(),
		"library_dirty":  h.library.Dirty(),
	})
}

// Recommend accepts {favorites?, watched?}. A body that is not a JSON object counts as empty lists.
func (h *Handler) Recommend(c *gin.Context) {
	var favorites, watched any
	if data, err := c.GetRawData(); err == nil && len(data) > 0 {
		var body map[string]any
		if err := json.Unmarshal(data, &body); err == nil {
			favorites, watched = body["favorites"], body["watched"]
		} else {
			logger.Debugf("[recommend] ignoring malformed body: %v", err)
		}
	}

	resp, err := h.recommend.Recommend(c.Request.Context(), favorites, watched)
	if err != nil {
		h.recommendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecommendFromLibrary recommends from the stored lists.
func (h *Handler) RecommendFromLibrary(c *gin.Context) {
	resp, err := h.recommend.RecommendFromLibrary(c.Request.Context())
	if err != nil {
		h.recommendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Candidates shows the pool the stored lists produce.
func (h *Handler) Candidates(c *gin.Context) {
	pool := h.recommend.CandidatesFromLibrary()
	c.JSON(http.StatusOK, gin.H{
		"count":      len(pool),
		"candidates": pool,
	})
}

func (h *Handler) recommendError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, recommend.ErrNotConfigured):
		status = http.StatusInternalServerError
	case errors.As(err, &apiErr) && apiErr.IsRateLimited():
		status = http.StatusTooManyRequests
	}
	logger.Errorf("❌ Recommendation failed: %v", err)
	c.JSON(status, gin.H{"error": recommendFailure})
}

// MetadataDetails proxies a TMDB details lookup through the cache.
func (h *Handler) MetadataDetails(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return
	}

	raw, err := h.metadata.Details(c.Request.Context(), c.Param("mediaType"), id)
	if err != nil {
		metadataError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// SearchMetadata proxies a TMDB search through the cache.
func (h *Handler) SearchMetadata(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	raw, err := h.metadata.Search(c.Request.Context(), c.DefaultQuery("type", tmdb.MediaTypeMovie), query, page)
	if err != nil {
		metadataError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func metadataError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tmdb.ErrInvalidMediaType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tmdb.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, tmdb.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "metadata provider is rate limiting, try again shortly"})
	case errors.Is(err, tmdb.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metadata provider is not configured"})
	default:
		logger.Errorf("❌ Metadata lookup failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "metadata lookup failed"})
	}
}

// GetList returns a stored list.
func (h *Handler) GetList(c *gin.Context) {
	list, ok := listParam(c)
	if !ok {
		return
	}
	entries := h.library.Get(list)
	c.JSON(http.StatusOK, gin.H{
		"list":  list,
		"count": len(entries),
		"items": entries,
	})
}

// ReplaceList overwrites a list with a JSON array.
func (h *Handler) ReplaceList(c *gin.Context) {
	list, ok := listParam(c)
	if !ok {
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}
	var entries []any
	if err := json.Unmarshal(data, &entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON array"})
		return
	}

	stored := h.library.Replace(list, entries)
	logger.Infof("📚 Replaced %s: %d items (%d dropped)", list, len(stored), len(entries)-len(stored))
	c.JSON(http.StatusOK, gin.H{
		"list":  list,
		"count": len(stored),
		"items": stored,
	})
}

// UpsertEntry adds or replaces a single item.
func (h *Handler) UpsertEntry(c *gin.Context) {
	list, ok := listParam(c)
	if !ok {
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}

	entry, err := h.library.Upsert(list, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RemoveEntry deletes one item by media type and id.
func (h *Handler) RemoveEntry(c *gin.Context) {
	list, ok := listParam(c)
	if !ok {
		return
	}

	if !h.library.Remove(list, c.Param("mediaType"), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RunMaintenance triggers the scheduled flush and cache sweep out of band.
func (h *Handler) RunMaintenance(c *gin.Context) {
	h.scheduler.RunNow()
	c.JSON(http.StatusAccepted, gin.H{"message": "maintenance scheduled"})
}

func listParam(c *gin.Context) (library.List, bool) {
	list, err := library.ParseList(c.Param("list"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return list, true
}

// ImportHistory merges Trakt watch history into the watched list.
func (h *Handler) ImportHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trakt import is not enabled"})
		return
	}

	res, err := h.history.Import(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, history.ErrImportRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, trakt.ErrNotAuthenticated):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trakt is not authorized yet"})
	default:
		logger.Errorf("❌ History import failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "history import failed"})
	}
}

// LastImport returns the most recent import result.
func (h *Handler) LastImport(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trakt import is not enabled"})
		return
	}

	last := h.history.LastRun()
	if last == nil {
		c.JSON(http.StatusOK, gin.H{"message": "no import has run yet"})
		return
	}
	c.JSON(http.StatusOK, last)
}
