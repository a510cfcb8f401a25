package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reelpick/internal/client/trakt"
	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/internal/service/library"
	"github.com/reelpick/internal/service/recommend"
	"github.com/reelpick/pkg/logger"
)

var ErrImportRunning = errors.New("history import already running")

// Source is the watch-history provider.
type Source interface {
	WatchedShows(ctx context.Context) ([]trakt.WatchedShow, error)
	WatchedMovies(ctx context.Context) ([]trakt.WatchedMovie, error)
}

// Library receives the imported entries.
type Library interface {
	Merge(list library.List, fields, defaults library.Entry) (library.Entry, error)
}

// Service imports Trakt watch history into the watched list.
type Service struct {
	source  Source
	library Library

	running sync.Mutex

	mu   sync.RWMutex
	last *Result
}

// Result summarizes one import run.
type Result struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Shows     int       `json:"shows"`
	Movies    int       `json:"movies"`
	Skipped   []string  `json:"skipped,omitempty"` // titles without a TMDB id
}

func NewService(source Source, lib Library) *Service {
	return &Service{source: source, library: lib}
}

// Import merges watched shows and movies into the watched list. Progress
// fields are overwritten on every run; titles and dates only fill gaps so
// richer metadata already in the library is kept.
func (s *Service) Import(ctx context.Context) (*Result, error) {
	if !s.running.TryLock() {
		return nil, ErrImportRunning
	}
	defer s.running.Unlock()

	start := time.Now()
	logger.Info("[history] Starting Trakt import")

	shows, err := s.source.WatchedShows(ctx)
	if err != nil {
		logger.Errorf("[history] Failed to get watched shows: %v", err)
		return nil, fmt.Errorf("getting watched shows: %w", err)
	}
	movies, err := s.source.WatchedMovies(ctx)
	if err != nil {
		logger.Errorf("[history] Failed to get watched movies: %v", err)
		return nil, fmt.Errorf("getting watched movies: %w", err)
	}

	res := &Result{StartedAt: start}
	for _, ws := range shows {
		fields, defaults, ok := showEntry(ws)
		if ok && s.merge(fields, defaults) {
			res.Shows++
			continue
		}
		res.Skipped = append(res.Skipped, ws.Show.Title)
	}
	for _, wm := range movies {
		fields, defaults, ok := movieEntry(wm)
		if ok && s.merge(fields, defaults) {
			res.Movies++
			continue
		}
		res.Skipped = append(res.Skipped, wm.Movie.Title)
	}
	res.Duration = time.Since(start).Round(time.Millisecond).String()

	metrics.HistoryImported.WithLabelValues(string(recommend.KindSeries)).Add(float64(res.Shows))
	metrics.HistoryImported.WithLabelValues(string(recommend.KindMovie)).Add(float64(res.Movies))
	metrics.HistoryImported.WithLabelValues("skipped").Add(float64(len(res.Skipped)))

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	printSummary(res)
	return res, nil
}

// LastRun returns the most recent result, or nil if no import has finished.
func (s *Service) LastRun() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Service) merge(fields, defaults library.Entry) bool {
	if _, err := s.library.Merge(library.Watched, fields, defaults); err != nil {
		logger.Warnf("[history] Skipping %v: %v", fields["id"], err)
		return false
	}
	return true
}

// showEntry converts a watched show into library fields. Specials (season 0)
// are left out and plays from before a Trakt progress reset are ignored.
func showEntry(ws trakt.WatchedShow) (fields, defaults library.Entry, ok bool) {
	if ws.Show.IDs.TMDB == 0 {
		return nil, nil, false
	}

	seasons := make(map[string]any)
	for _, season := range ws.Seasons {
		if season.Number == 0 {
			continue
		}
		episodes := make([]any, 0, len(season.Episodes))
		for _, ep := range season.Episodes {
			if ws.ResetAt != nil && ep.LastWatchedAt.Before(*ws.ResetAt) {
				continue
			}
			episodes = append(episodes, ep.Number)
		}
		if len(episodes) > 0 {
			seasons[strconv.Itoa(season.Number)] = map[string]any{"watchedEpisodes": episodes}
		}
	}

	fields = library.Entry{
		"id":            ws.Show.IDs.TMDB,
		"mediaType":     string(recommend.KindSeries),
		"seasons":       seasons,
		"traktId":       ws.Show.IDs.Trakt,
		"lastWatchedAt": ws.LastWatchedAt.UTC().Format(time.RFC3339),
	}
	defaults = library.Entry{"name": ws.Show.Title}
	if ws.Show.Year > 0 {
		defaults["first_air_date"] = strconv.Itoa(ws.Show.Year)
	}
	return fields, defaults, true
}

func movieEntry(wm trakt.WatchedMovie) (fields, defaults library.Entry, ok bool) {
	if wm.Movie.IDs.TMDB == 0 {
		return nil, nil, false
	}

	fields = library.Entry{
		"id":            wm.Movie.IDs.TMDB,
		"mediaType":     string(recommend.KindMovie),
		"plays":         wm.Plays,
		"traktId":       wm.Movie.IDs.Trakt,
		"lastWatchedAt": wm.LastWatchedAt.UTC().Format(time.RFC3339),
	}
	defaults = library.Entry{"title": wm.Movie.Title}
	if wm.Movie.Year > 0 {
		defaults["release_date"] = strconv.Itoa(wm.Movie.Year)
	}
	return fields, defaults, true
}

func printSummary(res *Result) {
	logger.Info("[history] ========================================")
	logger.Infof("[history] Imported %d shows, %d movies", res.Shows, res.Movies)
	if len(res.Skipped) > 0 {
		logger.Warnf("[history] SKIPPED (%d, no TMDB id):", len(res.Skipped))
		logger.Warn("  • " + strings.Join(res.Skipped, "\n  • "))
	}
	logger.Infof("[history] Completed in %s", res.Duration)
	logger.Info("[history] ========================================")
}
