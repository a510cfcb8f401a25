package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelpick/internal/client/llm"
	"github.com/reelpick/internal/metrics"
	"github.com/reelpick/pkg/logger"
)

var (
	ErrNotConfigured = errors.New("recommendation provider is not configured")
	ErrUpstream      = errors.New("recommendation provider failed")
)

// EmptyPoolMessage explains an empty result when there is nothing to recommend from.
const EmptyPoolMessage = "Add a few favorites or start watching a show to get picks."

// Completer is the generative-text collaborator.
type Completer interface {
	IsConfigured() bool
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// LibrarySource supplies the stored favorites and watched lists.
type LibrarySource interface {
	Favorites() []map[string]any
	Watched() []map[string]any
}

// Response is the body returned to the caller.
type Response struct {
	Picks   []Pick `json:"picks"`
	Message string `json:"message,omitempty"`
}

// Service relays one recommendation request to the model per call.
// It holds no per-request state.
type Service struct {
	llm         Completer
	library     LibrarySource
	temperature func() float64
}

func NewService(completer Completer, library LibrarySource, temperature func() float64) *Service {
	if temperature == nil {
		temperature = func() float64 { return 0.7 }
	}
	return &Service{
		llm:         completer,
		library:     library,
		temperature: temperature,
	}
}

// Recommend builds the pool from caller-supplied lists and asks the model for picks.
// favorites and watched are decoded JSON values; anything that is not a list counts as empty.
func (s *Service) Recommend(ctx context.Context, favorites, watched any) (*Response, error) {
	if !s.llm.IsConfigured() {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return nil, ErrNotConfigured
	}
	return s.recommend(ctx, ParseMediaItems(favorites), ParseMediaItems(watched))
}

// RecommendFromLibrary runs Recommend over the stored lists.
func (s *Service) RecommendFromLibrary(ctx context.Context) (*Response, error) {
	if !s.llm.IsConfigured() {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return nil, ErrNotConfigured
	}
	favorites, watched := s.libraryItems()
	return s.recommend(ctx, favorites, watched)
}

// CandidatesFromLibrary returns the pool the stored lists would produce, without calling the model.
func (s *Service) CandidatesFromLibrary() []Candidate {
	favorites, watched := s.libraryItems()
	return BuildCandidatePool(favorites, watched)
}

func (s *Service) libraryItems() ([]MediaItem, []MediaItem) {
	if s.library == nil {
		return nil, nil
	}
	return ParseMediaItems(s.library.Favorites()), ParseMediaItems(s.library.Watched())
}

func (s *Service) recommend(ctx context.Context, favorites, watched []MediaItem) (*Response, error) {
	start := time.Now()

	pool := BuildCandidatePool(favorites, watched)
	logger.Debugf("[recommend] pool=%d (favorites=%d watched=%d)", len(pool), len(favorites), len(watched))

	if len(pool) == 0 {
		metrics.Recommendations.WithLabelValues("empty").Inc()
		return &Response{Picks: []Pick{}, Message: EmptyPoolMessage}, nil
	}

	system, user, err := BuildPrompt(pool)
	if err != nil {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return nil, err
	}

	raw, err := s.llm.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		Temperature: s.temperature(),
	})
	if err != nil {
		metrics.Recommendations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	picks, fromModel := validatePicks(raw, pool)
	outcome := "model"
	if !fromModel {
		outcome = "fallback"
		logger.Warnf("⚠️  Model returned no usable picks, using first %d candidates", len(picks))
	}
	metrics.Recommendations.WithLabelValues(outcome).Inc()

	logger.Infof("🎯 Recommended %d picks from %d candidates (%s) in %v",
		len(picks), len(pool), outcome, time.Since(start).Round(time.Millisecond))

	return &Response{Picks: picks}, nil
}
