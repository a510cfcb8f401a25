package recommend

import "sort"

const (
	maxFavorites  = 30
	maxInProgress = 20
	maxFallback   = 40
)

// Candidate is a recommendable item handed to the model.
type Candidate struct {
	ID              ItemID   `json:"id"`
	MediaType       Kind     `json:"mediaType"`
	Title           string   `json:"title"`
	Year            *string  `json:"year"`
	Genres          []string `json:"genres"`
	Popularity      *float64 `json:"popularity"`
	VoteAverage     *float64 `json:"vote_average"`
	Completed       bool     `json:"completed"`
	WatchedEpisodes *int     `json:"watchedEpisodes"`
	TotalEpisodes   *int     `json:"totalEpisodes"`
	IsWatched       *bool    `json:"isWatched,omitempty"`
}

func (c Candidate) key() string {
	return itemKey(c.MediaType, c.ID)
}

func toCandidate(item MediaItem) Candidate {
	genres := item.Genres
	if genres == nil {
		genres = []string{}
	}
	c := Candidate{
		ID:          item.ID,
		MediaType:   item.Kind,
		Title:       item.Title,
		Year:        item.Year,
		Genres:      genres,
		Popularity:  item.Popularity,
		VoteAverage: item.VoteAverage,
		Completed:   item.Completed,
	}
	if item.Kind == KindSeries {
		watched := item.WatchedEpisodes
		c.WatchedEpisodes = &watched
		c.TotalEpisodes = item.TotalEpisodes
	} else {
		c.Completed = true
	}
	return c
}

// BuildCandidatePool picks up to 30 favorites followed by up to 20 unfinished
// series (most watched episodes first), keeping the first entry per
// (mediaType, id). When that leaves nothing, the first 40 watched entries are
// used instead.
//
// isWatched is only set on the primary path; fallback candidates carry no
// annotation. isWatched matches on id alone, ignoring the media type.
func BuildCandidatePool(favorites, watched []MediaItem) []Candidate {
	favorites = validItems(favorites)
	watched = validItems(watched)

	pool := make([]Candidate, 0, maxFavorites+maxInProgress)
	for _, item := range favorites[:min(len(favorites), maxFavorites)] {
		pool = append(pool, toCandidate(item))
	}

	var inProgress []MediaItem
	for _, item := range watched {
		if item.Kind == KindSeries && !item.Completed {
			inProgress = append(inProgress, item)
		}
	}
	sort.SliceStable(inProgress, func(i, j int) bool {
		return inProgress[i].WatchedEpisodes > inProgress[j].WatchedEpisodes
	})
	for _, item := range inProgress[:min(len(inProgress), maxInProgress)] {
		pool = append(pool, toCandidate(item))
	}

	pool = dedupe(pool)

	if len(pool) == 0 {
		fallback := make([]Candidate, 0, min(len(watched), maxFallback))
		for _, item := range watched[:min(len(watched), maxFallback)] {
			fallback = append(fallback, toCandidate(item))
		}
		return fallback
	}

	watchedIDs := make(map[string]struct{}, len(watched))
	for _, item := range watched {
		watchedIDs[item.ID.key] = struct{}{}
	}
	for i := range pool {
		_, seen := watchedIDs[pool[i].ID.key]
		pool[i].IsWatched = &seen
	}
	return pool
}

func dedupe(pool []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(pool))
	out := pool[:0]
	for _, c := range pool {
		k := c.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// validItems drops zero-id entries so hand-built slices get the same guarantees as parsed ones.
func validItems(items []MediaItem) []MediaItem {
	out := make([]MediaItem, 0, len(items))
	for _, item := range items {
		if !item.ID.IsZero() {
			out = append(out, item)
		}
	}
	return out
}
