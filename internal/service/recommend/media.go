package recommend

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the media variant, fixed once at ingestion.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "tv"
)

// ItemID is a caller-supplied identifier. The key is the string-coerced
// form used for every comparison; numeric ids marshal back as numbers.
type ItemID struct {
	key     string
	numeric bool
}

// NumericID builds an id that came in as a JSON number.
func NumericID(n float64) ItemID {
	return ItemID{key: formatNumber(n), numeric: true}
}

// formatNumber renders the shortest round-trip form of n: plain decimal in
// [1e-6, 1e21), exponent form such as 1e+21 or 1e-7 outside it.
func formatNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	if a := math.Abs(n); a >= 1e-6 && a < 1e21 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(n, 'e', -1, 64), "e")
	return mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
}

// StringID builds an id that came in as a JSON string.
func StringID(s string) ItemID {
	return ItemID{key: s}
}

func (id ItemID) String() string { return id.key }

func (id ItemID) IsZero() bool { return id.key == "" }

func (id ItemID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.key), nil
	}
	return []byte(strconv.Quote(id.key)), nil
}

// CoerceID converts a decoded JSON value into an ItemID. Anything other than
// a number or a non-empty string is treated as a missing id.
func CoerceID(v any) (ItemID, bool) {
	switch t := v.(type) {
	case float64:
		return NumericID(t), true
	case int:
		return NumericID(float64(t)), true
	case int64:
		return NumericID(float64(t)), true
	case string:
		if t == "" {
			return ItemID{}, false
		}
		return StringID(t), true
	default:
		return ItemID{}, false
	}
}

// itemKey is the (mediaType, id) identity used for de-duplication and lookups.
func itemKey(kind Kind, id ItemID) string {
	return string(kind) + ":" + id.key
}

// MediaItem is a normalized favorites/watched entry.
type MediaItem struct {
	ID              ItemID
	Kind            Kind
	Title           string
	Year            *string
	Genres          []string
	Popularity      *float64
	VoteAverage     *float64
	WatchedEpisodes int
	TotalEpisodes   *int
	Completed       bool
}

// InferKind resolves the media type of a raw entry: an explicit mediaType of
// "tv" or "movie" wins, otherwise a first_air_date marks a series.
func InferKind(raw map[string]any) Kind {
	switch raw["mediaType"] {
	case string(KindSeries):
		return KindSeries
	case string(KindMovie):
		return KindMovie
	}
	if truthy(raw["first_air_date"]) {
		return KindSeries
	}
	return KindMovie
}

// ParseMediaItems normalizes an untrusted list. Non-sequences yield nil;
// non-object entries and entries without an id are dropped.
func ParseMediaItems(raw any) []MediaItem {
	switch list := raw.(type) {
	case []any:
		items := make([]MediaItem, 0, len(list))
		for _, entry := range list {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if item, ok := ParseMediaItem(m); ok {
				items = append(items, item)
			}
		}
		return items
	case []map[string]any:
		items := make([]MediaItem, 0, len(list))
		for _, m := range list {
			if item, ok := ParseMediaItem(m); ok {
				items = append(items, item)
			}
		}
		return items
	default:
		return nil
	}
}

// ParseMediaItem normalizes a single entry. It reports false when the entry has no usable id.
func ParseMediaItem(raw map[string]any) (MediaItem, bool) {
	if raw == nil {
		return MediaItem{}, false
	}
	id, ok := CoerceID(raw["id"])
	if !ok {
		return MediaItem{}, false
	}

	item := MediaItem{
		ID:          id,
		Kind:        InferKind(raw),
		Title:       firstString(raw, "title", "name"),
		Year:        yearOf(raw),
		Genres:      genresOf(raw["genres"]),
		Popularity:  numberOf(raw["popularity"]),
		VoteAverage: numberOf(raw["vote_average"]),
	}

	if item.Kind == KindMovie {
		item.Completed = true
		return item, true
	}

	item.WatchedEpisodes = countWatchedEpisodes(raw["seasons"])
	if total := numberOf(raw["number_of_episodes"]); total != nil && *total > 0 {
		n := int(*total)
		item.TotalEpisodes = &n
	}
	if item.TotalEpisodes != nil {
		item.Completed = item.WatchedEpisodes >= *item.TotalEpisodes
	} else {
		item.Completed = raw["completed"] == true
	}
	return item, true
}

// countWatchedEpisodes sums watchedEpisodes lengths across season records.
// Seasons may be keyed by season number or sent as a list.
func countWatchedEpisodes(seasons any) int {
	var records []any
	switch s := seasons.(type) {
	case map[string]any:
		for _, rec := range s {
			records = append(records, rec)
		}
	case []any:
		records = s
	default:
		return 0
	}

	total := 0
	for _, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		if eps, ok := m["watchedEpisodes"].([]any); ok {
			total += len(eps)
		}
	}
	return total
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func yearOf(raw map[string]any) *string {
	date := firstString(raw, "release_date", "first_air_date")
	if date == "" {
		return nil
	}
	if len(date) > 4 {
		date = date[:4]
	}
	return &date
}

func genresOf(v any) []string {
	genres := []string{}
	list, ok := v.([]any)
	if !ok {
		return genres
	}
	for _, g := range list {
		switch t := g.(type) {
		case string:
			genres = append(genres, t)
		case map[string]any:
			if name, ok := t["name"].(string); ok {
				genres = append(genres, name)
			}
		}
	}
	return genres
}

func numberOf(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	default:
		return nil
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
