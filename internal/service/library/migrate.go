package library

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

const currentVersion = 2

// document is the on-disk format.
type document struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Favorites []Entry   `json:"favorites"`
	Watched   []Entry   `json:"watched"`
}

// loaded holds lists as untrusted values until they are normalized.
type loaded struct {
	UpdatedAt time.Time
	Favorites []any
	Watched   []any
}

// legacyKeys lists, per list, the keys older exports used, newest first.
var legacyKeys = map[List][]string{
	Favorites: {"favorites", "favourites"},
	Watched:   {"watched", "watchlist"},
}

// decodeDocument reads any known format. migrated is true when the input was
// not in the current format.
//
// Version-less documents are browser storage exports: each list may be a JSON
// array or a string holding a JSON-encoded array.
func decodeDocument(data []byte) (loaded, bool, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return loaded{}, false, err
	}

	var version int
	if raw, ok := top["version"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return loaded{}, false, fmt.Errorf("version: %w", err)
		}
	}
	if version > currentVersion {
		return loaded{}, false, fmt.Errorf("unsupported library version %d", version)
	}

	var out loaded
	if raw, ok := top["updated_at"]; ok {
		_ = json.Unmarshal(raw, &out.UpdatedAt)
	}

	if version == currentVersion {
		out.Favorites = decodeList(top["favorites"])
		out.Watched = decodeList(top["watched"])
		return out, false, nil
	}

	out.Favorites = decodeLegacyList(top, Favorites)
	out.Watched = decodeLegacyList(top, Watched)
	return out, true, nil
}

func decodeLegacyList(top map[string]json.RawMessage, list List) []any {
	for _, key := range legacyKeys[list] {
		if raw, ok := top[key]; ok {
			return decodeList(raw)
		}
	}
	return nil
}

// decodeList accepts an array or a string containing an array; anything else is empty.
func decodeList(raw json.RawMessage) []any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
	}
	list, _ := v.([]any)
	return list
}
