package recommend

import (
	json "github.com/goccy/go-json"
)

const (
	// MaxPicks caps the number of picks returned.
	MaxPicks = 3

	// FallbackReason accompanies picks taken straight from the pool when the
	// model output yields nothing usable.
	FallbackReason = "A good match from your favorites and shows in progress."
)

// Pick is a final recommendation. id, mediaType and title always come from a pool candidate.
type Pick struct {
	ID        ItemID `json:"id"`
	MediaType Kind   `json:"mediaType"`
	Title     string `json:"title"`
	Reason    string `json:"reason"`
}

// modelOutput is the parsed model response; picks is empty when absent or not a list.
type modelOutput struct {
	picks []any
}

// parseModelOutput never fails loudly: ok is false when raw is not JSON.
func parseModelOutput(raw string) (modelOutput, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return modelOutput{}, false
	}
	var out modelOutput
	if obj, ok := v.(map[string]any); ok {
		if picks, ok := obj["picks"].([]any); ok {
			out.picks = picks
		}
	}
	return out, true
}

// ValidateAndExtractPicks keeps the model's picks that name a pool candidate,
// in the model's order, up to MaxPicks. A candidate named twice is emitted twice. With no valid picks it falls back to
// the first MaxPicks candidates with FallbackReason.
func ValidateAndExtractPicks(raw string, pool []Candidate) []Pick {
	picks, _ := validatePicks(raw, pool)
	return picks
}

// validatePicks also reports whether the picks came from the model.
func validatePicks(raw string, pool []Candidate) ([]Pick, bool) {
	var offered []any
	if out, ok := parseModelOutput(raw); ok {
		offered = out.picks
	}

	byKey := make(map[string]Candidate, len(pool))
	for _, c := range pool {
		byKey[c.key()] = c
	}

	picks := make([]Pick, 0, MaxPicks)
	for _, entry := range offered {
		if len(picks) == MaxPicks {
			break
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, ok := CoerceID(m["id"])
		if !ok {
			continue
		}
		kind, _ := m["mediaType"].(string)
		c, ok := byKey[itemKey(Kind(kind), id)]
		if !ok {
			continue
		}

		reason, _ := m["reason"].(string)
		picks = append(picks, Pick{ID: c.ID, MediaType: c.MediaType, Title: c.Title, Reason: reason})
	}

	if len(picks) > 0 {
		return picks, true
	}

	for _, c := range pool[:min(len(pool), MaxPicks)] {
		picks = append(picks, Pick{ID: c.ID, MediaType: c.MediaType, Title: c.Title, Reason: FallbackReason})
	}
	return picks, false
}
