package recommend

import (
	"fmt"

	json "github.com/goccy/go-json"
)

const systemPrompt = `You are a movie and TV recommendation assistant.
You only ever recommend items from the candidate list you are given.
Respond ONLY with a JSON object, no prose and no code fences.`

const taskPrompt = "Choose up to 3 titles for the user to watch tonight from the candidates. " +
	"Favor unfinished series with the most progress and favorites with broad appeal. " +
	"Give each pick a one-sentence reason addressed to the user."

type pickSchema struct {
	ID        string `json:"id"`
	MediaType string `json:"mediaType"`
	Reason    string `json:"reason"`
}

type promptPayload struct {
	Task         string                  `json:"task"`
	OutputSchema map[string][]pickSchema `json:"outputSchema"`
	Rules        []string                `json:"rules"`
	Candidates   []Candidate             `json:"candidates"`
}

// BuildPrompt renders the system instruction and the structured user instruction for a pool.
func BuildPrompt(pool []Candidate) (system, user string, err error) {
	payload := promptPayload{
		Task: taskPrompt,
		OutputSchema: map[string][]pickSchema{
			"picks": {{
				ID:        "candidate id, copied exactly",
				MediaType: "movie | tv, copied exactly",
				Reason:    "short justification",
			}},
		},
		Rules: []string{
			"Use only ids and mediaTypes that appear in candidates.",
			"Return at most 3 picks, best first.",
			"isWatched=true means the user already logged the title.",
		},
		Candidates: pool,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("encoding prompt: %w", err)
	}
	return systemPrompt, string(data), nil
}
