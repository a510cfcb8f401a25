package tmdb

const (
	MediaTypeMovie = "movie"
	MediaTypeTV    = "tv"
)

// ErrorResponse is the body TMDB returns alongside non-2xx statuses.
type ErrorResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Success       bool   `json:"success"`
}
