package threads

import (
	"errors"
	"fmt"
	"time"
)

// MediaTypeRepostFacade marks a repost of someone else's post. Reposts carry
// no insights of their own and are never returned by FetchAll.
const MediaTypeRepostFacade = "REPOST_FACADE"

// Metrics are the per-post insight names requested from the API, in output order.
var Metrics = []string{"views", "likes", "replies", "reposts", "quotes", "shares"}

// ErrAuthMissing is returned when the client has no access token.
var ErrAuthMissing = errors.New("threads access token is missing")

// APIError is a non-2xx response from the Threads API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("threads api request failed: status %d: %s", e.StatusCode, e.Body)
}

// Post is one of the authenticated user's posts.
type Post struct {
	ID           string
	MediaType    string
	MediaURL     string
	Permalink    string
	Text         string
	Timestamp    time.Time
	RawTimestamp string
}

// Stats maps metric name to value. A nil Stats means the insights call failed.
type Stats map[string]int64

// Query bounds a fetch. Since and Until are passed to the API as-is; After,
// when set, drops every post at or before that instant.
type Query struct {
	Since string
	Until string
	After time.Time
}

// FetchResult holds the filtered posts, newest first.
type FetchResult struct {
	Posts      []Post
	Permalinks map[string]string
	TotalCount int
}

type threadsResponse struct {
	Data   []threadsPost `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type threadsPost struct {
	ID        string `json:"id"`
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value *int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value *int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}
