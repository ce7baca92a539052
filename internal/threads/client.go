// Package threads is a client for the Threads Graph API: paginated post
// listing and per-post insights.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL   = "https://graph.threads.net/v1.0"
	defaultTimeout   = 30 * time.Second
	defaultPageDelay = 500 * time.Millisecond
	postFields       = "id,media_type,media_url,permalink,timestamp,text"
	timestampLayout  = "2006-01-02T15:04:05-0700"
	maxErrorBody     = 2048
)

// HTTPClient is the subset of *http.Client the client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the API root, e.g. for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithPageDelay sets the pause between page requests.
func WithPageDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pageDelay = d
	}
}

// WithLogger sets the logger used for skipped posts and page progress.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// Client talks to the Threads API on behalf of one access token.
type Client struct {
	token      string
	baseURL    string
	httpClient HTTPClient
	pageDelay  time.Duration
	log        logrus.FieldLogger
	wait       func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the given access token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      strings.TrimSpace(token),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		pageDelay:  defaultPageDelay,
		wait:       sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Or(c.log)
	return c
}

// FetchAll walks every page of the user's posts within q, dropping reposts
// and, when q.After is set, anything not strictly newer than it. A post
// repeated on a later page is kept once.
//
// The returned result is never nil. When a page request fails the posts
// gathered so far are returned together with the error.
func (c *Client) FetchAll(ctx context.Context, q Query) (*FetchResult, error) {
	var posts []Post
	if c.token == "" {
		return buildResult(posts), ErrAuthMissing
	}
	seen := make(map[string]struct{})

	next := c.postsURL(q)
	page := 0
	var fetchErr error

	for next != "" {
		page++
		var resp threadsResponse
		if err := c.getJSON(ctx, next, &resp); err != nil {
			fetchErr = fmt.Errorf("fetch page %d: %w", page, err)
			break
		}

		kept, dropped, dupes := 0, 0, 0
		for _, raw := range resp.Data {
			if raw.MediaType == MediaTypeRepostFacade {
				continue
			}
			post := toPost(raw)
			if !q.After.IsZero() && !post.Timestamp.After(q.After) {
				c.log.WithFields(logrus.Fields{
					"post_id":   post.ID,
					"timestamp": post.RawTimestamp,
				}).Debug("skip post at or before watermark")
				dropped++
				continue
			}
			if _, ok := seen[post.ID]; ok {
				dupes++
				continue
			}
			seen[post.ID] = struct{}{}
			posts = append(posts, post)
			kept++
		}
		entry := c.log.WithFields(logrus.Fields{"page": page, "kept": kept})
		if dropped > 0 {
			entry = entry.WithField("dropped", dropped)
		}
		if dupes > 0 {
			entry = entry.WithField("duplicates", dupes)
		}
		entry.Info("fetched posts page")

		next = resp.Paging.Next
		if next == "" {
			break
		}
		if err := c.wait(ctx, c.pageDelay); err != nil {
			fetchErr = err
			break
		}
	}

	return buildResult(posts), fetchErr
}

// FetchInsights returns the metrics for one post. A metric listed without a
// value reports 0.
func (c *Client) FetchInsights(ctx context.Context, postID string) (Stats, error) {
	if c.token == "" {
		return nil, ErrAuthMissing
	}

	params := url.Values{}
	params.Set("metric", strings.Join(Metrics, ","))
	params.Set("access_token", c.token)
	endpoint := fmt.Sprintf("%s/%s/insights?%s", c.baseURL, url.PathEscape(postID), params.Encode())

	var resp insightsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch insights for %s: %w", postID, err)
	}

	stats := make(Stats, len(resp.Data))
	for _, m := range resp.Data {
		var value int64
		switch {
		case len(m.Values) > 0 && m.Values[0].Value != nil:
			value = *m.Values[0].Value
		case m.TotalValue != nil && m.TotalValue.Value != nil:
			value = *m.TotalValue.Value
		}
		stats[m.Name] = value
	}
	return stats, nil
}

func (c *Client) postsURL(q Query) string {
	params := url.Values{}
	params.Set("fields", postFields)
	if q.Since != "" {
		params.Set("since", q.Since)
	}
	if q.Until != "" {
		params.Set("until", q.Until)
	}
	params.Set("access_token", c.token)
	return fmt.Sprintf("%s/me/threads?%s", c.baseURL, params.Encode())
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toPost(raw threadsPost) Post {
	return Post{
		ID:           raw.ID,
		MediaType:    raw.MediaType,
		MediaURL:     raw.MediaURL,
		Permalink:    raw.Permalink,
		Text:         raw.Text,
		Timestamp:    ParseTimestamp(raw.Timestamp),
		RawTimestamp: raw.Timestamp,
	}
}

// ParseTimestamp parses an API timestamp such as "2024-05-01T08:30:00+0000".
// Unparseable input yields the zero time.
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(timestampLayout, value); err == nil {
		return ts.UTC()
	}
	if ts, err := dateparse.ParseIn(value, time.UTC); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}

func buildResult(posts []Post) *FetchResult {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Timestamp.After(posts[j].Timestamp)
	})
	permalinks := make(map[string]string, len(posts))
	for _, p := range posts {
		permalinks[p.ID] = p.Permalink
	}
	if posts == nil {
		posts = []Post{}
	}
	return &FetchResult{
		Posts:      posts,
		Permalinks: permalinks,
		TotalCount: len(posts),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
