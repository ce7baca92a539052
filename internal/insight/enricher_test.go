package insight

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ppiankov/threadstat/internal/privacy"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls []string
	fail  map[string]error
}

func (f *fakeFetcher) FetchInsights(_ context.Context, id string) (threads.Stats, error) {
	f.calls = append(f.calls, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return threads.Stats{"views": int64(len(f.calls) * 100), "likes": 1}, nil
}

func makeResult(n int) *threads.FetchResult {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	res := &threads.FetchResult{Permalinks: map[string]string{}}
	for i := n; i >= 1; i-- {
		id := fmt.Sprintf("p%d", i)
		res.Posts = append(res.Posts, threads.Post{
			ID:        id,
			Permalink: "https://threads.test/" + id,
			Text:      fmt.Sprintf("headline %d\nbody", i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		res.Permalinks[id] = "https://threads.test/" + id
	}
	res.TotalCount = n
	return res
}

func newTestEnricher(f Fetcher, opts ...Option) (*Enricher, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	opts = append([]Option{WithDelay(0), WithLogger(logger)}, opts...)
	return NewEnricher(f, opts...), hook
}

func TestEnrichAll_EmptyMakesNoCalls(t *testing.T) {
	f := &fakeFetcher{}
	e, _ := newTestEnricher(f)

	called := false
	out, err := e.EnrichAll(context.Background(), makeResult(0), func(context.Context, Batch) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Empty(t, f.calls)
	assert.False(t, called)

	out, err = e.EnrichAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

// TestEnrichAll_BatchBoundaries documents the callback cadence: every ten
// records plus one final call carrying the full count.
func TestEnrichAll_BatchBoundaries(t *testing.T) {
	f := &fakeFetcher{}
	e, _ := newTestEnricher(f)

	var seen []Batch
	out, err := e.EnrichAll(context.Background(), makeResult(25), func(_ context.Context, b Batch) error {
		seen = append(seen, b)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, []int{10, 20, 25}, []int{seen[0].Processed, seen[1].Processed, seen[2].Processed})
	for _, b := range seen {
		assert.Equal(t, 25, b.Total)
		assert.Len(t, b.Records, b.Processed)
	}
	assert.False(t, seen[1].Final())
	assert.True(t, seen[2].Final())
	assert.Equal(t, seen[2].Records, out.Records)
	assert.Len(t, f.calls, 25)
}

func TestEnrichAll_CallbackCount(t *testing.T) {
	for _, n := range []int{1, 9, 10, 11, 30, 31} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			e, _ := newTestEnricher(&fakeFetcher{})
			count := 0
			last := 0
			_, err := e.EnrichAll(context.Background(), makeResult(n), func(_ context.Context, b Batch) error {
				count++
				last = b.Processed
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, (n+9)/10, count)
			assert.Equal(t, n, last)
		})
	}
}

func TestEnrichAll_CustomBatchSize(t *testing.T) {
	e, _ := newTestEnricher(&fakeFetcher{}, WithBatchSize(3), WithBatchSize(0))
	var processed []int
	_, err := e.EnrichAll(context.Background(), makeResult(7), func(_ context.Context, b Batch) error {
		processed = append(processed, b.Processed)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 6, 7}, processed)
}

// TestEnrichAll_FailedLookupKeepsRecord documents that one failing metrics
// call leaves a record with nil stats in its original position.
func TestEnrichAll_FailedLookupKeepsRecord(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"p3": &threads.APIError{StatusCode: 500, Body: "oops"}}}
	e, hook := newTestEnricher(f)

	out, err := e.EnrichAll(context.Background(), makeResult(5), nil)
	require.NoError(t, err)

	require.Equal(t, 5, out.Len())
	assert.Equal(t, 1, out.Failed())
	ids := make([]string, 0, out.Len())
	for _, r := range out.Records {
		ids = append(ids, r.ID)
		if r.ID == "p3" {
			assert.Nil(t, r.Stats)
			assert.Zero(t, r.Metric("views"))
		} else {
			assert.NotNil(t, r.Stats)
		}
	}
	assert.Equal(t, []string{"p5", "p4", "p3", "p2", "p1"}, ids)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["post_id"] == "p3" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestEnrichAll_RecordFields(t *testing.T) {
	res := makeResult(1)
	res.Permalinks["p1"] = "https://threads.test/canonical"
	e, _ := newTestEnricher(&fakeFetcher{})

	out, err := e.EnrichAll(context.Background(), res, nil)
	require.NoError(t, err)

	r := out.Records[0]
	assert.Equal(t, "p1", r.ID)
	assert.Equal(t, "https://threads.test/canonical", r.Permalink)
	assert.Equal(t, "headline 1", r.Text)
	assert.Equal(t, res.Posts[0].Timestamp, r.PostedAt)
	assert.Equal(t, int64(100), r.Metric("views"))
}

func TestEnrichAll_CallbackErrorDoesNotStop(t *testing.T) {
	f := &fakeFetcher{}
	e, hook := newTestEnricher(f)

	calls := 0
	out, err := e.EnrichAll(context.Background(), makeResult(15), func(context.Context, Batch) error {
		calls++
		return errors.New("sheet offline")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 15, out.Len())

	errorsLogged := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 2, errorsLogged)
}

func TestEnrichAll_Redaction(t *testing.T) {
	res := makeResult(1)
	res.Posts[0].Text = "call me at 0912-345-678\nrest"
	r, err := privacy.New([]string{`\d{4}-\d{3}-\d{3}`})
	require.NoError(t, err)

	e, _ := newTestEnricher(&fakeFetcher{}, WithRedactor(r))
	out, err := e.EnrichAll(context.Background(), res, nil)
	require.NoError(t, err)
	assert.Equal(t, "call me at [REDACTED]", out.Records[0].Text)
}

func TestEnrichAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{}
	e, _ := newTestEnricher(f)

	out, err := e.EnrichAll(ctx, makeResult(12), func(context.Context, Batch) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, out.Len())
	assert.Len(t, f.calls, 10)
}

func TestEnrichAll_PausesBetweenLookups(t *testing.T) {
	f := &fakeFetcher{}
	logger, _ := logtest.NewNullLogger()
	e := NewEnricher(f, WithLogger(logger))

	var waitedAfter []int
	e.wait = func(_ context.Context, d time.Duration) error {
		assert.Equal(t, DefaultDelay, d)
		waitedAfter = append(waitedAfter, len(f.calls))
		return nil
	}

	out, err := e.EnrichAll(context.Background(), makeResult(4), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Len())
	assert.Equal(t, []int{1, 2, 3}, waitedAfter)

	waitedAfter = nil
	_, err = e.EnrichAll(context.Background(), makeResult(1), nil)
	require.NoError(t, err)
	assert.Empty(t, waitedAfter)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", FirstLine("first\nsecond\nthird"))
	assert.Equal(t, "only", FirstLine("only"))
	assert.Equal(t, "", FirstLine(""))
	assert.Equal(t, "", FirstLine("\nleading newline"))
}
