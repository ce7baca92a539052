// Package sink writes enriched insights to their destinations: Google
// Sheets, JSON and CSV documents, and the local database.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/threadstat/internal/insight"
)

var (
	// ErrUnavailable means a sink is not configured or its credentials are missing.
	ErrUnavailable = errors.New("sink unavailable")
	// ErrTargetNotFound means the configured destination does not exist.
	ErrTargetNotFound = errors.New("sink target not found")
)

// Sink receives the complete record set once enrichment has finished.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []insight.Record, generatedAt time.Time) error
}

// BatchSink receives records incrementally while enrichment runs. Prepare is
// called once before fetching starts; an error aborts the run.
type BatchSink interface {
	Name() string
	Prepare(ctx context.Context) error
	Commit(ctx context.Context, batch insight.Batch) error
}

// Checker is implemented by sinks that know before a run whether they can
// be used at all.
type Checker interface {
	Check() error
}

// Unavailable stands in for a configured sink that could not be built, so
// the failure surfaces in run order instead of at startup.
func Unavailable(name string, err error) BatchSink {
	if !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return unavailableSink{name: name, err: err}
}

type unavailableSink struct {
	name string
	err  error
}

func (s unavailableSink) Name() string { return s.name }

func (s unavailableSink) Check() error { return s.err }

func (s unavailableSink) Prepare(context.Context) error { return s.err }

func (s unavailableSink) Commit(context.Context, insight.Batch) error { return s.err }

type runIDKey struct{}

// WithRunID attaches the current run id for sinks that record it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id attached by WithRunID, if any.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Row is the flat form of a record shared by the document sinks. Missing
// metrics are 0.
type Row struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
	Text      string `json:"text"`
	Views     int64  `json:"views"`
	Likes     int64  `json:"likes"`
	Replies   int64  `json:"replies"`
	Reposts   int64  `json:"reposts"`
	Quotes    int64  `json:"quotes"`
	Shares    int64  `json:"shares"`
}

func toRow(r insight.Record) Row {
	return Row{
		ID:        r.ID,
		Permalink: r.Permalink,
		Text:      r.Text,
		Views:     r.Metric("views"),
		Likes:     r.Metric("likes"),
		Replies:   r.Metric("replies"),
		Reposts:   r.Metric("reposts"),
		Quotes:    r.Metric("quotes"),
		Shares:    r.Metric("shares"),
	}
}

// metricValues returns the metrics in column order.
func (r Row) metricValues() []int64 {
	return []int64{r.Views, r.Likes, r.Replies, r.Reposts, r.Quotes, r.Shares}
}
