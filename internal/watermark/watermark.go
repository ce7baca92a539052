// Package watermark decides which date window a sync covers, resuming from
// the previous successful run when no window is given.
package watermark

import (
	"context"
	"time"

	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/sirupsen/logrus"
)

// DateLayout is the date-only form the Threads API accepts for since/until.
const DateLayout = "2006-01-02"

// Source reports when the last successful run started. ok is false when
// there has been no such run.
type Source interface {
	LastRunTime(ctx context.Context) (t time.Time, ok bool, err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (time.Time, bool, error)

func (f SourceFunc) LastRunTime(ctx context.Context) (time.Time, bool, error) {
	return f(ctx)
}

// Recorder persists the start time of a successful run so the next one can
// resume from it.
type Recorder interface {
	RecordRun(ctx context.Context, startedAt time.Time) error
}

// Window is the resolved fetch range.
type Window struct {
	Since string
	Until string

	// Watermark is the exact last-run instant. Zero unless the window was
	// derived from a previous run; posts at or before it are already synced.
	Watermark time.Time

	// NoNewData is set when since and until are identical, meaning there is
	// nothing to fetch.
	NoNewData bool
}

// Unbounded reports whether the window has no lower bound.
func (w Window) Unbounded() bool {
	return w.Since == "" && w.Watermark.IsZero()
}

type Option func(*Resolver)

// WithClock overrides the time source used for "today".
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = l
	}
}

// Resolver turns optional explicit bounds into a Window.
type Resolver struct {
	source Source
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewResolver creates a resolver. source may be nil, in which case runs
// without explicit bounds are unbounded.
func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{source: source, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.Or(r.log)
	return r
}

// Resolve returns the window for explicit since/until values. When both are
// empty the previous run's start time becomes the lower bound and today
// (UTC) the upper one. A failed lookup degrades to an unbounded window.
func (r *Resolver) Resolve(ctx context.Context, since, until string) Window {
	if since != "" || until != "" {
		w := Window{Since: since, Until: until}
		w.NoNewData = since != "" && since == until
		return w
	}

	if r.source == nil {
		r.log.Info("no watermark source configured, fetching all posts")
		return Window{}
	}

	last, ok, err := r.source.LastRunTime(ctx)
	if err != nil {
		r.log.WithError(err).Warn("look up last run time, fetching all posts")
		return Window{}
	}
	if !ok || last.IsZero() {
		r.log.Info("no previous run found, fetching all posts")
		return Window{}
	}

	// A same-day rerun keeps since == until after truncation. It still
	// fetches; the exact watermark filters out what was already synced.
	last = last.UTC()
	w := Window{
		Since:     last.Format(DateLayout),
		Until:     r.now().UTC().Format(DateLayout),
		Watermark: last,
	}
	r.log.WithFields(logrus.Fields{
		"last_run": last.Format(time.RFC3339),
		"since":    w.Since,
		"until":    w.Until,
	}).Info("resuming from last run")
	return w
}
