// Package pipeline runs one sync: resolve the window, fetch posts, enrich
// them and hand the results to every configured sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/sink"
	"github.com/ppiankov/threadstat/internal/store"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/ppiankov/threadstat/internal/token"
	"github.com/ppiankov/threadstat/internal/watermark"
	"github.com/sirupsen/logrus"
)

// ErrAuthMissing is returned when no access token is configured. It is an
// expected state for a fresh install, not a failure.
var ErrAuthMissing = errors.New("threads access token is not configured")

type Status string

const (
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusNoNewData   Status = "no_new_data"
	StatusNoPosts     Status = "no_posts"
	StatusAuthMissing Status = "auth_missing"
	StatusFailed      Status = "failed"
)

// Client is what a sync needs from the Threads API.
type Client interface {
	FetchAll(ctx context.Context, q threads.Query) (*threads.FetchResult, error)
	insight.Fetcher
}

// ClientFactory builds a client once the token is known.
type ClientFactory func(accessToken string) Client

// RunLog records run history; *store.Store implements it.
type RunLog interface {
	StartRun(ctx context.Context, startedAt time.Time, since, until string) (store.Run, error)
	FinishRun(ctx context.Context, id string, res store.RunResult) error
}

// Deps are the collaborators of a Syncer. Tokens and NewClient are required.
type Deps struct {
	Tokens     token.Provider
	NewClient  ClientFactory
	Resolver   *watermark.Resolver
	Runs       RunLog
	Recorders  []watermark.Recorder
	BatchSinks []sink.BatchSink
	Sinks      []sink.Sink
	EnrichOpts []insight.Option
	Now        func() time.Time
	Log        logrus.FieldLogger
}

// Options are per-run inputs. Empty bounds resume from the last run.
type Options struct {
	Since string
	Until string
}

// Report summarizes a run.
type Report struct {
	RunID      string           `json:"run_id,omitempty"`
	Status     Status           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	Window     watermark.Window `json:"-"`
	Since      string           `json:"since,omitempty"`
	Until      string           `json:"until,omitempty"`
	Fetched    int              `json:"fetched"`
	Enriched   int              `json:"enriched"`
	Failed     int              `json:"failed"`
	FetchError string           `json:"fetch_error,omitempty"`
	SinkErrors []string         `json:"sink_errors,omitempty"`
}

type Syncer struct {
	deps Deps
	log  logrus.FieldLogger
}

func New(deps Deps) (*Syncer, error) {
	if deps.Tokens == nil {
		return nil, errors.New("token provider is required")
	}
	if deps.NewClient == nil {
		return nil, errors.New("client factory is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := logging.Or(deps.Log)
	if deps.Resolver == nil {
		deps.Resolver = watermark.NewResolver(nil, watermark.WithLogger(log))
	}
	return &Syncer{deps: deps, log: log}, nil
}

// Run performs one sync. Per-page and per-post API failures degrade the
// result instead of failing it; only a missing token, an unusable sink or a
// failed write returns an error.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	startedAt := s.deps.Now()
	report := &Report{StartedAt: startedAt}

	accessToken, err := s.deps.Tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			report.Status = StatusAuthMissing
			return report, ErrAuthMissing
		}
		report.Status = StatusFailed
		return report, fmt.Errorf("resolve token: %w", err)
	}

	if len(s.deps.BatchSinks)+len(s.deps.Sinks) == 0 {
		report.Status = StatusFailed
		return report, fmt.Errorf("%w: no sink configured", sink.ErrUnavailable)
	}
	if err := s.checkSinks(); err != nil {
		report.Status = StatusFailed
		return report, err
	}

	window := s.deps.Resolver.Resolve(ctx, opts.Since, opts.Until)
	report.Window = window
	report.Since, report.Until = window.Since, window.Until
	log := s.log.WithFields(logrus.Fields{"since": window.Since, "until": window.Until})

	if window.NoNewData {
		log.Info("since equals until, nothing new to sync")
		report.Status = StatusNoNewData
		return report, nil
	}

	if window.Unbounded() {
		log.Info("no watermark, fetching full history")
	}

	if s.deps.Runs != nil {
		run, err := s.deps.Runs.StartRun(ctx, startedAt, window.Since, window.Until)
		if err != nil {
			report.Status = StatusFailed
			return report, fmt.Errorf("start run: %w", err)
		}
		report.RunID = run.ID
		log = log.WithField("run_id", run.ID)
	}
	ctx = sink.WithRunID(ctx, report.RunID)

	for _, bs := range s.deps.BatchSinks {
		if err := bs.Prepare(ctx); err != nil {
			err = fmt.Errorf("prepare %s sink: %w", bs.Name(), err)
			return s.fail(ctx, report, err)
		}
	}

	client := s.deps.NewClient(accessToken)
	res, fetchErr := client.FetchAll(ctx, threads.Query{
		Since: window.Since,
		Until: window.Until,
		After: window.Watermark,
	})
	if fetchErr != nil {
		if ctx.Err() != nil {
			return s.fail(ctx, report, fetchErr)
		}
		log.WithError(fetchErr).Warn("fetch stopped early, continuing with posts received so far")
		report.FetchError = fetchErr.Error()
	}
	report.Fetched = res.TotalCount
	log.WithField("posts", res.TotalCount).Info("fetched posts")

	if res.TotalCount == 0 {
		log.Info("no new posts")
		report.Status = StatusNoPosts
		s.finish(ctx, report, fetchErr)
		return report, nil
	}

	var batchErrs []error
	onBatch := func(ctx context.Context, b insight.Batch) error {
		var errs []error
		for _, bs := range s.deps.BatchSinks {
			if err := bs.Commit(ctx, b); err != nil {
				errs = append(errs, fmt.Errorf("%s sink: %w", bs.Name(), err))
			}
		}
		batchErrs = append(batchErrs, errs...)
		return errors.Join(errs...)
	}

	enrichOpts := append([]insight.Option{insight.WithLogger(log)}, s.deps.EnrichOpts...)
	enricher := insight.NewEnricher(client, enrichOpts...)
	results, err := enricher.EnrichAll(ctx, res, onBatch)
	report.Enriched = results.Len()
	report.Failed = results.Failed()
	if err != nil {
		return s.fail(ctx, report, fmt.Errorf("enrich: %w", err))
	}

	generatedAt := s.deps.Now()
	sinkErrs := batchErrs
	for _, sk := range s.deps.Sinks {
		if err := sk.Write(ctx, results.Records, generatedAt); err != nil {
			log.WithError(err).WithField("sink", sk.Name()).Error("write sink")
			sinkErrs = append(sinkErrs, fmt.Errorf("%s sink: %w", sk.Name(), err))
			continue
		}
		log.WithField("sink", sk.Name()).Info("sink written")
	}
	for _, e := range sinkErrs {
		report.SinkErrors = append(report.SinkErrors, e.Error())
	}
	if len(sinkErrs) > 0 {
		return s.fail(ctx, report, fmt.Errorf("write sinks: %w", errors.Join(sinkErrs...)))
	}

	report.Status = StatusCompleted
	s.finish(ctx, report, fetchErr)
	log.WithFields(logrus.Fields{
		"enriched": report.Enriched,
		"failed":   report.Failed,
	}).Info("sync finished")
	return report, nil
}

func (s *Syncer) checkSinks() error {
	named := make([]interface{ Name() string }, 0, len(s.deps.BatchSinks)+len(s.deps.Sinks))
	for _, bs := range s.deps.BatchSinks {
		named = append(named, bs)
	}
	for _, sk := range s.deps.Sinks {
		named = append(named, sk)
	}
	for _, n := range named {
		c, ok := n.(sink.Checker)
		if !ok {
			continue
		}
		if err := c.Check(); err != nil {
			return fmt.Errorf("%s sink: %w", n.Name(), err)
		}
	}
	return nil
}

// finish closes a run that produced output. A fetch that stopped early keeps
// the previous watermark so the missing pages are retried next time.
func (s *Syncer) finish(ctx context.Context, report *Report, fetchErr error) {
	if fetchErr != nil {
		report.Status = StatusPartial
		s.closeRun(ctx, report, store.RunFailed, fetchErr)
		return
	}
	s.closeRun(ctx, report, store.RunSucceeded, nil)

	for _, rec := range s.deps.Recorders {
		if err := rec.RecordRun(ctx, report.StartedAt); err != nil {
			s.log.WithError(err).Warn("record last run time")
		}
	}
}

func (s *Syncer) fail(ctx context.Context, report *Report, err error) (*Report, error) {
	report.Status = StatusFailed
	s.closeRun(context.WithoutCancel(ctx), report, store.RunFailed, err)
	return report, err
}

func (s *Syncer) closeRun(ctx context.Context, report *Report, status store.RunStatus, runErr error) {
	if s.deps.Runs == nil || report.RunID == "" {
		return
	}
	err := s.deps.Runs.FinishRun(ctx, report.RunID, store.RunResult{
		Status:     status,
		Posts:      report.Fetched,
		Enriched:   report.Enriched,
		Failed:     report.Failed,
		Err:        runErr,
		FinishedAt: s.deps.Now(),
	})
	if err != nil {
		s.log.WithError(err).WithField("run_id", report.RunID).Warn("finish run")
	}
}
