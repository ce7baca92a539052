// Package insight enriches fetched posts with their engagement metrics and
// reports progress in fixed-size batches.
package insight

import (
	"context"
	"time"

	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/privacy"
	"github.com/ppiankov/threadstat/internal/threads"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize = 10
	DefaultDelay     = 500 * time.Millisecond
)

// Fetcher loads metrics for one post.
type Fetcher interface {
	FetchInsights(ctx context.Context, postID string) (threads.Stats, error)
}

// BatchFunc is called synchronously after every batch. An error is logged
// and does not stop enrichment.
type BatchFunc func(ctx context.Context, batch Batch) error

type Option func(*Enricher)

func WithBatchSize(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDelay sets the pause between metric requests.
func WithDelay(d time.Duration) Option {
	return func(e *Enricher) {
		e.delay = d
	}
}

// WithRedactor masks sensitive text in the stored first line.
func WithRedactor(r *privacy.Redactor) Option {
	return func(e *Enricher) {
		e.redact = r
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Enricher) {
		e.log = l
	}
}

// Enricher fetches metrics post by post.
type Enricher struct {
	fetcher   Fetcher
	batchSize int
	delay     time.Duration
	redact    *privacy.Redactor
	log       logrus.FieldLogger
	wait      func(ctx context.Context, d time.Duration) error
}

func NewEnricher(fetcher Fetcher, opts ...Option) *Enricher {
	e := &Enricher{
		fetcher:   fetcher,
		batchSize: DefaultBatchSize,
		delay:     DefaultDelay,
		wait:      sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.Or(e.log)
	return e
}

// EnrichAll fetches metrics for every post in res, in result order. A failed
// lookup yields a record with nil Stats. onBatch may be nil.
//
// The error is non-nil only when ctx is cancelled; the records enriched
// before that point are still returned.
func (e *Enricher) EnrichAll(ctx context.Context, res *threads.FetchResult, onBatch BatchFunc) (*Insights, error) {
	out := &Insights{Records: []Record{}}
	if res == nil || len(res.Posts) == 0 {
		return out, nil
	}

	total := len(res.Posts)
	out.Records = make([]Record, 0, total)

	for i, post := range res.Posts {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		stats, err := e.fetcher.FetchInsights(ctx, post.ID)
		if err != nil {
			e.log.WithError(err).WithField("post_id", post.ID).Warn("fetch insights failed")
			stats = nil
		}

		text := e.redact.Apply(FirstLine(post.Text))
		permalink, ok := res.Permalinks[post.ID]
		if !ok {
			permalink = post.Permalink
		}
		out.Records = append(out.Records, Record{
			ID:        post.ID,
			Permalink: permalink,
			Text:      text,
			PostedAt:  post.Timestamp,
			Stats:     stats,
		})

		processed := i + 1
		if processed%e.batchSize == 0 || processed == total {
			e.log.WithFields(logrus.Fields{"processed": processed, "total": total}).Info("insights batch ready")
			if onBatch != nil {
				batch := Batch{Records: out.Records[:processed:processed], Processed: processed, Total: total}
				if err := onBatch(ctx, batch); err != nil {
					e.log.WithError(err).WithField("processed", processed).Error("batch callback failed")
				}
			}
		}

		if processed < total {
			if err := e.wait(ctx, e.delay); err != nil {
				return out, err
			}
		}
	}

	return out, nil
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
