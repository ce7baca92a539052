package sink

import (
	"context"

	"github.com/ppiankov/threadstat/internal/insight"
)

// InsightSaver is implemented by *store.Store.
type InsightSaver interface {
	SaveInsights(ctx context.Context, runID string, records []insight.Record) error
}

// StoreSink upserts each batch into the local database.
type StoreSink struct {
	saver   InsightSaver
	written int
}

func NewStoreSink(saver InsightSaver) *StoreSink {
	return &StoreSink{saver: saver}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Prepare(context.Context) error {
	s.written = 0
	return nil
}

func (s *StoreSink) Commit(ctx context.Context, batch insight.Batch) error {
	if s.written >= len(batch.Records) {
		return nil
	}
	if err := s.saver.SaveInsights(ctx, RunIDFrom(ctx), batch.Records[s.written:]); err != nil {
		return err
	}
	s.written = len(batch.Records)
	return nil
}
