package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/threadstat/internal/insight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSaver struct {
	runIDs []string
	saved  [][]insight.Record
	err    error
}

func (r *recordingSaver) SaveInsights(_ context.Context, runID string, records []insight.Record) error {
	if r.err != nil {
		return r.err
	}
	r.runIDs = append(r.runIDs, runID)
	r.saved = append(r.saved, records)
	return nil
}

func TestStoreSink_SavesOnlyNewRecords(t *testing.T) {
	saver := &recordingSaver{}
	s := NewStoreSink(saver)
	ctx := WithRunID(context.Background(), "run-1")
	require.NoError(t, s.Prepare(ctx))

	records := testRecords(12)
	require.NoError(t, s.Commit(ctx, insight.Batch{Records: records[:10], Processed: 10, Total: 12}))
	require.NoError(t, s.Commit(ctx, insight.Batch{Records: records, Processed: 12, Total: 12}))

	require.Len(t, saver.saved, 2)
	assert.Len(t, saver.saved[0], 10)
	assert.Len(t, saver.saved[1], 2)
	assert.Equal(t, "p11", saver.saved[1][0].ID)
	assert.Equal(t, []string{"run-1", "run-1"}, saver.runIDs)
}

func TestStoreSink_RetriesAfterError(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	s := NewStoreSink(saver)
	ctx := context.Background()
	records := testRecords(3)

	assert.Error(t, s.Commit(ctx, insight.Batch{Records: records[:2], Processed: 2, Total: 3}))

	saver.err = nil
	require.NoError(t, s.Commit(ctx, insight.Batch{Records: records, Processed: 3, Total: 3}))
	require.Len(t, saver.saved, 1)
	assert.Len(t, saver.saved[0], 3)
	assert.Equal(t, "", saver.runIDs[0])
}
