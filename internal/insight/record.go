package insight

import (
	"strings"
	"time"

	"github.com/ppiankov/threadstat/internal/threads"
)

// Record is a post joined with its metrics.
type Record struct {
	ID        string
	Permalink string
	Text      string
	PostedAt  time.Time

	// Stats is nil when the metrics could not be fetched.
	Stats threads.Stats
}

// Metric returns the named metric, or 0 when it is absent.
func (r Record) Metric(name string) int64 {
	return r.Stats[name]
}

// Batch is handed to the batch callback. Records holds everything enriched so
// far in result order, not only the latest slice.
type Batch struct {
	Records   []Record
	Processed int
	Total     int
}

// Final reports whether this is the last batch of the run.
func (b Batch) Final() bool {
	return b.Processed >= b.Total
}

// Insights is the ordered outcome of one enrichment pass.
type Insights struct {
	Records []Record
}

// Len returns the number of records.
func (in *Insights) Len() int {
	if in == nil {
		return 0
	}
	return len(in.Records)
}

// Failed counts records whose metrics could not be fetched.
func (in *Insights) Failed() int {
	if in == nil {
		return 0
	}
	n := 0
	for _, r := range in.Records {
		if r.Stats == nil {
			n++
		}
	}
	return n
}

// FirstLine returns text up to the first newline.
func FirstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
