package sink

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/threadstat/internal/insight"
)

var csvHeader = []string{"id", "permalink", "text", "views", "likes", "replies", "reposts", "quotes", "shares"}

// CSVSink renders records as CSV. The text column is always quoted.
type CSVSink struct {
	out Output
}

func NewCSVSink(out Output) *CSVSink {
	return &CSVSink{out: out}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(ctx context.Context, records []insight.Record, _ time.Time) error {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteByte('\n')

	for _, r := range records {
		row := toRow(r)
		fields := []string{csvField(row.ID), csvField(row.Permalink), quoteCSV(row.Text)}
		for _, v := range row.metricValues() {
			fields = append(fields, strconv.FormatInt(v, 10))
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteByte('\n')
	}
	return s.out.Put(ctx, []byte(b.String()), "text/csv")
}

func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// csvField quotes only when the value would otherwise break the row.
func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quoteCSV(s)
	}
	return s
}
